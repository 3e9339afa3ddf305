package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/dvail/porterd/internal/agent"
	"github.com/dvail/porterd/internal/gitutil"
	"github.com/dvail/porterd/internal/job"
	"github.com/dvail/porterd/internal/observability"
	"github.com/dvail/porterd/internal/session"
	"github.com/dvail/porterd/internal/stream"
)

// TurnPhase selects which agent drives a turn.
type TurnPhase string

const (
	TurnPlan    TurnPhase = "plan"
	TurnExecute TurnPhase = "execute"
)

// Result is the plain outcome handed back to HTTP handlers.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Options tunes streaming and timeout behavior.
type Options struct {
	TextFlushInterval  time.Duration
	LogPreviewInterval time.Duration
	CloneTimeout       time.Duration
	// TurnTimeout caps a single agent turn; 0 leaves the turn unbounded.
	TurnTimeout time.Duration
}

// Orchestrator is the only writer of job status. It drives clone, plan,
// execute and chat turns end to end, translating raw agent output into
// stream events and persisted job fields.
type Orchestrator struct {
	store    job.Store
	sessions *session.Manager
	streams  *stream.Broadcaster
	cloner   gitutil.Cloner
	metrics  *observability.Metrics
	opts     Options

	mu          sync.Mutex
	activeTurns map[string]bool
}

func New(store job.Store, sessions *session.Manager, streams *stream.Broadcaster, cloner gitutil.Cloner, metrics *observability.Metrics, opts Options) *Orchestrator {
	if opts.TextFlushInterval <= 0 {
		opts.TextFlushInterval = 150 * time.Millisecond
	}
	if opts.LogPreviewInterval <= 0 {
		opts.LogPreviewInterval = 2 * time.Second
	}
	return &Orchestrator{
		store:       store,
		sessions:    sessions,
		streams:     streams,
		cloner:      cloner,
		metrics:     metrics,
		opts:        opts,
		activeTurns: make(map[string]bool),
	}
}

// CloneRepository shallow-clones the job's repository into its working
// directory. On success the job is left in status "cloning"; the caller is
// responsible for starting the planning turn. This operation touches neither
// the session manager nor the broadcaster.
func (o *Orchestrator) CloneRepository(ctx context.Context, jobID string) Result {
	j, err := o.store.GetByID(ctx, jobID)
	if err != nil {
		return failure("job not found")
	}
	if j.Status.Terminal() {
		return failure("job already %s", j.Status)
	}
	if j.Status.InProgress() {
		return failure("job already in progress")
	}
	if strings.TrimSpace(j.Config.RepoURL) == "" {
		return failure("job has no repository URL")
	}
	if strings.TrimSpace(j.RepoPath) == "" {
		return failure("job repo path not set")
	}

	if err := o.setState(ctx, jobID, job.StatusCloning, nil); err != nil {
		return failure("update job: %v", err)
	}
	o.appendLog(ctx, jobID, job.PhaseNone, job.LogInfo, fmt.Sprintf("Cloning repository: %s", j.Config.RepoURL))

	cloneURL, err := gitutil.AuthenticatedURL(j.Config.RepoURL, j.Config.GitHubToken)
	if err != nil {
		return o.failClone(ctx, jobID, err)
	}

	cctx := ctx
	if o.opts.CloneTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, o.opts.CloneTimeout)
		defer cancel()
	}

	start := time.Now()
	err = o.cloner.Clone(cctx, cloneURL, j.Config.Branch, j.RepoPath)
	o.metrics.CloneDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return o.failClone(ctx, jobID, err)
	}

	o.appendLog(ctx, jobID, job.PhaseNone, job.LogInfo, "Repository cloned successfully")
	o.metrics.JobEvents.WithLabelValues("cloned").Inc()
	return Result{Success: true}
}

func (o *Orchestrator) failClone(ctx context.Context, jobID string, cause error) Result {
	o.appendLog(ctx, jobID, job.PhaseNone, job.LogError, fmt.Sprintf("Failed to clone repository: %v", cause))
	failed := job.StatusFailed
	if _, err := o.store.Update(ctx, jobID, job.Update{Status: &failed}); err != nil {
		log.Printf("orchestrator: mark job %s failed: %v", jobID, err)
	}
	return failure("%v", cause)
}

// RunTurn drives one plan or execute turn for the job. The streamed agent
// output is forwarded to onChunk (when non-nil), published to the broadcaster
// and buffered for final persistence.
func (o *Orchestrator) RunTurn(ctx context.Context, jobID string, phase TurnPhase, onChunk func(string)) Result {
	var (
		jobPhase   job.Phase
		runStatus  job.Status
		doneStatus job.Status
		actorName  string
		label      string
	)
	switch phase {
	case TurnPlan:
		jobPhase, runStatus, doneStatus = job.PhasePlanner, job.StatusPlanning, job.StatusPlanReady
		actorName, label = "planning", "Planning"
	case TurnExecute:
		jobPhase, runStatus, doneStatus = job.PhaseExecutor, job.StatusExecuting, job.StatusCompleted
		actorName, label = "execution", "Execution"
	default:
		return failure("unknown turn phase %q", phase)
	}

	j, err := o.store.GetByID(ctx, jobID)
	if err != nil {
		return failure("job not found")
	}
	if j.Status.Terminal() {
		return failure("job already %s", j.Status)
	}
	if j.Status == job.StatusPlanning || j.Status == job.StatusExecuting {
		return failure("job already in progress")
	}
	if phase == TurnExecute && j.Plan == nil {
		return failure("no plan found, run planning first")
	}

	if !o.reserveTurn(jobID) {
		return failure("job already in progress")
	}
	defer o.releaseTurn(jobID)

	if err := o.setState(ctx, jobID, runStatus, &jobPhase); err != nil {
		return failure("update job: %v", err)
	}
	o.publishStatus(jobID, runStatus, jobPhase)
	o.turnLog(ctx, jobID, jobPhase, job.LogInfo, fmt.Sprintf("Starting %s agent...", actorName))

	entry, isNew, err := o.sessions.GetOrCreate(ctx, jobID, agent.LaunchConfig{
		WorkDir:        j.RepoPath,
		ResumeToken:    j.ResumeToken,
		PersistSession: true,
	})
	if err != nil {
		return o.failTurn(ctx, jobID, jobPhase, label, err)
	}
	o.metrics.ActiveAgentSessions.Set(float64(o.sessions.ActiveCount()))
	if isNew {
		o.turnLog(ctx, jobID, jobPhase, job.LogInfo, "Connected to agent session")
	}
	// Persist a newly issued resume token immediately so a crash mid-turn
	// does not lose session continuity.
	if entry.ResumeToken != "" && entry.ResumeToken != j.ResumeToken {
		if _, err := o.store.Update(ctx, jobID, job.Update{ResumeToken: &entry.ResumeToken}); err != nil {
			log.Printf("orchestrator: persist resume token for job %s: %v", jobID, err)
		}
	}

	var prompt string
	if phase == TurnPlan {
		prompt = PlannerPrompt(j.Config)
	} else {
		planJSON, err := json.MarshalIndent(j.Plan, "", "  ")
		if err != nil {
			return o.failTurn(ctx, jobID, jobPhase, label, fmt.Errorf("serialize plan: %w", err))
		}
		prompt = ExecutorPrompt(string(planJSON), j.Config)
	}

	tctx := ctx
	if o.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, o.opts.TurnTimeout)
		defer cancel()
	}

	start := time.Now()
	response, err := o.streamTurn(ctx, tctx, jobID, jobPhase, entry.Handle, prompt, onChunk, true)
	if err != nil {
		return o.failTurn(ctx, jobID, jobPhase, label, err)
	}
	o.metrics.ObserveTurn(string(phase), time.Since(start))

	o.turnLog(ctx, jobID, jobPhase, job.LogInfo,
		fmt.Sprintf("%s complete. Response: %d chars", label, len(response)))

	payload := ExtractPayload(response)
	upd := job.Update{Status: &doneStatus, CurrentPhase: phasePtr(job.PhaseNone)}
	if phase == TurnPlan {
		upd.Plan = payload
	} else {
		upd.Result = MapResult(payload)
	}
	if _, err := o.store.Update(ctx, jobID, upd); err != nil {
		return o.failTurn(ctx, jobID, jobPhase, label, fmt.Errorf("persist turn result: %w", err))
	}

	o.publishStatus(jobID, doneStatus, job.PhaseNone)
	o.turnLog(ctx, jobID, jobPhase, job.LogInfo, fmt.Sprintf("%s completed", label))
	o.metrics.JobEvents.WithLabelValues(string(doneStatus)).Inc()

	return Result{Success: true, Output: response}
}

// SendChatMessage relays an interactive message into the job's existing agent
// conversation. Chat never changes job status and never writes plan/result;
// it requires a session to already exist (live or resumable) so it cannot
// silently start an unrelated conversation. The user message and the full
// agent response are persisted to the job's chat history.
func (o *Orchestrator) SendChatMessage(ctx context.Context, jobID, message string, onChunk func(string)) Result {
	message = strings.TrimSpace(message)
	if message == "" {
		return failure("message is required")
	}

	j, err := o.store.GetByID(ctx, jobID)
	if err != nil {
		return failure("job not found")
	}
	if !o.sessions.HasActive(jobID) && j.ResumeToken == "" {
		return failure("no active session - start planning first")
	}

	o.publish(jobID, stream.Event{Type: stream.EventUserMessage, Content: message})
	o.appendLog(ctx, jobID, j.CurrentPhase, job.LogInfo, fmt.Sprintf("User message: %s", truncate(message, 200)))
	o.saveMessage(ctx, jobID, job.Message{Role: job.RoleUser, Phase: j.CurrentPhase, Content: message})

	entry, isNew, err := o.sessions.GetOrCreate(ctx, jobID, agent.LaunchConfig{
		WorkDir:        j.RepoPath,
		ResumeToken:    j.ResumeToken,
		PersistSession: true,
	})
	if err != nil {
		o.chatError(ctx, jobID, j.CurrentPhase, err)
		return failure("%v", err)
	}
	o.metrics.ActiveAgentSessions.Set(float64(o.sessions.ActiveCount()))
	if isNew && entry.ResumeToken != "" && entry.ResumeToken != j.ResumeToken {
		if _, err := o.store.Update(ctx, jobID, job.Update{ResumeToken: &entry.ResumeToken}); err != nil {
			log.Printf("orchestrator: persist resume token for job %s: %v", jobID, err)
		}
	}

	tctx := ctx
	if o.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, o.opts.TurnTimeout)
		defer cancel()
	}

	response, err := o.streamTurn(ctx, tctx, jobID, j.CurrentPhase, entry.Handle, message, onChunk, false)
	if err != nil {
		o.chatError(ctx, jobID, j.CurrentPhase, err)
		return failure("%v", err)
	}

	o.saveMessage(ctx, jobID, job.Message{Role: job.RoleAssistant, Phase: j.CurrentPhase, Content: response})
	o.publish(jobID, stream.Event{Type: stream.EventTurnComplete, Content: response})
	return Result{Success: true, Output: response}
}

// DeleteJob removes the job record, its live session and its retained event
// history.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID string) Result {
	o.sessions.Cleanup(jobID)
	o.metrics.ActiveAgentSessions.Set(float64(o.sessions.ActiveCount()))
	o.streams.ClearHistory(jobID)

	if err := o.store.Delete(ctx, jobID); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return failure("job not found")
		}
		return failure("delete job: %v", err)
	}
	o.metrics.JobEvents.WithLabelValues("deleted").Inc()
	return Result{Success: true}
}

// streamTurn submits one message and consumes the agent's streamed response:
// text is batched into text-delta events and buffered, tool lifecycle events
// are published immediately, and (for plan/execute turns) a truncated preview
// lands in the durable log every couple of seconds.
func (o *Orchestrator) streamTurn(ctx, tctx context.Context, jobID string, jobPhase job.Phase, handle agent.Handle, message string, onChunk func(string), withPreviews bool) (string, error) {
	batcher := newTextBatcher(o.opts.TextFlushInterval, func(text string) {
		o.publish(jobID, stream.Event{Type: stream.EventTextDelta, Content: text})
	})
	defer batcher.Close()

	var buffer strings.Builder
	lastPreview := time.Now()

	onUnit := func(u agent.Unit) error {
		switch u.Kind {
		case agent.UnitText:
			buffer.WriteString(u.Text)
			if onChunk != nil {
				onChunk(u.Text)
			}
			batcher.Add(u.Text)
			if withPreviews && time.Since(lastPreview) >= o.opts.LogPreviewInterval {
				lastPreview = time.Now()
				preview := strings.ReplaceAll(lastChars(buffer.String(), 200), "\n", " ")
				o.appendLog(ctx, jobID, jobPhase, job.LogInfo, "Agent: ..."+preview)
			}
		case agent.UnitToolCall:
			o.publish(jobID, stream.Event{
				Type:     stream.EventToolStart,
				ToolID:   u.ToolID,
				ToolName: u.ToolName,
				ToolArgs: u.ToolArgs,
			})
		case agent.UnitToolResult:
			o.publish(jobID, stream.Event{
				Type:       stream.EventToolResult,
				ToolID:     u.ToolID,
				Success:    boolPtr(u.ToolError == ""),
				ToolOutput: u.ToolOutput,
				Error:      u.ToolError,
			})
		}
		return nil
	}

	fullText, err := handle.SendAndStream(tctx, message, onUnit)
	batcher.Close()
	if err != nil {
		return "", err
	}

	response := buffer.String()
	if response == "" {
		response = fullText
	}
	return response, nil
}

// failTurn is the single error exit for a running turn: durable error log,
// status to failed, phase cleared, failed status event. The agent session is
// deliberately left alive; it may still be resumable for a retry or chat.
func (o *Orchestrator) failTurn(ctx context.Context, jobID string, jobPhase job.Phase, label string, cause error) Result {
	o.turnLog(ctx, jobID, jobPhase, job.LogError, fmt.Sprintf("%s failed: %v", label, cause))

	failed := job.StatusFailed
	if _, err := o.store.Update(ctx, jobID, job.Update{Status: &failed, CurrentPhase: phasePtr(job.PhaseNone)}); err != nil {
		log.Printf("orchestrator: mark job %s failed: %v", jobID, err)
	}
	o.publishStatus(jobID, job.StatusFailed, job.PhaseNone)
	o.metrics.TurnFailures.WithLabelValues(string(jobPhase)).Inc()
	return failure("%v", cause)
}

func (o *Orchestrator) chatError(ctx context.Context, jobID string, jobPhase job.Phase, cause error) {
	msg := fmt.Sprintf("Chat failed: %v", cause)
	o.appendLog(ctx, jobID, jobPhase, job.LogError, msg)
	o.publish(jobID, stream.Event{Type: stream.EventLog, Level: string(job.LogError), Message: msg, Phase: string(jobPhase)})
}

func (o *Orchestrator) setState(ctx context.Context, jobID string, status job.Status, phase *job.Phase) error {
	_, err := o.store.Update(ctx, jobID, job.Update{Status: &status, CurrentPhase: phase})
	return err
}

func (o *Orchestrator) publishStatus(jobID string, status job.Status, phase job.Phase) {
	o.publish(jobID, stream.Event{
		Type:   stream.EventStatus,
		Status: string(status),
		Phase:  string(phase),
	})
}

func (o *Orchestrator) publish(jobID string, evt stream.Event) {
	o.streams.Publish(jobID, evt)
	o.metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
}

// saveMessage persists one chat history entry. Losing a message is logged but
// never fails the turn.
func (o *Orchestrator) saveMessage(ctx context.Context, jobID string, msg job.Message) {
	if _, err := o.store.AppendMessage(ctx, jobID, msg); err != nil {
		log.Printf("orchestrator: persist chat message for job %s: %v", jobID, err)
	}
}

// appendLog writes to the durable job log only.
func (o *Orchestrator) appendLog(ctx context.Context, jobID string, phase job.Phase, level job.LogLevel, message string) {
	err := o.store.AppendLog(ctx, jobID, job.LogEntry{Phase: phase, Level: level, Message: message})
	if err != nil {
		log.Printf("orchestrator: append log for job %s: %v", jobID, err)
	}
}

// turnLog writes to the durable log and mirrors the entry on the event stream.
func (o *Orchestrator) turnLog(ctx context.Context, jobID string, phase job.Phase, level job.LogLevel, message string) {
	o.appendLog(ctx, jobID, phase, level, message)
	o.publish(jobID, stream.Event{
		Type:    stream.EventLog,
		Level:   string(level),
		Message: message,
		Phase:   string(phase),
	})
}

func (o *Orchestrator) reserveTurn(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeTurns[jobID] {
		return false
	}
	o.activeTurns[jobID] = true
	return true
}

func (o *Orchestrator) releaseTurn(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeTurns, jobID)
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

func phasePtr(p job.Phase) *job.Phase { return &p }

func boolPtr(b bool) *bool { return &b }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func lastChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
