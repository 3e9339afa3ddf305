package job

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCloning   Status = "cloning"
	StatusPlanning  Status = "planning"
	StatusPlanReady Status = "plan_ready"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Phase marks which agent is currently driving a job. It mirrors the status
// but is cleared independently on completion or failure so clients can show
// "idle" without losing the last status.
type Phase string

const (
	PhaseNone     Phase = ""
	PhasePlanner  Phase = "planner"
	PhaseExecutor Phase = "executor"
)

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Config is the user-supplied migration target description.
type Config struct {
	RepoURL     string `json:"repo_url"`
	Branch      string `json:"branch,omitempty"`
	PostgresURL string `json:"postgres_url,omitempty"`
	MongoURL    string `json:"mongo_url"`
	GitHubToken string `json:"github_token,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one persisted entry of a job's chat conversation. User messages
// and the assistant's full responses are stored untruncated, in order.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Phase     Phase     `json:"phase,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LogEntry is one line of the durable, append-only job log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     Phase     `json:"phase,omitempty"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// Result is the structured summary extracted from the execution agent's
// final output. All fields are optional; the agent is free text underneath.
type Result struct {
	PRURL              string `json:"pr_url,omitempty"`
	PRNumber           int    `json:"pr_number,omitempty"`
	FilesChanged       int    `json:"files_changed,omitempty"`
	CollectionsCreated int    `json:"collections_created,omitempty"`
	RowsMigrated       int64  `json:"rows_migrated,omitempty"`
	Summary            string `json:"summary,omitempty"`
}

// Job is one migration workflow tracked through the status state machine.
type Job struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Config       Config         `json:"config"`
	Status       Status         `json:"status"`
	CurrentPhase Phase          `json:"current_phase,omitempty"`
	Plan         map[string]any `json:"plan,omitempty"`
	Result       *Result        `json:"result,omitempty"`
	Logs         []LogEntry     `json:"logs"`
	ResumeToken  string         `json:"resume_token,omitempty"`
	RepoPath     string         `json:"repo_path,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Update is a partial-field mutation. Nil pointers leave the field untouched.
type Update struct {
	Name         *string
	Status       *Status
	CurrentPhase *Phase
	Plan         map[string]any
	Result       *Result
	ResumeToken  *string
	RepoPath     *string
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InProgress reports whether an agent turn or clone is currently running, in
// which case another turn start must be rejected.
func (s Status) InProgress() bool {
	return s == StatusCloning || s == StatusPlanning || s == StatusExecuting
}

func (j Job) Clone() Job {
	out := j
	if j.Logs != nil {
		out.Logs = make([]LogEntry, len(j.Logs))
		copy(out.Logs, j.Logs)
	}
	if j.Plan != nil {
		out.Plan = make(map[string]any, len(j.Plan))
		for k, v := range j.Plan {
			out.Plan[k] = v
		}
	}
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	return out
}
