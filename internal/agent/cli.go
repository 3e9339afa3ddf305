package agent

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// CLILauncher runs the agent CLI in streaming JSON mode. Each Launch creates
// one logical conversation identified by a session id the CLI treats as a
// resume key.
type CLILauncher struct {
	binaryPath string
}

func NewCLILauncher(binaryPath string) *CLILauncher {
	return &CLILauncher{binaryPath: strings.TrimSpace(binaryPath)}
}

func (l *CLILauncher) Launch(_ context.Context, cfg LaunchConfig) (Handle, error) {
	if _, err := exec.LookPath(l.binaryPath); err != nil {
		return nil, fmt.Errorf("agent cli not found: %w", err)
	}

	token := strings.TrimSpace(cfg.ResumeToken)
	if token == "" {
		token = uuid.NewString()
	}

	return &cliHandle{
		binaryPath: l.binaryPath,
		token:      token,
		workDir:    cfg.WorkDir,
		persist:    cfg.PersistSession,
	}, nil
}

type cliHandle struct {
	binaryPath string
	token      string
	workDir    string
	persist    bool

	mu sync.Mutex
}

func (h *cliHandle) ResumeToken() string { return h.token }

func (h *cliHandle) SendAndStream(ctx context.Context, message string, onUnit UnitHandler) (string, error) {
	// One turn at a time per conversation; the CLI session is not reentrant.
	h.mu.Lock()
	defer h.mu.Unlock()

	args := []string{
		"agent",
		"--json",
		"--no-color",
		"--session-id", h.token,
		"--message", message,
	}
	if h.persist {
		args = append(args, "--persist-session")
	}

	cmd := exec.CommandContext(ctx, h.binaryPath, args...)
	cmd.Dir = h.workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("agent cli stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("agent cli start: %w", err)
	}

	var (
		decoder    streamDecoder
		fullText   strings.Builder
		handlerErr error
	)
	buf := make([]byte, 32*1024)
	for handlerErr == nil {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			for _, unit := range decoder.Consume(buf[:n]) {
				if unit.Kind == UnitText {
					fullText.WriteString(unit.Text)
				}
				if onUnit != nil {
					if err := onUnit(unit); err != nil {
						handlerErr = err
						break
					}
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF && handlerErr == nil {
				handlerErr = readErr
			}
			break
		}
	}

	waitErr := cmd.Wait()
	if handlerErr != nil {
		return fullText.String(), handlerErr
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			// exec.CommandContext may surface "signal: killed" instead of
			// context cancellation.
			return fullText.String(), ctx.Err()
		}
		errText := strings.TrimSpace(stderr.String())
		if errText != "" {
			return fullText.String(), fmt.Errorf("agent cli failed: %w: %s", waitErr, errText)
		}
		return fullText.String(), fmt.Errorf("agent cli failed: %w", waitErr)
	}

	return fullText.String(), nil
}

func (h *cliHandle) Cleanup() error {
	// The CLI process exits after each turn; conversation state lives with
	// the agent runtime keyed by session id, so there is nothing to release.
	return nil
}
