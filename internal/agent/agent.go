package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// LaunchConfig describes how to start or resume one agent session.
type LaunchConfig struct {
	// WorkDir is the agent's working directory, normally the cloned repo.
	WorkDir string
	// ResumeToken, when set, resumes a prior conversation instead of
	// starting fresh.
	ResumeToken string
	// PersistSession asks the agent runtime to keep conversation state
	// across turns.
	PersistSession bool
}

type UnitKind string

const (
	UnitText       UnitKind = "text-delta"
	UnitToolCall   UnitKind = "tool-call"
	UnitToolResult UnitKind = "tool-result"
)

// Unit is one normalized element of the agent's streamed output.
type Unit struct {
	Kind UnitKind

	Text string

	ToolID     string
	ToolName   string
	ToolArgs   map[string]any
	ToolOutput string
	ToolError  string
}

// UnitHandler receives streamed units. Returning an error aborts the turn.
type UnitHandler func(Unit) error

// Handle is one live agent conversation. A handle is reused across turns so
// the agent keeps its working context between planning and execution.
type Handle interface {
	// ResumeToken identifies the underlying conversation for later resume.
	ResumeToken() string
	// SendAndStream submits one message and streams the response until the
	// turn completes. Returns the full response text.
	SendAndStream(ctx context.Context, message string, onUnit UnitHandler) (string, error)
	// Cleanup releases the session's resources. Best effort.
	Cleanup() error
}

// Launcher starts agent sessions.
type Launcher interface {
	Launch(ctx context.Context, cfg LaunchConfig) (Handle, error)
}

// Config controls launcher construction.
type Config struct {
	Mode    string
	CLIPath string
}

func NewLauncher(cfg Config) (Launcher, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		cliPath := strings.TrimSpace(cfg.CLIPath)
		if cliPath != "" {
			if _, err := exec.LookPath(cliPath); err == nil {
				return NewCLILauncher(cliPath), nil
			}
		}
		return NewMockLauncher(), nil
	case "cli":
		if strings.TrimSpace(cfg.CLIPath) == "" {
			return nil, errors.New("agent CLI path is required for cli mode")
		}
		return NewCLILauncher(cfg.CLIPath), nil
	case "mock":
		return NewMockLauncher(), nil
	default:
		return nil, fmt.Errorf("unsupported agent launcher mode %q", cfg.Mode)
	}
}
