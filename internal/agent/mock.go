package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MockLauncher provides deterministic local sessions when no agent CLI is
// available. Useful for development against the UI and for smoke tests.
type MockLauncher struct{}

func NewMockLauncher() *MockLauncher { return &MockLauncher{} }

func (l *MockLauncher) Launch(_ context.Context, cfg LaunchConfig) (Handle, error) {
	token := strings.TrimSpace(cfg.ResumeToken)
	if token == "" {
		token = "mock-" + uuid.NewString()
	}
	return &mockHandle{token: token, workDir: cfg.WorkDir}, nil
}

type mockHandle struct {
	token   string
	workDir string
}

func (h *mockHandle) ResumeToken() string { return h.token }

func (h *mockHandle) SendAndStream(ctx context.Context, message string, onUnit UnitHandler) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	units := []Unit{
		{Kind: UnitText, Text: "Inspecting the repository"},
		{
			Kind:     UnitToolCall,
			ToolID:   "mock-tool-1",
			ToolName: "Bash",
			ToolArgs: map[string]any{"command": "grep -r 'pg' --include='*.ts' ."},
		},
		{Kind: UnitToolResult, ToolID: "mock-tool-1", ToolOutput: "src/db/users.ts: import { Pool } from 'pg'"},
		{Kind: UnitText, Text: " in " + h.workDir + ".\n"},
		{Kind: UnitText, Text: mockReply(message)},
	}

	var fullText strings.Builder
	for _, unit := range units {
		if unit.Kind == UnitText {
			fullText.WriteString(unit.Text)
		}
		if onUnit != nil {
			if err := onUnit(unit); err != nil {
				return fullText.String(), err
			}
		}
	}
	return fullText.String(), nil
}

func (h *mockHandle) Cleanup() error { return nil }

func mockReply(message string) string {
	if strings.Contains(strings.ToLower(message), "migration plan") {
		return "```json\n" +
			`{"summary":"Found 1 table using pg","tables":[{"name":"users","mongoCollection":"users"}],"files_to_modify":["src/db/users.ts"]}` +
			"\n```"
	}
	return fmt.Sprintf("Mock agent response to: %s", firstLine(message))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
