package gitutil

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
)

// Cloner fetches a repository into a local directory.
type Cloner interface {
	Clone(ctx context.Context, repoURL, branch, destDir string) error
}

// GitCloner shells out to git for a shallow, single-branch clone.
type GitCloner struct {
	// Depth bounds history; migration agents only need recent state.
	Depth int
}

func NewGitCloner(depth int) *GitCloner {
	if depth <= 0 {
		depth = 100
	}
	return &GitCloner{Depth: depth}
}

func (c *GitCloner) Clone(ctx context.Context, repoURL, branch, destDir string) error {
	if strings.TrimSpace(branch) == "" {
		branch = "main"
	}

	args := []string{
		"clone",
		"--branch", branch,
		"--single-branch",
		"--depth", strconv.Itoa(c.Depth),
		repoURL,
		destDir,
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errText := strings.TrimSpace(stderr.String()); errText != "" {
			return fmt.Errorf("git clone failed: %w: %s", err, errText)
		}
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}

// AuthenticatedURL embeds a token into an https clone URL as the userinfo
// component, the form GitHub accepts for private repositories. The URL with
// the token embedded must never be persisted or logged.
func AuthenticatedURL(repoURL, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return repoURL, nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("parse repo url: %w", err)
	}
	u.User = url.User(token)
	return u.String(), nil
}
