package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Git exposes the version-control operations the hook pipeline depends on.
type Git interface {
	CurrentBranch(ctx context.Context, dir string) (string, error)
	IsDirty(ctx context.Context, dir string) (bool, error)
	AheadBehind(ctx context.Context, dir, upstream string) (ahead, behind int, err error)
	Push(ctx context.Context, dir string) (CommandResult, error)
	Fetch(ctx context.Context, dir string) (CommandResult, error)
	Rebase(ctx context.Context, dir, onto string) (CommandResult, error)
}

// CLIGit shells out to the git binary.
type CLIGit struct {
	Timeout time.Duration
}

// NewCLIGit builds a git client with a per-call timeout.
func NewCLIGit(timeout time.Duration) *CLIGit {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CLIGit{Timeout: timeout}
}

func (g *CLIGit) CurrentBranch(ctx context.Context, dir string) (string, error) {
	res, err := RunCommand(ctx, dir, g.Timeout, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Output), nil
}

func (g *CLIGit) IsDirty(ctx context.Context, dir string) (bool, error) {
	res, err := RunCommand(ctx, dir, g.Timeout, "git", "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Output) != "", nil
}

// AheadBehind reports commit counts relative to upstream using rev-list.
func (g *CLIGit) AheadBehind(ctx context.Context, dir, upstream string) (int, int, error) {
	if strings.TrimSpace(upstream) == "" {
		upstream = "@{upstream}"
	}
	res, err := RunCommand(ctx, dir, g.Timeout, "git", "rev-list", "--left-right", "--count", "HEAD..."+upstream)
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(res.Output)
	if len(fields) != 2 {
		return 0, 0, Wrap(ErrExternalTool, "", "git rev-list", fmt.Sprintf("unexpected output %q", res.Output), nil)
	}
	ahead, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, Wrap(ErrExternalTool, "", "git rev-list", "parse ahead count", err)
	}
	behind, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, Wrap(ErrExternalTool, "", "git rev-list", "parse behind count", err)
	}
	return ahead, behind, nil
}

func (g *CLIGit) Push(ctx context.Context, dir string) (CommandResult, error) {
	return RunCommand(ctx, dir, g.Timeout, "git", "push")
}

func (g *CLIGit) Fetch(ctx context.Context, dir string) (CommandResult, error) {
	return RunCommand(ctx, dir, g.Timeout, "git", "fetch", "--prune")
}

func (g *CLIGit) Rebase(ctx context.Context, dir, onto string) (CommandResult, error) {
	if strings.TrimSpace(onto) == "" {
		onto = "origin/main"
	}
	return RunCommand(ctx, dir, g.Timeout, "git", "rebase", onto)
}
