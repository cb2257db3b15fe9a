package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Issue is the tracker's view of a work item.
type Issue struct {
	Number int
	Title  string
	State  string
	URL    string
}

// PullRequest captures the review/merge state of an open PR.
type PullRequest struct {
	Number    int
	State     string
	Approved  bool
	ChecksOK  bool
	Mergeable bool
	URL       string
}

// Tracker exposes the issue/PR operations the hook pipeline depends on.
type Tracker interface {
	FetchIssue(ctx context.Context, dir string, number int) (Issue, error)
	CreatePR(ctx context.Context, dir, title, body string) (PullRequest, error)
	MergePR(ctx context.Context, dir string, number int) (CommandResult, error)
	PRStatus(ctx context.Context, dir string, number int) (PullRequest, error)
}

// CLITracker shells out to the gh binary.
type CLITracker struct {
	Timeout time.Duration
}

// NewCLITracker builds a tracker client with a per-call timeout.
func NewCLITracker(timeout time.Duration) *CLITracker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CLITracker{Timeout: timeout}
}

func (t *CLITracker) FetchIssue(ctx context.Context, dir string, number int) (Issue, error) {
	res, err := RunCommand(ctx, dir, t.Timeout, "gh", "issue", "view", strconv.Itoa(number), "--json", "number,title,state,url")
	if err != nil {
		return Issue{}, err
	}
	var raw struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal([]byte(res.Output), &raw); err != nil {
		return Issue{}, Wrap(ErrExternalTool, "", "gh issue view", "parse response", err)
	}
	return Issue{Number: raw.Number, Title: raw.Title, State: raw.State, URL: raw.URL}, nil
}

func (t *CLITracker) CreatePR(ctx context.Context, dir, title, body string) (PullRequest, error) {
	res, err := RunCommand(ctx, dir, t.Timeout, "gh", "pr", "create", "--title", title, "--body", body)
	if err != nil {
		return PullRequest{}, err
	}
	url := strings.TrimSpace(res.Output)
	pr := PullRequest{State: "open", URL: url}
	if idx := strings.LastIndex(url, "/"); idx >= 0 {
		if n, convErr := strconv.Atoi(url[idx+1:]); convErr == nil {
			pr.Number = n
		}
	}
	return pr, nil
}

func (t *CLITracker) MergePR(ctx context.Context, dir string, number int) (CommandResult, error) {
	return RunCommand(ctx, dir, t.Timeout, "gh", "pr", "merge", strconv.Itoa(number), "--squash", "--delete-branch")
}

func (t *CLITracker) PRStatus(ctx context.Context, dir string, number int) (PullRequest, error) {
	res, err := RunCommand(ctx, dir, t.Timeout, "gh", "pr", "view", strconv.Itoa(number),
		"--json", "number,state,reviewDecision,statusCheckRollup,mergeable,url")
	if err != nil {
		return PullRequest{}, err
	}
	var raw struct {
		Number            int    `json:"number"`
		State             string `json:"state"`
		ReviewDecision    string `json:"reviewDecision"`
		Mergeable         string `json:"mergeable"`
		URL               string `json:"url"`
		StatusCheckRollup []struct {
			Conclusion string `json:"conclusion"`
		} `json:"statusCheckRollup"`
	}
	if err := json.Unmarshal([]byte(res.Output), &raw); err != nil {
		return PullRequest{}, Wrap(ErrExternalTool, "", "gh pr view", "parse response", err)
	}
	pr := PullRequest{
		Number:    raw.Number,
		State:     strings.ToLower(raw.State),
		Approved:  strings.EqualFold(raw.ReviewDecision, "APPROVED"),
		Mergeable: strings.EqualFold(raw.Mergeable, "MERGEABLE"),
		URL:       raw.URL,
		ChecksOK:  len(raw.StatusCheckRollup) > 0,
	}
	for _, check := range raw.StatusCheckRollup {
		if !strings.EqualFold(check.Conclusion, "SUCCESS") && !strings.EqualFold(check.Conclusion, "NEUTRAL") && !strings.EqualFold(check.Conclusion, "SKIPPED") {
			pr.ChecksOK = false
			break
		}
	}
	if pr.Number == 0 {
		return pr, fmt.Errorf("%w: pull request %d", ErrNotFound, number)
	}
	return pr, nil
}
