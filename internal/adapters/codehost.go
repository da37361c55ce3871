package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/boardflow/orchestrator/internal/platform/httpx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// PullRequest is the normalized shape every CodeHost implementation returns,
// independent of the concrete provider's wire format.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	State  string `json:"state"`
	Branch string `json:"branch"`
}

// CodeHost is C7's outbound-to-code-host contract: ensure a branch, commit
// and push files, find/open a pull request, merge it, and comment on it.
// It has no clone or fetch-latest-commit operation. Every
// method must be idempotent on retry with identical input — OpenPullRequest
// in particular must look up an existing open PR for the branch before
// creating a new one, per spec.md §4.7.
type CodeHost interface {
	EnsureBranch(ctx context.Context, repoURL, baseBranch, branch string) error
	CommitAndPush(ctx context.Context, repoURL, branch, message string, files map[string][]byte) (commitSHA string, err error)
	FindOpenPullRequest(ctx context.Context, repoURL, branch string) (*PullRequest, error)
	OpenPullRequest(ctx context.Context, repoURL, baseBranch, branch, title, body string) (*PullRequest, error)
	MergePullRequest(ctx context.Context, repoURL string, prNumber int) error
	PostComment(ctx context.Context, repoURL string, prNumber int, body string) error
}

type codeHostConfig struct {
	APIBaseURL string
	Token      string
	Timeout    time.Duration
}

// httpCodeHost is a generic REST-shaped implementation exercising the same
// do/retry plumbing as the LLM client, grounded on the teacher's
// platform/openai client do()/doWithClient() pattern, adapted to a
// provider-agnostic PR-hosting REST API rather than OpenAI's.
type httpCodeHost struct {
	cfg codeHostConfig
	log *logger.Logger
	hc  *http.Client
}

func NewHTTPCodeHost(apiBaseURL, token string, timeout time.Duration, lg *logger.Logger) CodeHost {
	return &httpCodeHost{
		cfg: codeHostConfig{APIBaseURL: strings.TrimRight(apiBaseURL, "/"), Token: token, Timeout: timeout},
		log: lg.With("adapter", "CodeHost"),
		hc:  &http.Client{Timeout: timeout},
	}
}

func (h *httpCodeHost) EnsureBranch(ctx context.Context, repoURL, baseBranch, branch string) error {
	path := fmt.Sprintf("/repos/branches?repo=%s&base=%s&branch=%s", repoURL, baseBranch, branch)
	return h.do(ctx, http.MethodPost, path, nil, nil)
}

func (h *httpCodeHost) CommitAndPush(ctx context.Context, repoURL, branch, message string, files map[string][]byte) (string, error) {
	body := map[string]any{
		"repo":    repoURL,
		"branch":  branch,
		"message": message,
		"files":   encodeFiles(files),
	}
	var out struct {
		SHA string `json:"sha"`
	}
	if err := h.do(ctx, http.MethodPost, "/repos/commits", body, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

func (h *httpCodeHost) FindOpenPullRequest(ctx context.Context, repoURL, branch string) (*PullRequest, error) {
	path := fmt.Sprintf("/repos/pulls?repo=%s&head=%s&state=open", repoURL, branch)
	var out struct {
		Items []PullRequest `json:"items"`
	}
	if err := h.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return &out.Items[0], nil
}

func (h *httpCodeHost) OpenPullRequest(ctx context.Context, repoURL, baseBranch, branch, title, body string) (*PullRequest, error) {
	if existing, err := h.FindOpenPullRequest(ctx, repoURL, branch); err == nil && existing != nil {
		return existing, nil
	}
	reqBody := map[string]any{
		"repo":  repoURL,
		"base":  baseBranch,
		"head":  branch,
		"title": title,
		"body":  body,
	}
	var pr PullRequest
	if err := h.do(ctx, http.MethodPost, "/repos/pulls", reqBody, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

func (h *httpCodeHost) MergePullRequest(ctx context.Context, repoURL string, prNumber int) error {
	path := fmt.Sprintf("/repos/pulls/%d/merge?repo=%s", prNumber, repoURL)
	return h.do(ctx, http.MethodPost, path, nil, nil)
}

func (h *httpCodeHost) PostComment(ctx context.Context, repoURL string, prNumber int, body string) error {
	path := fmt.Sprintf("/repos/pulls/%d/comments?repo=%s", prNumber, repoURL)
	return h.do(ctx, http.MethodPost, path, map[string]any{"body": body}, nil)
}

func encodeFiles(files map[string][]byte) map[string]string {
	out := make(map[string]string, len(files))
	for path, content := range files {
		out[path] = string(content)
	}
	return out
}

func (h *httpCodeHost) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := time.Second
	maxRetries := 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, h.cfg.APIBaseURL+path, &buf)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+h.cfg.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := h.hc.Do(req)
		if doErr != nil {
			if attempt == maxRetries || !httpx.IsRetryableError(doErr) {
				return doErr
			}
			time.Sleep(httpx.JitterSleep(backoff))
			backoff *= 2
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if attempt == maxRetries || !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
				return fmt.Errorf("codehost http %d: %s", resp.StatusCode, string(raw))
			}
			time.Sleep(httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 30*time.Second)))
			backoff *= 2
			continue
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw, out)
	}
	return fmt.Errorf("codehost request exhausted retries")
}
