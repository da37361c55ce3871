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

	"github.com/golang-jwt/jwt/v5"

	"github.com/boardflow/orchestrator/internal/platform/httpx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// Board is C7's outbound-to-board contract: posting comments back to the
// triggering item and reading its current column/status. PostComment is
// the primary call the validation coordinator (C5) uses to both request
// and report on validation.
type Board interface {
	PostComment(ctx context.Context, itemID string, body string) (commentID string, err error)
	GetItemStatus(ctx context.Context, itemID string) (columnID string, err error)
	// ListComments returns comments on itemID posted at or after since, used
	// by the validation coordinator's reply poller.
	ListComments(ctx context.Context, itemID string, since time.Time) ([]Comment, error)
}

// Comment is one board comment, trimmed to the fields the validation
// coordinator needs to find and interpret a reviewer's reply.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	// ReplyToID is the id of the comment this one replies to, when the
	// board surfaces threading — preferred over chronological order when
	// matching a reviewer's reply to the validation prompt it answers.
	ReplyToID string `json:"reply_to_id,omitempty"`
}

// Translator adapts a board's raw comment text into the creator's language,
// per SPEC_FULL.md's carried-forward localization concern. The
// no-op default passes text through unchanged; a real implementation would
// route through the LLM adapter, which is an out-of-scope LLM framing
// concern per spec.md's non-goals.
type Translator interface {
	ToCreatorLanguage(ctx context.Context, text, creatorLocale string) (string, error)
}

type passthroughTranslator struct{}

func NewPassthroughTranslator() Translator { return passthroughTranslator{} }

func (passthroughTranslator) ToCreatorLanguage(_ context.Context, text, _ string) (string, error) {
	return text, nil
}

type boardConfig struct {
	APIBaseURL string
	ServiceKey string
	Timeout    time.Duration
}

type httpBoard struct {
	cfg boardConfig
	log *logger.Logger
	hc  *http.Client
}

func NewHTTPBoard(apiBaseURL, serviceKey string, timeout time.Duration, lg *logger.Logger) Board {
	return &httpBoard{
		cfg: boardConfig{APIBaseURL: strings.TrimRight(apiBaseURL, "/"), ServiceKey: serviceKey, Timeout: timeout},
		log: lg.With("adapter", "Board"),
		hc:  &http.Client{Timeout: timeout},
	}
}

// serviceToken signs a short-lived HS256 token identifying the orchestrator
// to the board API, the same jwt.NewWithClaims/SignedString shape the
// teacher uses for its own session tokens in services/auth.go, generalized
// from a user session to a service-to-service credential.
func (h *httpBoard) serviceToken() (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    "boardflow-orchestrator",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.cfg.ServiceKey))
}

func (h *httpBoard) PostComment(ctx context.Context, itemID string, body string) (string, error) {
	var out struct {
		CommentID string `json:"comment_id"`
	}
	payload := map[string]any{"item_id": itemID, "body": body}
	if err := h.do(ctx, http.MethodPost, "/items/"+itemID+"/comments", payload, &out); err != nil {
		return "", err
	}
	return out.CommentID, nil
}

func (h *httpBoard) GetItemStatus(ctx context.Context, itemID string) (string, error) {
	var out struct {
		ColumnID string `json:"column_id"`
	}
	if err := h.do(ctx, http.MethodGet, "/items/"+itemID, nil, &out); err != nil {
		return "", err
	}
	return out.ColumnID, nil
}

func (h *httpBoard) ListComments(ctx context.Context, itemID string, since time.Time) ([]Comment, error) {
	var out struct {
		Comments []Comment `json:"comments"`
	}
	path := fmt.Sprintf("/items/%s/comments?since=%s", itemID, since.UTC().Format(time.RFC3339))
	if err := h.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Comments, nil
}

func (h *httpBoard) do(ctx context.Context, method, path string, body any, out any) error {
	tok, err := h.serviceToken()
	if err != nil {
		return fmt.Errorf("sign board service token: %w", err)
	}

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
		req.Header.Set("Authorization", "Bearer "+tok)
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
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
			return &BoardAuthError{StatusCode: resp.StatusCode, Body: string(raw)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if attempt == maxRetries || !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
				return fmt.Errorf("board http %d: %s", resp.StatusCode, string(raw))
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
	return fmt.Errorf("board request exhausted retries")
}

// BoardAuthError is surfaced distinctly so the validation coordinator (C5)
// can recognize the permissions-error fallback path from spec.md §4.4:
// a 401/403 on posting the validation comment, when the run otherwise
// succeeded, auto-approves rather than failing the run.
type BoardAuthError struct {
	StatusCode int
	Body       string
}

func (e *BoardAuthError) Error() string {
	return fmt.Sprintf("board auth error %d: %s", e.StatusCode, e.Body)
}
