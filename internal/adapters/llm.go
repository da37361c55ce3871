package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/boardflow/orchestrator/internal/platform/httpx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// LLMClient is the narrow contract a content-producing stage (analyze,
// implement, debug, qa) calls to get model completions. Grounded on the
// teacher's platform/openai.Client Responses-API wrapper, trimmed to two
// calls: free-text Complete and schema-constrained CompleteJSON.
type LLMClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
	CompleteJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

type llmConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

type llmClient struct {
	cfg llmConfig
	log *logger.Logger
	hc  *http.Client
}

func NewLLMClient(baseURL, apiKey, model string, timeout time.Duration, maxRetries int, lg *logger.Logger) LLMClient {
	return &llmClient{
		cfg: llmConfig{
			BaseURL:    strings.TrimRight(baseURL, "/"),
			APIKey:     apiKey,
			Model:      model,
			Timeout:    timeout,
			MaxRetries: maxRetries,
		},
		log: lg.With("adapter", "LLMClient"),
		hc:  &http.Client{Timeout: timeout},
	}
}

type llmRequest struct {
	Model string         `json:"model"`
	Input []llmMessage   `json:"input"`
	Text  *llmTextFormat `json:"text,omitempty"`
}

type llmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llmTextFormat struct {
	Format map[string]any `json:"format"`
}

type llmResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func (c *llmClient) Complete(ctx context.Context, system, user string) (string, error) {
	req := llmRequest{
		Model: c.cfg.Model,
		Input: []llmMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	var resp llmResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}
	text := extractText(resp)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("llm response carried no output_text")
	}
	return text, nil
}

func (c *llmClient) CompleteJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	req := llmRequest{
		Model: c.cfg.Model,
		Input: []llmMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Text: &llmTextFormat{Format: map[string]any{
			"type":   "json_schema",
			"name":   schemaName,
			"schema": schema,
			"strict": true,
		}},
	}
	var resp llmResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", resp.Refusal)
	}
	text := extractText(resp)
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("llm response carried no output_text")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("parse llm json output: %w", err)
	}
	return obj, nil
}

func extractText(resp llmResponse) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" {
					sb.WriteString(c.Text)
				}
			}
		}
	}
	return sb.String()
}

func (c *llmClient) do(ctx context.Context, body any, out any) error {
	backoff := time.Second
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/responses", &buf)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.hc.Do(req)
		if doErr != nil {
			if attempt == maxRetries || !httpx.IsRetryableError(doErr) {
				return doErr
			}
			sleep := httpx.JitterSleep(backoff)
			c.log.Warn("llm request retrying", "attempt", attempt+1, "error", doErr.Error())
			time.Sleep(sleep)
			backoff *= 2
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			httpErr := &llmHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
			if attempt == maxRetries || !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
				return httpErr
			}
			sleep := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 30*time.Second))
			c.log.Warn("llm request retrying", "attempt", attempt+1, "status", resp.StatusCode)
			time.Sleep(sleep)
			backoff *= 2
			continue
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(raw, out)
	}
	return errors.New("llm request exhausted retries")
}

type llmHTTPError struct {
	StatusCode int
	Body       string
}

func (e *llmHTTPError) Error() string {
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, e.Body)
}

func (e *llmHTTPError) HTTPStatusCode() int { return e.StatusCode }
