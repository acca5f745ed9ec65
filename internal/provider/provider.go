// internal/provider/provider.go

// Package provider implements chat.Completer against an external
// completion service speaking JSON over HTTP.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"driftpad/internal/apperr"
	"driftpad/internal/changeset"
	"driftpad/internal/chat"
)

// Options configures the HTTP completer. A zero Timeout falls back to two
// minutes; completions routinely run long.
type Options struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPCompleter forwards completion requests to a backend service.
type HTTPCompleter struct {
	client   *http.Client
	endpoint string
	apiKey   string
	log      *slog.Logger
}

// NewHTTP creates an HTTP completer.
func NewHTTP(opts Options, log *slog.Logger) *HTTPCompleter {
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
	}
	return &HTTPCompleter{
		client:   &http.Client{Transport: transport, Timeout: timeout},
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		log:      log,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	ProjectID       string        `json:"projectId"`
	SessionID       string        `json:"sessionId"`
	Mode            string        `json:"mode"`
	ReviewMode      bool          `json:"reviewMode"`
	CurrentFileText string        `json:"currentFileText,omitempty"`
	Messages        []wireMessage `json:"messages"`
}

type wireResponse struct {
	Content         string               `json:"content"`
	ProposedChanges []changeset.Proposed `json:"proposedChanges"`
	ToolCalls       []chat.ToolCall      `json:"toolCalls"`
}

// Complete sends the conversation to the backend and maps its reply.
// Abort cancels through the request context.
func (c *HTTPCompleter) Complete(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("no completion endpoint configured: %w", apperr.ErrInvalid)
	}

	payload := wireRequest{
		ProjectID:       req.ProjectID,
		SessionID:       req.SessionID,
		Mode:            string(req.Mode),
		ReviewMode:      req.ReviewMode,
		CurrentFileText: req.CurrentFileText,
		Messages:        make([]wireMessage, len(req.Messages)),
	}
	for i, m := range req.Messages {
		payload.Messages[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("completion service status=%d body=%s", resp.StatusCode, string(preview))
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	c.log.Debug("completion finished",
		"session_id", req.SessionID,
		"mode", req.Mode,
		"changes", len(wire.ProposedChanges),
		"elapsed", time.Since(started))

	return &chat.CompletionResponse{
		Content:         wire.Content,
		ProposedChanges: wire.ProposedChanges,
		ToolCalls:       wire.ToolCalls,
	}, nil
}
