package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	maxRequestSize  = 2 * 1024 * 1024 // 2MB total JSON payload
	maxMessageSize  = 512 * 1024      // 512KB per message content
	maxResponseSize = 8 * 1024 * 1024

	chatCompletionsPath = "/v1/chat/completions"
	requestIDHeader     = "X-Client-Request-Id"
)

// ChatCompletion sends one non-streaming chat-completion request. It never retries.
func (c *client) ChatCompletion(parentCtx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	for i, m := range req.Messages {
		if len(m.Content) > maxMessageSize {
			return nil, fmt.Errorf(
				"%w: message[%d] content too large (%d bytes, max %d)",
				ErrInvalidRequest, i, len(m.Content), maxMessageSize,
			)
		}
	}

	if c.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	pReq := providerChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	}

	bodyBytes, err := json.Marshal(pReq)
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}

	if len(bodyBytes) > maxRequestSize {
		return nil, fmt.Errorf(
			"%w: request too large (%d bytes, max %d)",
			ErrInvalidRequest, len(bodyBytes), maxRequestSize,
		)
	}

	// Per-request timeout on top of whatever the caller already set.
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	requestID := uuid.NewString()
	logger := c.logger.With(zap.String("upstream_request_id", requestID))

	logger.Debug("llm request starting",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+chatCompletionsPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build HTTP request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(requestIDHeader, requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Debug("llm request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, fmt.Errorf("llmclient: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("llmclient: read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		uerr := parseUpstreamError(resp.StatusCode, body)
		logger.Debug("llm provider error",
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", uerr.Type),
			zap.String("error_message", uerr.Detail()),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, uerr
	}

	if err := checkResponseShape(body); err != nil {
		logger.Debug("llm provider returned malformed response",
			zap.Error(err),
			zap.String("body", truncate(string(body), 200)),
		)
		return nil, err
	}

	var pResp providerChatResponse
	if err := json.Unmarshal(body, &pResp); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}

	out := &ChatResponse{
		ID:      pResp.ID,
		Created: time.Unix(pResp.Created, 0),
		Model:   pResp.Model,
		Choices: make([]ChatChoice, 0, len(pResp.Choices)),
		Usage: &Usage{
			PromptTokens:     pResp.Usage.PromptTokens,
			CompletionTokens: pResp.Usage.CompletionTokens,
			TotalTokens:      pResp.Usage.TotalTokens,
		},
	}

	for _, ch := range pResp.Choices {
		out.Choices = append(out.Choices, ChatChoice{
			Index:        ch.Index,
			Message:      ch.Message,
			FinishReason: ch.FinishReason,
		})
	}

	logger.Info("llm request completed",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

// checkResponseShape verifies that the fields we map are present, so a
// missing block is reported instead of silently decoding to zero values.
func checkResponseShape(body []byte) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("%w: body is not valid JSON", ErrMalformedResponse)
	}

	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() || content.Type != gjson.String {
		return fmt.Errorf("%w: choices[0].message.content is missing", ErrMalformedResponse)
	}

	usage := gjson.GetBytes(body, "usage")
	if !usage.IsObject() {
		return fmt.Errorf("%w: usage is missing", ErrMalformedResponse)
	}
	for _, field := range []string{"prompt_tokens", "completion_tokens", "total_tokens"} {
		if usage.Get(field).Type != gjson.Number {
			return fmt.Errorf("%w: usage.%s is missing", ErrMalformedResponse, field)
		}
	}

	return nil
}

// parseUpstreamError understands both {"error":{"message":...}} and {"error":"..."}.
func parseUpstreamError(status int, body []byte) *UpstreamError {
	uerr := &UpstreamError{StatusCode: status}

	if gjson.ValidBytes(body) {
		errField := gjson.GetBytes(body, "error")
		switch {
		case errField.IsObject():
			uerr.Message = errField.Get("message").String()
			uerr.Type = errField.Get("type").String()
		case errField.Type == gjson.String:
			uerr.Message = errField.String()
		}
	}

	if uerr.Message == "" {
		uerr.Body = truncate(string(bytes.TrimSpace(body)), 200)
	}

	return uerr
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
