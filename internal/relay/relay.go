// Package relay turns a user message plus caller-supplied history into one
// upstream chat completion and normalizes the outcome for the HTTP adapters.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatrelay/internal/cache"
	"chatrelay/internal/llm"
	"chatrelay/internal/metrics"
	"chatrelay/pkg/logging"
)

const (
	DefaultModel       = "deepseek-chat"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000

	cacheScope = "chat"
)

type Options struct {
	// APIKey is the upstream credential. Empty means every call fails with
	// KindMissingConfiguration before any network traffic.
	APIKey string
	// Model defaults to DefaultModel.
	Model string
	// StrictRoles rejects history turns with an unknown role or empty content.
	// Off by default: turns are forwarded as received.
	StrictRoles bool

	// Cache is optional; nil disables response caching.
	Cache        cache.ExactCache
	CacheTTL     time.Duration
	CacheVersion string
}

// Service is the Relay implementation shared by the REST and GraphQL surfaces.
// It holds no per-conversation state and is safe for concurrent use.
type Service struct {
	client llm.Client
	opts   Options
}

var _ Relay = (*Service)(nil)

func New(client llm.Client, opts Options) (*Service, error) {
	if client == nil {
		return nil, errors.New("relay: llm client is required")
	}

	opts.APIKey = strings.TrimSpace(opts.APIKey)
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel
	}
	if opts.CacheVersion == "" {
		opts.CacheVersion = "v1"
	}

	return &Service{client: client, opts: opts}, nil
}

// BuildUpstreamRequest replays history in order and appends message as the final user turn.
func BuildUpstreamRequest(model, message string, history []Turn) *llm.ChatRequest {
	messages := make([]llm.ChatMessage, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, llm.ChatMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	messages = append(messages, llm.ChatMessage{
		Role:    llm.RoleUser,
		Content: message,
	})

	return &llm.ChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Stream:      false,
	}
}

// SendMessage forwards message (after history) to the model and returns its reply.
// Every failure is a *Error.
func (s *Service) SendMessage(ctx context.Context, message string, history []Turn) (*ChatResult, error) {
	start := time.Now()
	logger := logging.L(ctx).With(zap.Int("history_len", len(history)))

	res, cached, err := s.sendMessage(ctx, logger, message, history)
	if err != nil {
		rerr := classify(err)
		metrics.ObserveRelay(string(rerr.Kind), 0, 0)

		fields := []zap.Field{
			zap.String("kind", string(rerr.Kind)),
			zap.String("details", rerr.Details),
			zap.Duration("duration", time.Since(start)),
		}
		if rerr.Kind == KindInvalidArgument {
			logger.Info("relay request rejected", fields...)
		} else {
			logger.Error("relay request failed", fields...)
		}
		return nil, rerr
	}

	outcome := "ok"
	if cached {
		outcome = "cached"
	}
	metrics.ObserveRelay(outcome, res.Usage.PromptTokens, res.Usage.CompletionTokens)

	logger.Info("relay request completed",
		zap.Bool("cached", cached),
		zap.Int("prompt_tokens", res.Usage.PromptTokens),
		zap.Int("completion_tokens", res.Usage.CompletionTokens),
		zap.Int("total_tokens", res.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return res, nil
}

func (s *Service) sendMessage(ctx context.Context, logger *zap.Logger, message string, history []Turn) (*ChatResult, bool, error) {
	if strings.TrimSpace(message) == "" {
		return nil, false, newError(KindInvalidArgument, msgEmptyMessage, "", nil)
	}

	if err := s.checkHistory(logger, history); err != nil {
		return nil, false, err
	}

	if s.opts.APIKey == "" {
		return nil, false, newError(KindMissingConfiguration, msgMissingAPIKey, "", nil)
	}

	req := BuildUpstreamRequest(s.opts.Model, message, history)

	cacheKey := s.cacheKey(logger, req)
	if cacheKey != "" {
		if res, ok := s.lookup(ctx, logger, cacheKey); ok {
			return res, true, nil
		}
	}

	upstreamStart := time.Now()
	resp, err := s.client.ChatCompletion(ctx, req)
	metrics.UpstreamLatencySeconds.Observe(time.Since(upstreamStart).Seconds())
	if err != nil {
		return nil, false, err
	}

	res, err := toResult(resp)
	if err != nil {
		return nil, false, err
	}

	if cacheKey != "" {
		s.store(ctx, logger, cacheKey, res)
	}

	return res, false, nil
}

func (s *Service) checkHistory(logger *zap.Logger, history []Turn) error {
	for i, turn := range history {
		known := llm.IsKnownRole(turn.Role)
		if !s.opts.StrictRoles {
			if !known {
				logger.Warn("forwarding history turn with unknown role",
					zap.Int("index", i),
					zap.String("role", turn.Role),
				)
			}
			continue
		}

		if !known {
			return newError(KindInvalidArgument,
				fmt.Sprintf("conversationHistory[%d]: role must be one of user, assistant, system", i),
				turn.Role, nil)
		}
		if strings.TrimSpace(turn.Content) == "" {
			return newError(KindInvalidArgument,
				fmt.Sprintf("conversationHistory[%d]: content must not be empty", i), "", nil)
		}
	}
	return nil
}

func toResult(resp *llm.ChatResponse) (*ChatResult, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, newError(KindMalformedUpstreamResponse, msgMalformedReply, "response has no choices", nil)
	}
	if resp.Usage == nil {
		return nil, newError(KindMalformedUpstreamResponse, msgMalformedReply, "response has no usage block", nil)
	}

	return &ChatResult{
		Message: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (s *Service) cacheKey(logger *zap.Logger, req *llm.ChatRequest) string {
	if s.opts.Cache == nil || s.opts.CacheTTL <= 0 {
		return ""
	}
	key, err := cache.BuildExactCacheKey(*req, cacheScope, s.opts.CacheVersion)
	if err != nil {
		logger.Warn("key_builder_error", zap.Error(err))
		return ""
	}
	return key.String()
}

// lookup is best-effort: cache errors are logged and treated as a miss.
func (s *Service) lookup(ctx context.Context, logger *zap.Logger, key string) (*ChatResult, bool) {
	raw, hit, err := s.opts.Cache.Get(ctx, key)
	if err != nil {
		logger.Warn("exact_cache_get_error", zap.Error(err))
		return nil, false
	}
	if !hit {
		return nil, false
	}

	var res ChatResult
	if err := json.Unmarshal(raw, &res); err != nil {
		logger.Warn("exact_cache_unmarshal_error", zap.Error(err))
		return nil, false
	}
	return &res, true
}

func (s *Service) store(ctx context.Context, logger *zap.Logger, key string, res *ChatResult) {
	raw, err := json.Marshal(res)
	if err != nil {
		logger.Warn("marshal_response_error", zap.Error(err))
		return
	}
	if err := s.opts.Cache.Set(ctx, key, raw, s.opts.CacheTTL); err != nil {
		logger.Warn("exact_cache_set_error", zap.Error(err))
	}
}
