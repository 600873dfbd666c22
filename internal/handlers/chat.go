package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chatrelay/internal/relay"
	"chatrelay/pkg/logging"
)

const (
	msgMethodNotAllowed = "only POST requests are supported"
	msgBodyTooLarge     = "request body too large"
	msgInvalidBody      = "invalid request body"
)

// ChatHandler serves the REST surface at /api/chat.
type ChatHandler struct {
	Relay relay.Relay
}

func NewChatHandler(r relay.Relay) *ChatHandler {
	return &ChatHandler{Relay: r}
}

type chatRequest struct {
	Message             string       `json:"message"`
	ConversationHistory []relay.Turn `json:"conversationHistory"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Usage   chatUsage `json:"usage"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Chat handles /api/chat. OPTIONS is answered by the CORS middleware before
// this handler runs; every other method except POST gets a 405.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: msgMethodNotAllowed})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			logger.Warn("request body too large", zap.Int64("limit", maxErr.Limit))
			h.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: msgBodyTooLarge})
			return
		}
		logger.Warn("invalid request", zap.Error(err))
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidBody, Details: err.Error()})
		return
	}

	res, err := h.Relay.SendMessage(ctx, req.Message, req.ConversationHistory)
	if err != nil {
		h.writeError(w, err)
		return
	}

	logger.Debug("chat_response",
		zap.Int("total_tokens", res.Usage.TotalTokens),
		zap.Duration("total_latency_ms", time.Since(start)),
	)

	h.writeJSON(w, http.StatusOK, chatResponse{
		Success: true,
		Message: res.Message,
		Usage: chatUsage{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
		},
	})
}

func (h *ChatHandler) writeError(w http.ResponseWriter, err error) {
	var rerr *relay.Error
	if !errors.As(err, &rerr) {
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "internal server error",
			Details: err.Error(),
		})
		return
	}

	if rerr.Kind == relay.KindInvalidArgument {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: rerr.Message})
		return
	}

	h.writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   rerr.Message,
		Details: rerr.Details,
	})
}

func (h *ChatHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
