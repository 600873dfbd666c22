package relay

import "context"

// Turn is one prior message in a caller-owned conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type ChatResult struct {
	Message string `json:"message"`
	Usage   Usage  `json:"usage"`
}

type ClearResult struct {
	Success bool `json:"success"`
}

// Relay is what the presentation adapters depend on.
type Relay interface {
	SendMessage(ctx context.Context, message string, history []Turn) (*ChatResult, error)
}

// ClearConversation acknowledges a clear request. History lives with the
// caller, so there is nothing to drop here.
func ClearConversation() ClearResult {
	return ClearResult{Success: true}
}
