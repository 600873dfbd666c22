// Package graph is the GraphQL surface of the relay: an SDL schema, its
// resolvers and an HTTP transport that also serves the GraphiQL explorer.
package graph

import (
	"context"
	_ "embed"
	"errors"
	"math"

	graphql "github.com/graph-gophers/graphql-go"
	"go.uber.org/zap"

	"chatrelay/internal/relay"
	"chatrelay/pkg/logging"
)

//go:embed schema.graphql
var schemaSDL string

const (
	healthMessage = "GraphQL Server is running!"
	upstreamError = "failed to call AI service"
)

// NewSchema parses the embedded SDL against a resolver backed by r.
func NewSchema(r relay.Relay) (*graphql.Schema, error) {
	if r == nil {
		return nil, errors.New("graph: relay is required")
	}
	return graphql.ParseSchema(schemaSDL, &Resolver{relay: r}, graphql.MaxDepth(10))
}

// Resolver is the root resolver for both Query and Mutation.
type Resolver struct {
	relay relay.Relay
}

type conversationInput struct {
	Role    string
	Content string
}

type sendMessageArgs struct {
	Message             string
	ConversationHistory *[]conversationInput
}

func (r *Resolver) SendMessage(ctx context.Context, args sendMessageArgs) (*chatResponseResolver, error) {
	var history []relay.Turn
	if args.ConversationHistory != nil {
		history = make([]relay.Turn, 0, len(*args.ConversationHistory))
		for _, in := range *args.ConversationHistory {
			history = append(history, relay.Turn{Role: in.Role, Content: in.Content})
		}
	}

	res, err := r.relay.SendMessage(ctx, args.Message, history)
	if err != nil {
		gerr := toGraphError(err)
		logging.L(ctx).Warn("graphql sendMessage failed",
			zap.String("code", gerr.code),
			zap.String("message", gerr.message),
		)
		return nil, gerr
	}
	return &chatResponseResolver{res: res}, nil
}

func (r *Resolver) ClearConversation() *clearResponseResolver {
	return &clearResponseResolver{res: relay.ClearConversation()}
}

type conversationHistoryArgs struct {
	Limit *int32
}

// ConversationHistory is always empty; the client owns its history.
func (r *Resolver) ConversationHistory(args conversationHistoryArgs) *[]*conversationMessageResolver {
	messages := []*conversationMessageResolver{}
	return &messages
}

func (r *Resolver) User() *userResolver {
	return &userResolver{id: "1", name: "DeepSeek User"}
}

func (r *Resolver) Health() string {
	return healthMessage
}

type chatResponseResolver struct {
	res *relay.ChatResult
}

func (c *chatResponseResolver) Message() string {
	return c.res.Message
}

func (c *chatResponseResolver) Usage() *usageResolver {
	return &usageResolver{usage: c.res.Usage}
}

type usageResolver struct {
	usage relay.Usage
}

func (u *usageResolver) PromptTokens() *int32 {
	return int32Ptr(u.usage.PromptTokens)
}

func (u *usageResolver) CompletionTokens() *int32 {
	return int32Ptr(u.usage.CompletionTokens)
}

func (u *usageResolver) TotalTokens() *int32 {
	return int32Ptr(u.usage.TotalTokens)
}

type clearResponseResolver struct {
	res relay.ClearResult
}

func (c *clearResponseResolver) Success() bool {
	return c.res.Success
}

type conversationMessageResolver struct {
	id        graphql.ID
	role      string
	content   string
	timestamp string
}

func (m *conversationMessageResolver) ID() graphql.ID    { return m.id }
func (m *conversationMessageResolver) Role() string      { return m.role }
func (m *conversationMessageResolver) Content() string   { return m.content }
func (m *conversationMessageResolver) Timestamp() string { return m.timestamp }

type userResolver struct {
	id    graphql.ID
	name  string
	email string
}

func (u *userResolver) ID() graphql.ID {
	return u.id
}

func (u *userResolver) Name() *string {
	return optionalString(u.name)
}

func (u *userResolver) Email() *string {
	return optionalString(u.email)
}

// int32Ptr clamps to the GraphQL Int range.
func int32Ptr(n int) *int32 {
	switch {
	case n > math.MaxInt32:
		n = math.MaxInt32
	case n < math.MinInt32:
		n = math.MinInt32
	}
	v := int32(n)
	return &v
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
