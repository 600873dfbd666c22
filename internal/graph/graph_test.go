package graph

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/relay"
)

type fakeRelay struct {
	res         *relay.ChatResult
	err         error
	calls       int
	lastMessage string
	lastHistory []relay.Turn
}

func (f *fakeRelay) SendMessage(ctx context.Context, message string, history []relay.Turn) (*relay.ChatResult, error) {
	f.calls++
	f.lastMessage = message
	f.lastHistory = history
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func newTestHandler(t *testing.T, r relay.Relay, graphiql bool) *Handler {
	t.Helper()
	schema, err := NewSchema(r)
	require.NoError(t, err)
	return NewHandler(schema, graphiql)
}

func post(t *testing.T, h http.Handler, query string, vars map[string]any) (*httptest.ResponseRecorder, gqlResponse) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out gqlResponse
	if rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	return rr, out
}

func TestNewSchemaRequiresRelay(t *testing.T) {
	_, err := NewSchema(nil)
	assert.Error(t, err)
}

func TestQueries(t *testing.T) {
	h := newTestHandler(t, &fakeRelay{}, false)

	rr, out := post(t, h, `{ health user { id name email } conversationHistory(limit: 5) { id role content timestamp } }`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, out.Errors)

	assert.JSONEq(t, `"GraphQL Server is running!"`, string(out.Data["health"]))
	assert.JSONEq(t, `{"id":"1","name":"DeepSeek User","email":null}`, string(out.Data["user"]))
	assert.JSONEq(t, `[]`, string(out.Data["conversationHistory"]))
}

func TestSendMessage(t *testing.T) {
	fake := &fakeRelay{res: &relay.ChatResult{
		Message: "hi",
		Usage:   relay.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}}
	h := newTestHandler(t, fake, false)

	query := `mutation Send($message: String!, $history: [ConversationInput!]) {
		sendMessage(message: $message, conversationHistory: $history) {
			message
			usage { promptTokens completionTokens totalTokens }
		}
	}`
	rr, out := post(t, h, query, map[string]any{
		"message": "hello",
		"history": []map[string]string{
			{"role": "user", "content": "q1"},
			{"role": "assistant", "content": "a1"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, out.Errors)

	assert.JSONEq(t, `{"message":"hi","usage":{"promptTokens":3,"completionTokens":2,"totalTokens":5}}`,
		string(out.Data["sendMessage"]))
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, "hello", fake.lastMessage)
	assert.Equal(t, []relay.Turn{{Role: "user", Content: "q1"}, {Role: "assistant", Content: "a1"}}, fake.lastHistory)
}

func TestSendMessageWithoutHistory(t *testing.T) {
	fake := &fakeRelay{res: &relay.ChatResult{Message: "hi"}}
	h := newTestHandler(t, fake, false)

	_, out := post(t, h, `mutation { sendMessage(message: "hello") { message } }`, nil)
	require.Empty(t, out.Errors)
	assert.Nil(t, fake.lastHistory)
}

func TestSendMessageErrors(t *testing.T) {
	tests := map[string]struct {
		err      error
		wantMsg  string
		wantCode string
	}{
		"empty message": {
			err:      &relay.Error{Kind: relay.KindInvalidArgument, Message: "message must not be empty"},
			wantMsg:  "message must not be empty",
			wantCode: "INVALID_ARGUMENT",
		},
		"missing key": {
			err:      &relay.Error{Kind: relay.KindMissingConfiguration, Message: "DEEPSEEK_API_KEY is not configured"},
			wantMsg:  "DEEPSEEK_API_KEY is not configured",
			wantCode: "MISSING_CONFIGURATION",
		},
		"upstream failure": {
			err:      &relay.Error{Kind: relay.KindUpstreamFailure, Message: "failed to call DeepSeek API", Details: "rate limited"},
			wantMsg:  "failed to call AI service: rate limited",
			wantCode: "UPSTREAM_FAILURE",
		},
		"timeout without details": {
			err:      &relay.Error{Kind: relay.KindTimeout, Message: "DeepSeek API request timed out"},
			wantMsg:  "failed to call AI service: DeepSeek API request timed out",
			wantCode: "TIMEOUT",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h := newTestHandler(t, &fakeRelay{err: tc.err}, false)

			rr, out := post(t, h, `mutation { sendMessage(message: "hello") { message } }`, nil)
			require.Equal(t, http.StatusOK, rr.Code)
			require.Len(t, out.Errors, 1)
			assert.Equal(t, tc.wantMsg, out.Errors[0].Message)
			assert.Equal(t, tc.wantCode, out.Errors[0].Extensions["code"])
		})
	}
}

func TestUsageClampedToInt32(t *testing.T) {
	huge := math.MaxInt32
	huge++

	u := &usageResolver{usage: relay.Usage{PromptTokens: huge, CompletionTokens: 7, TotalTokens: huge}}
	assert.Equal(t, int32(math.MaxInt32), *u.PromptTokens())
	assert.Equal(t, int32(7), *u.CompletionTokens())
	assert.Equal(t, int32(math.MaxInt32), *u.TotalTokens())
}

func TestClearConversation(t *testing.T) {
	h := newTestHandler(t, &fakeRelay{}, false)

	for i := 0; i < 2; i++ {
		_, out := post(t, h, `mutation { clearConversation { success } }`, nil)
		require.Empty(t, out.Errors)
		assert.JSONEq(t, `{"success":true}`, string(out.Data["clearConversation"]))
	}
}

func TestGetRequest(t *testing.T) {
	h := newTestHandler(t, &fakeRelay{}, true)

	q := url.Values{}
	q.Set("query", `query Ping($n: Int) { health conversationHistory(limit: $n) { id } }`)
	q.Set("variables", `{"n": 3}`)
	req := httptest.NewRequest(http.MethodGet, "/graphql?"+q.Encode(), nil)
	req.Header.Set("Accept", "text/html,application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, rr.Body.String(), "GraphQL Server is running!")
}

func TestExplorer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/graphql", nil)
	req.Header.Set("Accept", "text/html")

	rr := httptest.NewRecorder()
	newTestHandler(t, &fakeRelay{}, true).ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "DeepSeek Chat GraphQL API")
	assert.Contains(t, rr.Body.String(), "clearConversation")

	rr = httptest.NewRecorder()
	newTestHandler(t, &fakeRelay{}, false).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTransportErrors(t *testing.T) {
	h := newTestHandler(t, &fakeRelay{}, false)

	tests := map[string]struct {
		req  *http.Request
		want int
	}{
		"bad json":      {httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":`)), http.StatusBadRequest},
		"empty query":   {httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"  "}`)), http.StatusBadRequest},
		"bad variables": {httptest.NewRequest(http.MethodGet, "/graphql?query=%7Bhealth%7D&variables=nope", nil), http.StatusBadRequest},
		"wrong method":  {httptest.NewRequest(http.MethodPut, "/graphql", nil), http.StatusMethodNotAllowed},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, tc.req)
			assert.Equal(t, tc.want, rr.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			require.Len(t, body.Errors, 1)
			assert.NotEmpty(t, body.Errors[0].Message)
		})
	}
}

func TestInvalidQueryReturnsErrors(t *testing.T) {
	h := newTestHandler(t, &fakeRelay{}, false)

	rr, out := post(t, h, `{ nope }`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, out.Errors)
}
