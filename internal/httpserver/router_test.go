package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"chatrelay/internal/graph"
	"chatrelay/internal/handlers"
	"chatrelay/internal/relay"
)

type stubRelay struct{}

func (stubRelay) SendMessage(ctx context.Context, message string, history []relay.Turn) (*relay.ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, &relay.Error{Kind: relay.KindInvalidArgument, Message: "message must not be empty"}
	}
	return &relay.ChatResult{
		Message: "echo: " + message,
		Usage:   relay.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

func newRouter(t *testing.T, variant Variant) http.Handler {
	t.Helper()

	schema, err := graph.NewSchema(stubRelay{})
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}

	r := chi.NewRouter()
	SetupRouter(r, zaptest.NewLogger(t), Options{
		Variant:        variant,
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1 << 20,
	}, handlers.NewChatHandler(stubRelay{}), graph.NewHandler(schema, true))
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServeVariantRoutes(t *testing.T) {
	h := newRouter(t, VariantServe)

	rr := do(h, http.MethodPost, "/api/chat", `{"message":"hi"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /api/chat: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"message":"echo: hi"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected CORS header on chat response")
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id header")
	}

	rr = do(h, http.MethodGet, "/api/chat", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/chat: expected 405, got %d", rr.Code)
	}

	rr = do(h, http.MethodPost, "/api/chat", `{"message":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty message: expected 400, got %d", rr.Code)
	}

	rr = do(h, http.MethodPost, "/graphql", `{"query":"{ health }"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "GraphQL Server is running!") {
		t.Fatalf("POST /graphql: unexpected response %d %s", rr.Code, rr.Body.String())
	}

	rr = do(h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("GET /healthz: unexpected response %d %q", rr.Code, rr.Body.String())
	}

	rr = do(h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /metrics: expected 200, got %d", rr.Code)
	}
}

func TestEdgeVariantRoutes(t *testing.T) {
	h := newRouter(t, VariantEdge)

	for _, path := range []string{"/", "/graphql"} {
		rr := do(h, http.MethodPost, path, `{"query":"mutation { clearConversation { success } }"}`)
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"success":true`) {
			t.Fatalf("POST %s: unexpected response %d %s", path, rr.Code, rr.Body.String())
		}
	}

	rr := do(h, http.MethodPost, "/api/chat", `{"message":"hi"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("edge variant must not expose /api/chat, got %d", rr.Code)
	}
}

func TestOptionsOnAnyPath(t *testing.T) {
	for _, variant := range []Variant{VariantServe, VariantEdge} {
		h := newRouter(t, variant)

		for _, path := range []string{"/api/chat", "/graphql", "/", "/nowhere"} {
			for _, withOrigin := range []bool{true, false} {
				req := httptest.NewRequest(http.MethodOptions, path, nil)
				if withOrigin {
					req.Header.Set("Origin", "https://app.example.com")
					req.Header.Set("Access-Control-Request-Method", http.MethodPost)
				}
				rr := httptest.NewRecorder()
				h.ServeHTTP(rr, req)

				name := fmt.Sprintf("%s OPTIONS %s (origin=%v)", variant, path, withOrigin)
				if rr.Code != http.StatusOK {
					t.Fatalf("%s: expected 200, got %d", name, rr.Code)
				}
				if rr.Body.Len() != 0 {
					t.Fatalf("%s: expected empty body, got %q", name, rr.Body.String())
				}
				if rr.Header().Get("Access-Control-Allow-Origin") == "" {
					t.Fatalf("%s: expected Access-Control-Allow-Origin", name)
				}
				if rr.Header().Get("Access-Control-Allow-Methods") == "" {
					t.Fatalf("%s: expected Access-Control-Allow-Methods", name)
				}
			}
		}
	}
}

func TestUnknownPath(t *testing.T) {
	for _, variant := range []Variant{VariantServe, VariantEdge} {
		h := newRouter(t, variant)

		rr := do(h, http.MethodGet, "/does/not/exist", "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", variant, rr.Code)
		}

		var body map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode 404 body: %v", variant, err)
		}
		if body["path"] != "/does/not/exist" || body["message"] != "use /graphql to access the GraphQL API" || body["error"] == "" {
			t.Fatalf("%s: unexpected 404 body: %#v", variant, body)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") == "" {
			t.Fatalf("%s: expected CORS header on 404", variant)
		}
	}
}
