package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatrelay/internal/config"
	"chatrelay/internal/httpserver"
)

func fakeDeepSeek(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"bad auth"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Defaults()
	cfg.DeepSeek.APIKey = "sk-test"
	cfg.DeepSeek.BaseURL = baseURL
	cfg.DeepSeek.UpstreamTimeout = 2 * time.Second
	cfg.Server.Port = "0"
	return &cfg
}

func newApp(t *testing.T, cfg *config.Config, variant httpserver.Variant) *App {
	t.Helper()
	a, err := New(cfg, variant, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, httpserver.VariantServe, nil)
	assert.Error(t, err)
}

func TestServeVariantEndToEnd(t *testing.T) {
	upstream, calls := fakeDeepSeek(t)
	a := newApp(t, testConfig(upstream.URL), httpserver.VariantServe)

	rr := postJSON(t, a.Handler(), "/api/chat", `{"message":"hello","conversationHistory":[{"role":"user","content":"earlier"}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"success":true,"message":"hi","usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`, rr.Body.String())

	rr = postJSON(t, a.Handler(), "/graphql", `{"query":"mutation { sendMessage(message: \"hello\") { message usage { totalTokens } } }"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"data":{"sendMessage":{"message":"hi","usage":{"totalTokens":5}}}}`, rr.Body.String())

	assert.EqualValues(t, 2, calls.Load())
}

func TestMissingAPIKeyDoesNotFailStartup(t *testing.T) {
	upstream, calls := fakeDeepSeek(t)
	cfg := testConfig(upstream.URL)
	cfg.DeepSeek.APIKey = ""
	a := newApp(t, cfg, httpserver.VariantServe)

	rr := postJSON(t, a.Handler(), "/api/chat", `{"message":"hello"}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "DEEPSEEK_API_KEY is not configured", body["error"])

	rr = postJSON(t, a.Handler(), "/graphql", `{"query":"mutation { sendMessage(message: \"hello\") { message } }"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "DEEPSEEK_API_KEY is not configured")

	assert.Zero(t, calls.Load())
}

func TestEdgeVariant(t *testing.T) {
	upstream, _ := fakeDeepSeek(t)
	a := newApp(t, testConfig(upstream.URL), httpserver.VariantEdge)

	rr := postJSON(t, a.Handler(), "/", `{"query":"{ health }"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"data":{"health":"GraphQL Server is running!"}}`, rr.Body.String())

	rr = postJSON(t, a.Handler(), "/api/chat", `{"message":"hello"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream, calls := fakeDeepSeek(t)

	cfg := testConfig(upstream.URL)
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = mr.Addr()
	a := newApp(t, cfg, httpserver.VariantServe)

	for i := 0; i < 2; i++ {
		rr := postJSON(t, a.Handler(), "/api/chat", `{"message":"hello"}`)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	assert.EqualValues(t, 1, calls.Load(), "second identical request is served from cache")
	assert.NotEmpty(t, mr.Keys())
}

func TestRedisUnavailable(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = "127.0.0.1:1"

	_, err := New(cfg, httpserver.VariantServe, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestServeGracefulShutdown(t *testing.T) {
	upstream, _ := fakeDeepSeek(t)
	a := newApp(t, testConfig(upstream.URL), httpserver.VariantServe)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
