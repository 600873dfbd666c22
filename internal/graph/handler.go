package graph

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	graphql "github.com/graph-gophers/graphql-go"
	"go.uber.org/zap"

	"chatrelay/pkg/logging"
)

// Handler executes GraphQL requests sent as a POST JSON body or as GET query
// parameters. Browser GETs without a query get the GraphiQL explorer.
type Handler struct {
	Schema   *graphql.Schema
	GraphiQL bool
}

func NewHandler(schema *graphql.Schema, graphiql bool) *Handler {
	return &Handler{Schema: schema, GraphiQL: graphiql}
}

type params struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

type errorBody struct {
	Errors []errorEntry `json:"errors"`
}

type errorEntry struct {
	Message string `json:"message"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var p params
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		if q.Get("query") == "" && h.GraphiQL && acceptsHTML(r) {
			serveExplorer(w, r)
			return
		}
		p.Query = q.Get("query")
		p.OperationName = q.Get("operationName")
		if raw := q.Get("variables"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &p.Variables); err != nil {
				writeErrors(w, http.StatusBadRequest, "variables must be a JSON object")
				return
			}
		}
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeErrors(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			logger.Warn("invalid graphql request", zap.Error(err))
			writeErrors(w, http.StatusBadRequest, "request body must be a JSON object")
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		writeErrors(w, http.StatusMethodNotAllowed, "only GET and POST requests are supported")
		return
	}

	if strings.TrimSpace(p.Query) == "" {
		writeErrors(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	resp := h.Schema.Exec(ctx, p.Query, p.OperationName, p.Variables)
	if len(resp.Errors) > 0 {
		logger.Debug("graphql response has errors",
			zap.String("operation", p.OperationName),
			zap.Int("errors", len(resp.Errors)),
		)
	}

	body, err := json.Marshal(resp)
	if err != nil {
		logger.Error("marshal graphql response", zap.Error(err))
		writeErrors(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeErrors(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Errors: []errorEntry{{Message: message}}})
}
