package graph

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"chatrelay/pkg/logging"
)

const explorerTitle = "DeepSeek Chat GraphQL API"

const defaultQuery = `# Welcome to the DeepSeek Chat GraphQL API
#
# Example operations:

# 1. Health check
query Health {
  health
}

# 2. Send a message (with conversation history)
mutation Send {
  sendMessage(
    message: "Hello, introduce yourself"
    conversationHistory: []
  ) {
    message
    usage {
      promptTokens
      completionTokens
      totalTokens
    }
  }
}

# 3. Clear the conversation
mutation Clear {
  clearConversation {
    success
  }
}
`

var explorerTemplate = template.Must(template.New("graphiql").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>{{.Title}}</title>
  <link rel="stylesheet" href="https://unpkg.com/graphiql@3/graphiql.min.css" />
</head>
<body style="margin: 0;">
  <div id="graphiql" style="height: 100vh;"></div>
  <script crossorigin src="https://unpkg.com/react@18/umd/react.production.min.js"></script>
  <script crossorigin src="https://unpkg.com/react-dom@18/umd/react-dom.production.min.js"></script>
  <script crossorigin src="https://unpkg.com/graphiql@3/graphiql.min.js"></script>
  <script>
    const fetcher = GraphiQL.createFetcher({ url: {{.Endpoint}} });
    const root = ReactDOM.createRoot(document.getElementById('graphiql'));
    root.render(React.createElement(GraphiQL, { fetcher: fetcher, defaultQuery: {{.DefaultQuery}} }));
  </script>
</body>
</html>
`))

type explorerPage struct {
	Title        string
	Endpoint     string
	DefaultQuery string
}

func serveExplorer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	err := explorerTemplate.Execute(w, explorerPage{
		Title:        explorerTitle,
		Endpoint:     "/graphql",
		DefaultQuery: defaultQuery,
	})
	if err != nil {
		logging.L(r.Context()).Warn("render graphiql", zap.Error(err))
	}
}
