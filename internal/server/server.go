// Package server exposes the operator session to the device UI over GraphQL.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/lru"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/patrolsync/internal/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

// Server routes HTTP requests to the GraphQL API.
type Server struct {
	resolver *graph.Resolver
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates the server and registers its routes.
func New(c graph.Components, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		resolver: graph.NewResolver(c, logger),
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Resolver returns the root resolver, e.g. to tune the status push period.
func (s *Server) Resolver() *graph.Resolver {
	return s.resolver
}

// Handler returns the root handler with logging and recovery applied.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.logger)(RecoverMiddleware(s.logger)(s.mux))
}

func (s *Server) routes() {
	srv := handler.New(graph.NewExecutableSchema(graph.Config{
		Resolvers: s.resolver,
	}))

	// WebSocket first for subscription upgrades
	srv.AddTransport(transport.Websocket{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // device UI is served from another origin in development
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		KeepAlivePingInterval: 10 * time.Second,
	})
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})

	srv.SetQueryCache(lru.New[*ast.QueryDocument](1000))
	srv.Use(extension.AutomaticPersistedQuery{
		Cache: lru.New[string](100),
	})

	s.mux.Handle("/query", srv)

	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
}
