// Package mcp exposes the question-answering pipeline as Model Context
// Protocol tools over stateless streamable HTTP. Each bearer token is
// bound to exactly one tenant, so every tool call inherits the tenant
// boundary from authentication.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/queryhub/queryhub/internal/auth"
	"github.com/queryhub/queryhub/internal/catalog"
	"github.com/queryhub/queryhub/internal/observability"
	"github.com/queryhub/queryhub/internal/orchestrator"
)

// Asker runs the full ask pipeline for one tenant question.
type Asker interface {
	Handle(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
}

// TableAdmin covers the table lifecycle operations the tools expose.
type TableAdmin interface {
	ListTables(ctx context.Context, tenantID string) ([]catalog.TableDef, error)
	DeleteTable(ctx context.Context, tenantID, tableName string) (bool, error)
}

// UploadAdmin ingests CSV content pushed through the upload tool.
type UploadAdmin interface {
	UploadCSV(ctx context.Context, tenantID, tableName, description string, r io.Reader) (catalog.TableDef, error)
}

type Config struct {
	ListenAddr      string
	Version         string
	ShutdownTimeout time.Duration

	Logger       *slog.Logger
	Validator    auth.APIKeyValidator
	Orchestrator Asker
	Tables       TableAdmin
	Uploads      UploadAdmin
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Orchestrator == nil {
		return fmt.Errorf("orchestrator is required")
	}
	if c.Tables == nil {
		return fmt.Errorf("table admin is required")
	}
	return nil
}

type Server struct {
	log  *slog.Logger
	cfg  Config
	mcp  *mcp.Server
	http *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "QueryHub MCP Server",
		Version: version,
	}, nil)

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
		mcp: mcpServer,
	}

	if err := registerAskTool(cfg.Logger, mcpServer, cfg.Orchestrator); err != nil {
		return nil, fmt.Errorf("register ask tool: %w", err)
	}
	if err := registerTableTools(cfg.Logger, mcpServer, cfg.Tables); err != nil {
		return nil, fmt.Errorf("register table tools: %w", err)
	}
	if cfg.Uploads != nil {
		if err := registerUploadTool(cfg.Logger, mcpServer, cfg.Uploads); err != nil {
			return nil, fmt.Errorf("register upload tool: %w", err)
		}
	}

	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
	})

	mux := http.NewServeMux()
	var toolHandler http.Handler = handler
	if cfg.Validator != nil {
		toolHandler = s.authMiddleware(toolHandler)
	}
	mux.Handle("/", chain(toolHandler, observability.TraceMiddleware, observability.MetricsMiddleware))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- fmt.Errorf("listen and serve: %w", err)
		}
	}()

	s.log.Info("mcp server listening", "addr", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown mcp server: %w", err)
		}
		return nil
	case err := <-serveErrCh:
		return err
	}
}

// authMiddleware validates the bearer token and binds the resulting
// tenant identity into the request context, where the tool handlers
// pick it up.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized: missing bearer token", http.StatusUnauthorized)
			return
		}
		identity, ok := s.cfg.Validator.Validate(r.Context(), token)
		if !ok {
			s.log.WarnContext(r.Context(), "mcp authentication failed", "path", r.URL.Path)
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized: invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func tenantFromContext(ctx context.Context) (string, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.TenantID) == "" {
		return "", fmt.Errorf("no tenant bound to this session")
	}
	return identity.TenantID, nil
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}
