// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the admin and operations HTTP surface: engine
// administration, workspace creation, flow runs, page rendering and audits.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/audit"
	"github.com/traylinx/flowforge/internal/config"
	"github.com/traylinx/flowforge/internal/flow"
	"github.com/traylinx/flowforge/internal/logging"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/page"
	"github.com/traylinx/flowforge/internal/workspace"
)

// EngineAdmin manages engine configurations and provider kill switches.
// *engine.Router satisfies it.
type EngineAdmin interface {
	ListEngines(ctx context.Context) ([]*models.EngineConfig, error)
	SetEngineEnabled(ctx context.Context, id string, enabled bool) (*models.EngineConfig, error)
	KillSwitch() map[string]bool
	SetKillSwitch(provider string, enabled bool)
}

// FlowRunner runs flows by key. *flow.Runtime satisfies it.
type FlowRunner interface {
	RunFlowByKey(ctx context.Context, workspaceID, flowKey string, input map[string]any, traceID string) (*flow.RunResult, error)
}

// WorkspaceCreator creates workspaces from presets. *workspace.Factory satisfies it.
type WorkspaceCreator interface {
	CreateWorkspace(ctx context.Context, name, workspaceType, ownerID string, settings map[string]any) (*models.Workspace, error)
}

// FileAuditor applies audited file changes. *audit.FileAuditor satisfies it.
type FileAuditor interface {
	ApplyChangeWithAudit(ctx context.Context, change audit.FileChange) (*models.FileAudit, error)
}

// RuleAuditor runs rule-level audits. *audit.Orchestrator satisfies it.
type RuleAuditor interface {
	AuditWorkspaceFlows(ctx context.Context, workspaceID string, opts audit.AuditOptions) (*audit.AuditReport, error)
	AuditIndustryPresets(ctx context.Context, opts audit.AuditOptions) (*audit.AuditReport, error)
}

// PageRenderer renders workspace cockpit pages. *page.Engine satisfies it.
type PageRenderer interface {
	Pages(ctx context.Context, workspaceID string) ([]workspace.PagePreset, error)
	Definition(ctx context.Context, workspaceID, pageKey string) (*workspace.PagePreset, error)
	Render(ctx context.Context, workspaceID, pageKey string) (*page.Page, error)
}

// ServerOption configures optional server components.
type ServerOption func(*Server)

// WithEngineAdmin enables the engine and kill-switch routes.
func WithEngineAdmin(a EngineAdmin) ServerOption {
	return func(s *Server) { s.engines = a }
}

// WithFlowRunner enables flow runs.
func WithFlowRunner(r FlowRunner) ServerOption {
	return func(s *Server) { s.flows = r }
}

// WithWorkspaceCreator enables workspace creation.
func WithWorkspaceCreator(w WorkspaceCreator) ServerOption {
	return func(s *Server) { s.workspaces = w }
}

// WithFileAuditor enables audited file changes.
func WithFileAuditor(f FileAuditor) ServerOption {
	return func(s *Server) { s.files = f }
}

// WithRuleAuditor enables rule-level audits.
func WithRuleAuditor(r RuleAuditor) ServerOption {
	return func(s *Server) { s.audits = r }
}

// WithPathGuard restricts audited file changes to allowed roots.
func WithPathGuard(g *audit.PathGuard) ServerOption {
	return func(s *Server) { s.guard = g }
}

// WithPageRenderer enables the page routes.
func WithPageRenderer(p PageRenderer) ServerOption {
	return func(s *Server) { s.pages = p }
}

// Server is the admin HTTP server.
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	server *http.Server

	engines    EngineAdmin
	flows      FlowRunner
	workspaces WorkspaceCreator
	files      FileAuditor
	audits     RuleAuditor
	pages      PageRenderer
	guard      *audit.PathGuard
}

// NewServer builds the gin engine and registers every route. Components not
// supplied through options answer 503.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	s.engine = engine
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.healthz)

	v1 := s.engine.Group("/v1")
	{
		v1.GET("/engines", s.listEngines)
		v1.PATCH("/engines/:id", s.patchEngine)
		v1.GET("/router/kill-switch", s.getKillSwitch)
		v1.PUT("/router/kill-switch/:provider", s.putKillSwitch)

		v1.POST("/workspaces", s.createWorkspace)
		v1.POST("/workspaces/:id/flows/:key/run", s.runFlow)
		v1.GET("/workspaces/:id/pages", s.listPages)
		v1.GET("/workspaces/:id/pages/:key", s.renderPage)
		v1.GET("/workspaces/:id/pages/:key/definition", s.pageDefinition)

		v1.POST("/audit/files", s.auditFile)
		v1.POST("/audit/workspaces/:id/flows", s.auditWorkspaceFlows)
		v1.POST("/audit/presets", s.auditPresets)
	}
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("flowforge API listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	log.Info("flowforge API stopped")
	return <-errCh
}
