// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/api"
	"github.com/traylinx/flowforge/internal/audit"
	"github.com/traylinx/flowforge/internal/audit/rules"
	"github.com/traylinx/flowforge/internal/blob"
	"github.com/traylinx/flowforge/internal/config"
	"github.com/traylinx/flowforge/internal/engine"
	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/flow"
	"github.com/traylinx/flowforge/internal/page"
	"github.com/traylinx/flowforge/internal/pattern"
	"github.com/traylinx/flowforge/internal/sandbox"
	"github.com/traylinx/flowforge/internal/store"
	"github.com/traylinx/flowforge/internal/teaching"
	"github.com/traylinx/flowforge/internal/util"
	"github.com/traylinx/flowforge/internal/workspace"
)

// App holds every wired component for one process.
type App struct {
	Config *config.Config
	Store  store.Store
	Bus    *events.Bus

	Router       *engine.Router
	Flows        *flow.Engine
	Runtime      *flow.Runtime
	Sandbox      *sandbox.Engine
	Teaching     *teaching.Engine
	Patterns     *pattern.Engine
	Audit        *audit.Engine
	Orchestrator *audit.Orchestrator
	Files        *audit.FileAuditor
	Guard        *audit.PathGuard
	Factory      *workspace.Factory
	Pages        *page.Engine
	Archive      blob.Store

	fileLog    *events.FileLog
	ruleLoader *rules.Loader
}

// openStore selects the persistence backend.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn("Using in-memory store; state is lost on exit")
		return store.NewMemoryStore(), nil
	}
	return store.OpenSQL(ctx, store.SQLConfig{Driver: cfg.Driver, DSN: cfg.DSN})
}

// buildRegistry starts from the stub providers and replaces any configured
// with an OpenAI-compatible backend.
func buildRegistry(cfg *config.Config, sink events.Sink) *engine.Registry {
	registry := engine.NewDefaultRegistry(sink)
	for _, p := range cfg.Providers {
		if p.Name == "" || p.BaseURL == "" {
			log.Warnf("Skipping provider with missing name or base-url: %+v", p.Name)
			continue
		}
		registry.Register(p.Name, engine.NewOpenAICompatProvider(engine.OpenAICompatOptions{
			Name:    p.Name,
			BaseURL: p.BaseURL,
			APIKey:  p.ResolvedAPIKey(),
			Headers: p.Headers,
			Timeout: time.Duration(p.TimeoutMs) * time.Millisecond,
		}))
		log.Infof("Registered provider %s at %s", p.Name, p.BaseURL)
	}
	return registry
}

// NewApp wires the components described by cfg.
func NewApp(ctx context.Context, cfg *config.Config) (app *App, err error) {
	app = &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	app.Bus = events.NewBus(0)
	app.fileLog, err = events.NewFileLog(events.FileLogConfig{
		Enabled:    cfg.Events.Enabled,
		LogPath:    cfg.Events.LogPath,
		MaxSizeMB:  cfg.Events.MaxSizeMB,
		MaxBackups: cfg.Events.MaxBackups,
		MaxAgeDays: cfg.Events.MaxAgeDays,
		Compress:   cfg.Events.Compress,
	})
	if err != nil {
		return app, fmt.Errorf("events: %w", err)
	}
	app.fileLog.Attach(app.Bus)

	app.Store, err = openStore(ctx, cfg.Database)
	if err != nil {
		return app, err
	}

	app.Archive, err = blob.Open(ctx, cfg.Blob)
	if err != nil {
		return app, err
	}

	app.Router = engine.NewRouter(app.Store, buildRegistry(cfg, app.Bus), app.Bus, engine.RouterOptions{
		InternalProvider:  cfg.Router.InternalProvider,
		KillSwitch:        cfg.Router.KillSwitch,
		GenerationTimeout: cfg.Router.GenerationTimeout(),
	})

	app.Patterns = pattern.NewEngine(app.Store, app.Bus)
	app.Teaching = teaching.NewEngine(app.Store, app.Patterns, app.Bus)

	locks := util.NewKeyedMutex()
	flowOpts := flow.Options{Learner: app.Patterns, Locks: locks}
	if app.Archive != nil {
		flowOpts.Archive = app.Archive
	}
	app.Flows = flow.NewEngine(app.Store, app.Router, app.Bus, flowOpts)
	app.Runtime = flow.NewRuntime(app.Store, app.Flows, app.Bus, cfg.Runtime.MaxRetries)

	app.Sandbox, err = sandbox.NewEngine(app.Store, app.Teaching, app.Bus, sandbox.Options{
		Timeout:       cfg.Sandbox.Timeout(),
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
		Commands:      cfg.Sandbox.Commands,
		WorkDir:       cfg.Sandbox.WorkDir,
	})
	if err != nil {
		return app, err
	}

	app.Guard = audit.NewPathGuard(cfg.Audit.AllowedRoots)
	app.Files = audit.NewFileAuditor(app.Store, app.Sandbox, app.Teaching, app.Bus, audit.FileOptions{
		RemoveUnvalidatedFirstWrite: cfg.Audit.RemoveUnvalidatedFirstWrite,
		ReadOnly:                    cfg.Audit.ReadOnly,
	})

	ruleSet := audit.NewRuleSet(rules.Defaults()...)
	if cfg.Audit.RulesDir != "" {
		app.ruleLoader = rules.NewLoader(cfg.Audit.RulesDir, ruleSet)
		if _, err = app.ruleLoader.Load(); err != nil {
			return app, fmt.Errorf("audit rules: %w", err)
		}
		if cfg.Audit.WatchRules {
			if err = app.ruleLoader.StartWatcher(); err != nil {
				return app, fmt.Errorf("audit rules watcher: %w", err)
			}
		}
	}
	actions := audit.NewActionExecutor(app.Store, app.Guard, app.Bus)
	actions.SetReadOnly(cfg.Audit.ReadOnly)
	app.Audit = audit.NewEngine(ruleSet, actions, app.Bus)

	catalog, err := workspace.LoadCatalog(cfg.Workspace.PresetsDir)
	if err != nil {
		return app, err
	}
	app.Factory = workspace.NewFactory(app.Store, catalog, app.Bus)
	app.Orchestrator = audit.NewOrchestrator(app.Store, app.Audit, catalog, app.Bus)
	app.Pages = page.NewEngine(app.Store, catalog, app.Bus)
	return app, nil
}

// Server builds the HTTP API over the app's components.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Config,
		api.WithEngineAdmin(a.Router),
		api.WithFlowRunner(a.Runtime),
		api.WithWorkspaceCreator(a.Factory),
		api.WithFileAuditor(a.Files),
		api.WithRuleAuditor(a.Orchestrator),
		api.WithPathGuard(a.Guard),
		api.WithPageRenderer(a.Pages),
	)
}

// BootstrapResult is the outcome of Bootstrap.
type BootstrapResult struct {
	WorkspaceID string             `json:"workspace_id"`
	Audit       *audit.AuditReport `json:"-"`
}

// Bootstrap creates a workspace and optionally audits its flows.
func (a *App) Bootstrap(ctx context.Context, name, workspaceType, ownerID string, runAudit bool) (*BootstrapResult, error) {
	traceID := util.NewTraceID()
	ws, err := a.Factory.CreateWorkspace(ctx, name, workspaceType, ownerID, nil)
	if err != nil {
		return nil, err
	}
	a.Bus.LogEvent("bootstrap", "Workspace created", traceID, map[string]any{
		"workspace_id":   ws.ID,
		"workspace_type": ws.WorkspaceType,
	})
	result := &BootstrapResult{WorkspaceID: ws.ID}
	if !runAudit {
		return result, nil
	}

	result.Audit, err = a.Orchestrator.AuditWorkspaceFlows(ctx, ws.ID, audit.DefaultAuditOptions())
	if err != nil {
		return result, err
	}
	a.Bus.LogEvent("bootstrap", "Workspace audit complete", traceID, map[string]any{"workspace_id": ws.ID})
	return result, nil
}

// Close releases resources in reverse wiring order.
func (a *App) Close() {
	if a.ruleLoader != nil {
		a.ruleLoader.StopWatcher()
	}
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Bus != nil {
		a.Bus.Shutdown()
	}
	if a.fileLog != nil {
		errs = append(errs, a.fileLog.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Warnf("shutdown: %v", err)
	}
}
