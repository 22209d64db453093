// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traylinx/flowforge/internal/audit"
	"github.com/traylinx/flowforge/internal/engine"
	"github.com/traylinx/flowforge/internal/flow"
	"github.com/traylinx/flowforge/internal/logging"
	"github.com/traylinx/flowforge/internal/page"
	"github.com/traylinx/flowforge/internal/store"
	"github.com/traylinx/flowforge/internal/workspace"
)

// ToggleRequest enables or disables an engine or provider.
type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// CreateWorkspaceRequest is the body of POST /v1/workspaces.
type CreateWorkspaceRequest struct {
	Name          string         `json:"name" binding:"required"`
	WorkspaceType string         `json:"workspace_type" binding:"required"`
	OwnerID       string         `json:"owner_id,omitempty"`
	Settings      map[string]any `json:"settings,omitempty"`
}

// RunFlowRequest is the body of a flow run.
type RunFlowRequest struct {
	Input map[string]any `json:"input"`
}

// FileChangeRequest is the body of POST /v1/audit/files.
type FileChangeRequest struct {
	WorkspaceID string `json:"workspace_id"`
	FilePath    string `json:"file_path" binding:"required"`
	NewContent  string `json:"new_content"`
	Language    string `json:"language,omitempty"`
	// RunSandbox defaults to true.
	RunSandbox *bool  `json:"run_sandbox,omitempty"`
	DryRun     bool   `json:"dry_run"`
	Command    string `json:"command,omitempty"`
}

// AuditRequest is the optional body of rule-level audits.
type AuditRequest struct {
	ApplyFixes bool `json:"apply_fixes"`
	// DryRun defaults to true.
	DryRun *bool `json:"dry_run,omitempty"`
}

func (r AuditRequest) options() audit.AuditOptions {
	opts := audit.DefaultAuditOptions()
	opts.ApplyFixes = r.ApplyFixes
	if r.DryRun != nil {
		opts.DryRun = *r.DryRun
	}
	return opts
}

// statusFor maps configuration errors to client statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, flow.ErrFlowNotFound), errors.Is(err, page.ErrPageNotFound):
		return http.StatusNotFound
	case errors.Is(err, workspace.ErrUnknownWorkspaceType),
		errors.Is(err, audit.ErrInvalidPath),
		errors.Is(err, engine.ErrNoEngineAvailable),
		errors.Is(err, engine.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error(), "trace_id": logging.TraceID(c)})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not enabled"})
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listEngines(c *gin.Context) {
	if s.engines == nil {
		unavailable(c, "engine admin")
		return
	}
	engines, err := s.engines.ListEngines(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"engines": engines})
}

func (s *Server) patchEngine(c *gin.Context) {
	if s.engines == nil {
		unavailable(c, "engine admin")
		return
	}
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	cfg, err := s.engines.SetEngineEnabled(c.Request.Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) getKillSwitch(c *gin.Context) {
	if s.engines == nil {
		unavailable(c, "engine admin")
		return
	}
	c.JSON(http.StatusOK, gin.H{"kill_switch": s.engines.KillSwitch()})
}

func (s *Server) putKillSwitch(c *gin.Context) {
	if s.engines == nil {
		unavailable(c, "engine admin")
		return
	}
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	s.engines.SetKillSwitch(c.Param("provider"), *req.Enabled)
	c.JSON(http.StatusOK, gin.H{"kill_switch": s.engines.KillSwitch()})
}

func (s *Server) createWorkspace(c *gin.Context) {
	if s.workspaces == nil {
		unavailable(c, "workspace factory")
		return
	}
	var req CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	ws, err := s.workspaces.CreateWorkspace(c.Request.Context(), req.Name, req.WorkspaceType, req.OwnerID, req.Settings)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ws)
}

func (s *Server) runFlow(c *gin.Context) {
	if s.flows == nil {
		unavailable(c, "flow runtime")
		return
	}
	var req RunFlowRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	res, err := s.flows.RunFlowByKey(c.Request.Context(), c.Param("id"), c.Param("key"), req.Input, logging.TraceID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listPages(c *gin.Context) {
	if s.pages == nil {
		unavailable(c, "page engine")
		return
	}
	pages, err := s.pages.Pages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspace_id": c.Param("id"), "pages": pages})
}

func (s *Server) pageDefinition(c *gin.Context) {
	if s.pages == nil {
		unavailable(c, "page engine")
		return
	}
	def, err := s.pages.Definition(c.Request.Context(), c.Param("id"), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspace_id": c.Param("id"), "page_key": def.Key, "page": def})
}

func (s *Server) renderPage(c *gin.Context) {
	if s.pages == nil {
		unavailable(c, "page engine")
		return
	}
	p, err := s.pages.Render(c.Request.Context(), c.Param("id"), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) auditFile(c *gin.Context) {
	if s.files == nil {
		unavailable(c, "file auditor")
		return
	}
	var req FileChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if forbidden, reason := s.guard.CheckPath(req.FilePath); forbidden {
		c.JSON(http.StatusForbidden, gin.H{"error": reason})
		return
	}

	change := audit.NewFileChange(req.WorkspaceID, req.FilePath, req.NewContent, req.Language)
	change.DryRun = req.DryRun
	change.Command = req.Command
	if req.RunSandbox != nil {
		change.RunSandbox = *req.RunSandbox
	}

	result, err := s.files.ApplyChangeWithAudit(c.Request.Context(), change)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) bindAudit(c *gin.Context) (audit.AuditOptions, bool) {
	var req AuditRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return audit.AuditOptions{}, false
		}
	}
	return req.options(), true
}

func (s *Server) auditWorkspaceFlows(c *gin.Context) {
	if s.audits == nil {
		unavailable(c, "rule auditor")
		return
	}
	opts, ok := s.bindAudit(c)
	if !ok {
		return
	}
	report, err := s.audits.AuditWorkspaceFlows(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit.ToMap(report))
}

func (s *Server) auditPresets(c *gin.Context) {
	if s.audits == nil {
		unavailable(c, "rule auditor")
		return
	}
	opts, ok := s.bindAudit(c)
	if !ok {
		return
	}
	report, err := s.audits.AuditIndustryPresets(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, audit.ToMap(report))
}
