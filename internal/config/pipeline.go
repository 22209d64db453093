// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"strings"
	"time"
)

// RouterConfig controls engine selection.
type RouterConfig struct {
	// InternalProvider is the last-resort provider used when every enabled
	// engine is switched off. Default: "internal".
	InternalProvider string `yaml:"internal-provider" json:"internal-provider"`

	// KillSwitch overrides per-provider availability at runtime. Providers not
	// listed are enabled.
	KillSwitch map[string]bool `yaml:"kill-switch" json:"kill-switch"`

	// GenerationTimeoutMs bounds each provider call. 0 disables the deadline.
	// Default: 120000 (2 minutes).
	GenerationTimeoutMs int `yaml:"generation-timeout-ms" json:"generation-timeout-ms"`
}

// GenerationTimeout returns the provider call deadline.
func (r RouterConfig) GenerationTimeout() time.Duration {
	return time.Duration(r.GenerationTimeoutMs) * time.Millisecond
}

// RuntimeConfig controls flow retries.
type RuntimeConfig struct {
	// MaxRetries is the number of retries after the first attempt. Default: 1.
	MaxRetries int `yaml:"max-retries" json:"max-retries"`
}

// SandboxConfig controls subprocess execution.
type SandboxConfig struct {
	// TimeoutMs is the hard wall-clock limit per run. Default: 30000.
	TimeoutMs int `yaml:"timeout-ms" json:"timeout-ms"`

	// MaxConcurrent bounds simultaneous sandbox processes. Default: 4.
	MaxConcurrent int `yaml:"max-concurrent" json:"max-concurrent"`

	// Commands overrides the interpreter command per language, e.g.
	// {"python": "python3 -I script.py"}.
	Commands map[string]string `yaml:"commands,omitempty" json:"commands,omitempty"`

	// WorkDir is the parent of per-run temp directories. Empty uses the OS default.
	WorkDir string `yaml:"work-dir" json:"work-dir"`
}

// Timeout returns the per-run limit.
func (s SandboxConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// AuditConfig controls file mutation safety and rule evaluation.
type AuditConfig struct {
	// RulesDir holds YAML and Lua rule packs.
	RulesDir string `yaml:"rules-dir" json:"rules-dir"`

	// WatchRules hot-reloads RulesDir on change.
	WatchRules bool `yaml:"watch-rules" json:"watch-rules"`

	// AllowedRoots restricts file actions to these directories. Empty allows any path.
	AllowedRoots []string `yaml:"allowed-roots" json:"allowed-roots"`

	// RemoveUnvalidatedFirstWrite deletes a newly created file whose sandbox
	// validation failed. When false the file keeps the rejected content.
	// Default: false.
	RemoveUnvalidatedFirstWrite bool `yaml:"remove-unvalidated-first-write" json:"remove-unvalidated-first-write"`

	// ReadOnly refuses every file write made by audits and audit actions.
	ReadOnly bool `yaml:"read-only" json:"read-only"`
}

// SanitizeRouter normalizes provider names.
func (cfg *Config) SanitizeRouter() {
	r := &cfg.Router
	r.InternalProvider = strings.ToLower(strings.TrimSpace(r.InternalProvider))
	if r.InternalProvider == "" {
		r.InternalProvider = "internal"
	}
	if len(r.KillSwitch) > 0 {
		normalized := make(map[string]bool, len(r.KillSwitch))
		for k, v := range r.KillSwitch {
			normalized[strings.ToLower(strings.TrimSpace(k))] = v
		}
		r.KillSwitch = normalized
	}
	if r.GenerationTimeoutMs < 0 {
		r.GenerationTimeoutMs = 0
	}
}

// SanitizeRuntime clamps retries to [0, 10].
func (cfg *Config) SanitizeRuntime() {
	if cfg.Runtime.MaxRetries < 0 {
		cfg.Runtime.MaxRetries = 0
	}
	if cfg.Runtime.MaxRetries > 10 {
		cfg.Runtime.MaxRetries = 10
	}
}

// SanitizeSandbox enforces a minimum timeout and concurrency.
func (cfg *Config) SanitizeSandbox() {
	s := &cfg.Sandbox
	if s.TimeoutMs < 100 {
		s.TimeoutMs = 100 // Minimum 100ms
	}
	if s.TimeoutMs > 10*60*1000 {
		s.TimeoutMs = 10 * 60 * 1000 // Maximum 10 minutes
	}
	if s.MaxConcurrent < 1 {
		s.MaxConcurrent = 1
	}
	if len(s.Commands) > 0 {
		normalized := make(map[string]string, len(s.Commands))
		for lang, cmd := range s.Commands {
			lang = strings.ToLower(strings.TrimSpace(lang))
			cmd = strings.TrimSpace(cmd)
			if lang == "" || cmd == "" {
				continue
			}
			normalized[lang] = cmd
		}
		s.Commands = normalized
	}
}

// SanitizeAudit cleans allowed roots.
func (cfg *Config) SanitizeAudit() {
	a := &cfg.Audit
	a.RulesDir = strings.TrimSpace(a.RulesDir)
	roots := make([]string, 0, len(a.AllowedRoots))
	for _, root := range a.AllowedRoots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		roots = append(roots, filepath.Clean(root))
	}
	a.AllowedRoots = roots
}
