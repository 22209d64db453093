// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/traylinx/flowforge/internal/audit"
	"github.com/traylinx/flowforge/internal/models"
)

// withApp loads configuration, wires the app and runs fn with a context
// canceled on SIGINT or SIGTERM.
func withApp(opts *rootOptions, fn func(ctx context.Context, app *App) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(ctx context.Context, app *App) error {
				return app.Server().Start(ctx)
			})
		},
	}
}

func newBootstrapCommand(opts *rootOptions) *cobra.Command {
	var name, workspaceType, owner string
	var runAudit bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create a workspace from a preset and audit its flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(ctx context.Context, app *App) error {
				res, err := app.Bootstrap(ctx, name, workspaceType, owner, runAudit)
				if err != nil {
					return err
				}
				out := map[string]any{"workspace_id": res.WorkspaceID}
				if res.Audit != nil {
					out["audit"] = audit.ToMap(res.Audit)
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "Software Dev Demo", "workspace name")
	cmd.Flags().StringVar(&workspaceType, "type", "software_dev", "workspace type (industry preset)")
	cmd.Flags().StringVar(&owner, "owner", "system", "owner id")
	cmd.Flags().BoolVar(&runAudit, "audit", true, "audit the new workspace's flows")
	return cmd
}

func newRunFlowCommand(opts *rootOptions) *cobra.Command {
	var workspaceID, key, input string
	cmd := &cobra.Command{
		Use:   "run-flow",
		Short: "Run a workspace flow by key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var payload map[string]any
			if input != "" {
				if err := json.Unmarshal([]byte(input), &payload); err != nil {
					return fmt.Errorf("invalid --input JSON: %w", err)
				}
			}
			return withApp(opts, func(ctx context.Context, app *App) error {
				res, err := app.Runtime.RunFlowByKey(ctx, workspaceID, key, payload, "")
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Status != models.FlowRunSuccess {
					return fmt.Errorf("flow %s failed after %d attempt(s): %s", key, res.Attempts, res.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	cmd.Flags().StringVar(&key, "key", "", "flow key")
	cmd.Flags().StringVar(&input, "input", "", "flow input as a JSON object")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newApplyCommand(opts *rootOptions) *cobra.Command {
	var workspaceID, path, file, language, command string
	var dryRun, noSandbox bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a file change behind backup, sandbox validation and rollback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var content []byte
			var err error
			if file == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
			} else {
				content, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read new content: %w", err)
			}
			return withApp(opts, func(ctx context.Context, app *App) error {
				if forbidden, reason := app.Guard.CheckPath(path); forbidden {
					return fmt.Errorf("refusing to modify %s: %s", path, reason)
				}
				change := audit.NewFileChange(workspaceID, path, string(content), language)
				change.DryRun = dryRun
				change.RunSandbox = !noSandbox
				change.Command = command

				result, err := app.Files.ApplyChangeWithAudit(ctx, change)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if result.AuditStatus == audit.StatusFailed {
					return fmt.Errorf("change to %s failed validation and was rolled back", path)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	cmd.Flags().StringVar(&path, "path", "", "target file path")
	cmd.Flags().StringVar(&file, "file", "-", "file holding the new content, - for stdin")
	cmd.Flags().StringVar(&language, "language", "python", "language used for sandbox validation")
	cmd.Flags().StringVar(&command, "command", "", "override the sandbox command")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record the audit without writing")
	cmd.Flags().BoolVar(&noSandbox, "no-sandbox", false, "skip sandbox validation")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newAuditCommand(opts *rootOptions) *cobra.Command {
	var applyFixes, dryRun bool
	auditOpts := func() audit.AuditOptions {
		return audit.AuditOptions{ApplyFixes: applyFixes, DryRun: dryRun}
	}
	printReport := func(cmd *cobra.Command, report *audit.AuditReport) error {
		out, err := audit.ToJSON(report)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run rule-level audits",
	}
	cmd.PersistentFlags().BoolVar(&applyFixes, "apply-fixes", false, "apply the actions proposed by rules")
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", true, "simulate actions instead of executing them")

	cmd.AddCommand(&cobra.Command{
		Use:   "presets",
		Short: "Audit the industry presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(ctx context.Context, app *App) error {
				report, err := app.Orchestrator.AuditIndustryPresets(ctx, auditOpts())
				if err != nil {
					return err
				}
				return printReport(cmd, report)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "workspace <workspace-id>",
		Short: "Audit the flows of one workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, app *App) error {
				report, err := app.Orchestrator.AuditWorkspaceFlows(ctx, args[0], auditOpts())
				if err != nil {
					return err
				}
				return printReport(cmd, report)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Audit the flows of every workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(ctx context.Context, app *App) error {
				reports, err := app.Orchestrator.AuditAllWorkspaces(ctx, auditOpts())
				out := make(map[string]any, len(reports))
				for id, report := range reports {
					out[id] = audit.ToMap(report)
				}
				if printErr := printJSON(cmd.OutOrStdout(), out); printErr != nil {
					return printErr
				}
				return err
			})
		},
	})
	return cmd
}

func newEnginesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engines",
		Short: "Inspect and toggle engine configurations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List engine configurations in priority order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(ctx context.Context, app *App) error {
				engines, err := app.Router.ListEngines(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), engines)
			})
		},
	})

	var enabled bool
	toggle := &cobra.Command{
		Use:   "toggle <engine-id>",
		Short: "Enable or disable an engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, app *App) error {
				e, err := app.Router.SetEngineEnabled(ctx, args[0], enabled)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), e)
			})
		},
	}
	toggle.Flags().BoolVar(&enabled, "enabled", true, "whether the engine is enabled")
	cmd.AddCommand(toggle)
	return cmd
}

func newPageCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "page <workspace-id> <page-key>",
		Short: "Render a workspace page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, app *App) error {
				p, err := app.Pages.Render(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}
