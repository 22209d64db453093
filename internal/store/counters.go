package store

import (
	"context"
	"errors"
	"sync"

	"github.com/traylinx/flowforge/internal/models"
)

// counterMu serializes read-modify-write cycles on counter rows within a
// process.
var counterMu sync.Mutex

// BumpWorkspaceAnalytics fetches or creates the analytics row for the
// workspace, applies fn and saves it.
func BumpWorkspaceAnalytics(ctx context.Context, s Store, workspaceID string, fn func(*models.WorkspaceAnalytics)) error {
	counterMu.Lock()
	defer counterMu.Unlock()

	wa, err := s.GetWorkspaceAnalytics(ctx, workspaceID)
	if errors.Is(err, ErrNotFound) {
		wa = &models.WorkspaceAnalytics{WorkspaceID: workspaceID}
	} else if err != nil {
		return err
	}
	fn(wa)
	return s.SaveWorkspaceAnalytics(ctx, wa)
}

// BumpEnginePerformance fetches or creates the performance row for
// (provider, model), applies fn and saves it.
func BumpEnginePerformance(ctx context.Context, s Store, provider, model string, fn func(*models.EnginePerformance)) error {
	counterMu.Lock()
	defer counterMu.Unlock()

	perf, err := s.GetEnginePerformance(ctx, provider, model)
	if errors.Is(err, ErrNotFound) {
		perf = &models.EnginePerformance{Provider: provider, Model: model}
	} else if err != nil {
		return err
	}
	fn(perf)
	return s.SaveEnginePerformance(ctx, perf)
}
