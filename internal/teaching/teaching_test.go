package teaching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/pattern"
	"github.com/traylinx/flowforge/internal/store"
)

type countingPatterns struct {
	mu     sync.Mutex
	errors int
	fixes  int
	diffs  int
}

func (c *countingPatterns) LearnFromError(context.Context, *models.ErrorPattern) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
	return nil
}

func (c *countingPatterns) LearnFromFix(context.Context, *models.FixPattern) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixes++
	return nil
}

func (c *countingPatterns) LearnFromDiff(context.Context, *models.CodeDiff) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diffs++
	return "hash", nil
}

func finishedRun(status string, latency time.Duration, class, message string) *models.CodeSandboxRun {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	end := start.Add(latency)
	code := 0
	if status == models.SandboxFailed {
		code = 1
	}
	return &models.CodeSandboxRun{
		ID:            "run",
		WorkspaceID:   "ws",
		Status:        status,
		StartedAt:     start,
		FinishedAt:    &end,
		ExitCode:      &code,
		ErrorClass:    class,
		ErrorMessage:  message,
		Stderr:        message,
		ErrorMetadata: map[string]any{"provider": "openai", "model": "gpt-4o", "exit_code": code},
	}
}

func TestSignature(t *testing.T) {
	assert.Equal(t, Signature("RuntimeError", "boom"), Signature("RuntimeError", "boom"))
	assert.NotEqual(t, Signature("RuntimeError", "boom"), Signature("Timeout", "boom"))
	assert.Equal(t, Signature(UnknownErrorClass, "boom"), Signature("", "boom"))
	assert.Len(t, Signature("x", "y"), 64)
}

func TestLearnFromSandbox_FailureRecordsPatternOnce(t *testing.T) {
	s := store.NewMemoryStore()
	patterns := &countingPatterns{}
	e := NewEngine(s, patterns, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.LearnFromSandbox(ctx, finishedRun(models.SandboxFailed, 100*time.Millisecond, "RuntimeError", "NameError: x")))
	}

	all, err := s.ListErrorPatterns(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "RuntimeError", all[0].ErrorClass)
	assert.Equal(t, Signature("RuntimeError", "NameError: x"), all[0].Signature)
	assert.Equal(t, "NameError: x", all[0].Metadata["message"])
	assert.Equal(t, 1, patterns.errors)

	wa, err := s.GetWorkspaceAnalytics(ctx, "ws")
	require.NoError(t, err)
	assert.EqualValues(t, 3, wa.TotalErrors)
}

func TestLearnFromSandbox_MissingClassUsesUnknown(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, nil, nil)

	require.NoError(t, e.LearnFromSandbox(context.Background(), finishedRun(models.SandboxFailed, 0, "", "boom")))
	p, err := s.GetErrorPatternBySignature(context.Background(), Signature(UnknownErrorClass, "boom"))
	require.NoError(t, err)
	assert.Equal(t, UnknownErrorClass, p.ErrorClass)
}

func TestLearnFromSandbox_SuccessTouchesOnlyPerformance(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	require.NoError(t, e.LearnFromSandbox(ctx, finishedRun(models.SandboxSuccess, 200*time.Millisecond, "", "")))

	patterns, err := s.ListErrorPatterns(ctx)
	require.NoError(t, err)
	assert.Empty(t, patterns)

	_, err = s.GetWorkspaceAnalytics(ctx, "ws")
	assert.ErrorIs(t, err, store.ErrNotFound)

	perf, err := s.GetEnginePerformance(ctx, "openai", "gpt-4o")
	require.NoError(t, err)
	assert.EqualValues(t, 1, perf.TotalCalls)
	assert.EqualValues(t, 0, perf.TotalFailures)
	assert.EqualValues(t, 100, perf.AvgLatencyMs)
}

func TestLearnFromSandbox_LatencyFold(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	cfg := &models.EngineConfig{Provider: "openai", Model: "gpt-4o", Enabled: true, AvgLatencyMs: 400}
	require.NoError(t, s.CreateEngineConfig(ctx, cfg))

	require.NoError(t, e.LearnFromSandbox(ctx, finishedRun(models.SandboxSuccess, 200*time.Millisecond, "", "")))
	require.NoError(t, e.LearnFromSandbox(ctx, finishedRun(models.SandboxFailed, 600*time.Millisecond, "RuntimeError", "x")))

	perf, err := s.GetEnginePerformance(ctx, "openai", "gpt-4o")
	require.NoError(t, err)
	assert.EqualValues(t, 2, perf.TotalCalls)
	assert.EqualValues(t, 1, perf.TotalFailures)
	// (0+200)/2 = 100, then (100+600)/2 = 350.
	assert.EqualValues(t, 350, perf.AvgLatencyMs)

	stored, err := s.GetEngineConfig(ctx, cfg.ID)
	require.NoError(t, err)
	// (400+200)/2 = 300, then (300+600)/2 = 450.
	assert.EqualValues(t, 450, stored.AvgLatencyMs)
}

func TestLearnFromSandbox_DefaultsProviderAndModel(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, nil, nil)

	run := finishedRun(models.SandboxSuccess, 0, "", "")
	run.ErrorMetadata = nil
	require.NoError(t, e.LearnFromSandbox(context.Background(), run))

	perf, err := s.GetEnginePerformance(context.Background(), "unknown", "unknown")
	require.NoError(t, err)
	assert.EqualValues(t, 1, perf.TotalCalls)
}

func TestLearnFromDiff_PersistsAndHashes(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, pattern.NewEngine(s, nil), nil)
	ctx := context.Background()

	d := &models.CodeDiff{ArtifactVersionID: "v1", Before: "a", After: "b", Diff: "- a\n+ b"}
	hash, err := e.LearnFromDiff(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, pattern.Hash("- a\n+ b"), hash)

	diffs, err := s.ListCodeDiffs(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, hash, diffs[0].Metadata["diff_hash"])
}

func TestLearnFixForError(t *testing.T) {
	s := store.NewMemoryStore()
	patterns := &countingPatterns{}
	rec := &events.Recorder{}
	e := NewEngine(s, patterns, rec)
	ctx := context.Background()

	fix, err := e.LearnFixForError(ctx, "pattern-1", "declare x first", "x = 0")
	require.NoError(t, err)
	assert.NotEmpty(t, fix.ID)

	fixes, err := s.ListFixPatterns(ctx, "pattern-1")
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, "declare x first", fixes[0].FixDescription)
	assert.Equal(t, 1, patterns.fixes)
}

type failingPerformanceStore struct {
	*store.MemoryStore
}

func (failingPerformanceStore) SaveEnginePerformance(context.Context, *models.EnginePerformance) error {
	return errors.New("disk full")
}

func TestLearnFromSandbox_ContinuesAfterStepError(t *testing.T) {
	s := failingPerformanceStore{store.NewMemoryStore()}
	e := NewEngine(s, nil, nil)
	ctx := context.Background()

	err := e.LearnFromSandbox(ctx, finishedRun(models.SandboxFailed, 0, "RuntimeError", "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	wa, err := s.GetWorkspaceAnalytics(ctx, "ws")
	require.NoError(t, err)
	assert.EqualValues(t, 1, wa.TotalErrors)
}

func TestProperty_SignatureDedup(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("distinct signatures equal distinct (class, message) pairs", prop.ForAll(
		func(codes []int) bool {
			s := store.NewMemoryStore()
			e := NewEngine(s, nil, nil)
			seen := map[string]bool{}
			for _, c := range codes {
				m := fmt.Sprintf("error %d", c)
				seen[m] = true
				if err := e.LearnFromSandbox(context.Background(), finishedRun(models.SandboxFailed, 0, "RuntimeError", m)); err != nil {
					return false
				}
			}
			all, err := s.ListErrorPatterns(context.Background())
			return err == nil && len(all) == len(seen)
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
