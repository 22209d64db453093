package pattern

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/store"
)

// seedArtifact stores a fresh artifact under a unique key with one version
// per content.
func seedArtifact(t *testing.T, s store.Store, contents ...string) *models.Artifact {
	t.Helper()
	ctx := context.Background()
	existing, err := s.ListArtifacts(ctx, "ws")
	require.NoError(t, err)
	key := fmt.Sprintf("flow:step-%d", len(existing)+1)
	a := &models.Artifact{WorkspaceID: "ws", ArtifactType: "code", Key: key, Metadata: map[string]any{"step": "step"}}
	require.NoError(t, s.CreateArtifact(ctx, a))
	for i, c := range contents {
		require.NoError(t, s.CreateArtifactVersion(ctx, &models.ArtifactVersion{ArtifactID: a.ID, VersionIndex: i + 1, Content: c}))
	}
	return a
}

func TestLearnFromArtifact_KeyIsOrderInsensitive(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, nil)
	ctx := context.Background()

	a := seedArtifact(t, s, `{"kind":"code","content":"x = 1","metadata":{"b":2,"a":1}}`)
	b := seedArtifact(t, s, "{\n  \"metadata\": {\"a\": 1, \"b\": 2},\n  \"content\": \"x = 1\",\n  \"kind\": \"code\"\n}")

	keyA, err := e.LearnFromArtifact(ctx, a.ID)
	require.NoError(t, err)
	keyB, err := e.LearnFromArtifact(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
	assert.Regexp(t, `^v1:[0-9a-f]{64}$`, keyA)

	stored, err := s.GetArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, keyA, stored.Metadata["pattern_key"])
	assert.Equal(t, "step", stored.Metadata["step"])
}

func TestLearnFromArtifact_UsesLatestVersion(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, nil)

	a := seedArtifact(t, s, `{"v":1}`, `{"v":2}`)
	key, err := e.LearnFromArtifact(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, ArtifactKey([]byte(`{"v":2}`)), key)
}

func TestLearnFromArtifact_SkipsNonRecordContent(t *testing.T) {
	s := store.NewMemoryStore()
	rec := &events.Recorder{}
	e := NewEngine(s, rec)

	for _, content := range []string{"print('hi')", `[1,2,3]`, `"str"`, `null`, `{"a":1} trailing`} {
		a := seedArtifact(t, s, content)
		key, err := e.LearnFromArtifact(context.Background(), a.ID)
		require.NoError(t, err, content)
		assert.Empty(t, key, content)

		stored, err := s.GetArtifact(context.Background(), a.ID)
		require.NoError(t, err)
		assert.NotContains(t, stored.Metadata, "pattern_key")
	}
	assert.True(t, rec.Has(engineName, "Artifact is not IR-based; skipping"))
}

func TestLearnFromArtifact_NoVersions(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, nil)
	a := seedArtifact(t, s)

	key, err := e.LearnFromArtifact(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestLearnFromArtifact_UnknownArtifact(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), nil)
	_, err := e.LearnFromArtifact(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLearnFromDiff(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, nil)
	ctx := context.Background()

	d := &models.CodeDiff{ArtifactVersionID: "v", Before: "a", After: "b", Diff: "- a\n+ b"}
	require.NoError(t, s.CreateCodeDiff(ctx, d))

	hash, err := e.LearnFromDiff(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, Hash("- a\n+ b"), hash)

	diffs, err := s.ListCodeDiffs(ctx, "v")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, hash, diffs[0].Metadata["diff_hash"])
}

func TestAcknowledgements(t *testing.T) {
	rec := &events.Recorder{}
	e := NewEngine(store.NewMemoryStore(), rec)

	require.NoError(t, e.LearnFromError(context.Background(), &models.ErrorPattern{ID: "p"}))
	require.NoError(t, e.LearnFromFix(context.Background(), &models.FixPattern{ID: "f"}))
	assert.True(t, rec.Has(engineName, "Error pattern acknowledged"))
	assert.True(t, rec.Has(engineName, "Fix pattern acknowledged"))
}

func TestCanonicalize_PreservesNumbers(t *testing.T) {
	out, err := Canonicalize([]byte(`{"b": 1.50, "a": 12345678901234567890}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":12345678901234567890,"b":1.50}`, string(out))
}

func TestProperty_CanonicalKeyIgnoresInsertionOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	object := func(keys []string, vals map[string]int) []byte {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%q: %d", k, vals[k]))
		}
		return []byte("{" + strings.Join(parts, ", ") + "}")
	}

	properties.Property("reordered objects share a key", prop.ForAll(
		func(keys []string, seed int) bool {
			vals := map[string]int{}
			var unique []string
			for i, k := range keys {
				if _, ok := vals[k]; ok {
					continue
				}
				vals[k] = seed + i
				unique = append(unique, k)
			}
			reversed := make([]string, len(unique))
			for i, k := range unique {
				reversed[len(unique)-1-i] = k
			}

			a, err := Canonicalize(object(unique, vals))
			if err != nil {
				return false
			}
			b, err := Canonicalize(object(reversed, vals))
			if err != nil {
				return false
			}
			return ArtifactKey(a) == ArtifactKey(b)
		},
		gen.SliceOf(gen.Identifier()),
		gen.IntRange(-1000, 1000),
	))

	properties.TestingRun(t)
}
