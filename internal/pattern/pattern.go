// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pattern derives stable keys from generated artifacts and diffs so
// that equivalent outputs can be recognized across runs.
package pattern

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/events"
	"github.com/traylinx/flowforge/internal/models"
	"github.com/traylinx/flowforge/internal/store"
)

const engineName = "pattern-engine"

// KeyVersion prefixes every artifact pattern key.
const KeyVersion = "v1"

// Store is the subset of persistence the pattern engine needs.
type Store interface {
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	UpdateArtifact(ctx context.Context, a *models.Artifact) error
	LatestArtifactVersion(ctx context.Context, artifactID string) (*models.ArtifactVersion, error)
	UpdateCodeDiff(ctx context.Context, d *models.CodeDiff) error
}

// Engine computes and stores pattern keys.
type Engine struct {
	store Store
	sink  events.Sink
}

// NewEngine returns a pattern engine backed by s.
func NewEngine(s Store, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.Nop{}
	}
	return &Engine{store: s, sink: sink}
}

// LearnFromArtifact keys the latest version of the artifact when its content
// is a JSON object. It returns "" when the artifact is not record-based.
func (e *Engine) LearnFromArtifact(ctx context.Context, artifactID string) (string, error) {
	artifact, err := e.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return "", fmt.Errorf("pattern: load artifact %s: %w", artifactID, err)
	}
	version, err := e.store.LatestArtifactVersion(ctx, artifactID)
	if errors.Is(err, store.ErrNotFound) {
		e.skip(artifactID, "no versions")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pattern: load latest version of %s: %w", artifactID, err)
	}

	canonical, err := Canonicalize([]byte(version.Content))
	if err != nil {
		e.skip(artifactID, err.Error())
		return "", nil
	}
	key := ArtifactKey(canonical)

	if artifact.Metadata == nil {
		artifact.Metadata = map[string]any{}
	}
	artifact.Metadata["pattern_key"] = key
	if err := e.store.UpdateArtifact(ctx, artifact); err != nil {
		return "", fmt.Errorf("pattern: store key for %s: %w", artifactID, err)
	}

	e.sink.LogEvent(engineName, "Artifact pattern learned", "", map[string]any{
		"artifact_id":   artifactID,
		"version_index": version.VersionIndex,
		"pattern_key":   key,
	})
	return key, nil
}

func (e *Engine) skip(artifactID, reason string) {
	e.sink.LogEvent(engineName, "Artifact is not IR-based; skipping", "", map[string]any{
		"artifact_id": artifactID,
		"reason":      reason,
	})
}

// LearnFromDiff hashes the diff text and stores it as metadata.diff_hash.
func (e *Engine) LearnFromDiff(ctx context.Context, diff *models.CodeDiff) (string, error) {
	hash := Hash(diff.Diff)
	if diff.Metadata == nil {
		diff.Metadata = map[string]any{}
	}
	diff.Metadata["diff_hash"] = hash
	if err := e.store.UpdateCodeDiff(ctx, diff); err != nil {
		return "", fmt.Errorf("pattern: store diff hash: %w", err)
	}
	e.sink.LogEvent(engineName, "Diff pattern learned", "", map[string]any{
		"diff_id":   diff.ID,
		"diff_hash": hash,
	})
	return hash, nil
}

// LearnFromError acknowledges a newly seen error pattern.
func (e *Engine) LearnFromError(_ context.Context, p *models.ErrorPattern) error {
	e.sink.LogEvent(engineName, "Error pattern acknowledged", "", map[string]any{
		"error_pattern_id": p.ID,
		"error_class":      p.ErrorClass,
		"signature":        p.Signature,
	})
	return nil
}

// LearnFromFix acknowledges a recorded fix.
func (e *Engine) LearnFromFix(_ context.Context, f *models.FixPattern) error {
	e.sink.LogEvent(engineName, "Fix pattern acknowledged", "", map[string]any{
		"fix_pattern_id":   f.ID,
		"error_pattern_id": f.ErrorPatternID,
	})
	return nil
}

// Canonicalize re-encodes a JSON object with sorted keys and no insignificant
// whitespace. Numbers keep their literal form.
func Canonicalize(content []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("content is not a JSON object: %w", err)
	}
	if obj == nil {
		return nil, errors.New("content is not a JSON object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	out, err := json.Marshal(obj)
	if err != nil {
		log.Debugf("pattern: canonical encoding failed: %v", err)
		return nil, err
	}
	return out, nil
}

// ArtifactKey returns the versioned key for canonical JSON.
func ArtifactKey(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return KeyVersion + ":" + hex.EncodeToString(sum[:])
}

// Hash returns the hex sha256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
