// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package blob archives artifact version content outside the database.
// Payloads are zstd-compressed before they reach the backend.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var (
	// ErrNotFound is returned by Get for a key that was never stored.
	ErrNotFound = errors.New("blob: not found")
	// ErrInvalidKey is returned for empty keys or keys escaping the root.
	ErrInvalidKey = errors.New("blob: invalid key")
)

// Store puts and gets opaque payloads by slash-separated key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

func compress(data []byte) []byte {
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2+64))
}

func decompress(data []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: decompress: %w", err)
	}
	return out, nil
}

// CleanKey validates key and returns its normalized form.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
