// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// BackupSuffix names the sibling that holds a file's previous content.
const BackupSuffix = ".backup"

// ErrReadOnlyMode is returned by SecureWrite when writes are disabled.
var ErrReadOnlyMode = errors.New("securewrite: read-only mode, write refused")

// SecureWriteOptions tunes SecureWrite. The zero value writes 0600 without a backup.
type SecureWriteOptions struct {
	// CreateBackup copies an existing target to BackupPath before the swap.
	CreateBackup bool
	Permissions  os.FileMode
	// ReadOnly makes SecureWrite fail with ErrReadOnlyMode.
	ReadOnly bool
}

func (o *SecureWriteOptions) perm() os.FileMode {
	if o == nil || o.Permissions == 0 {
		return 0o600
	}
	return o.Permissions
}

// FileMode returns the permission bits of path, or fallback when path does
// not exist or cannot be inspected.
func FileMode(path string, fallback os.FileMode) os.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return fallback
	}
	return info.Mode().Perm()
}

// SecureWrite replaces path with data through a synced temp file and a
// rename, so readers see either the old bytes or the new ones.
func SecureWrite(path string, data []byte, opts *SecureWriteOptions) error {
	if opts != nil && opts.ReadOnly {
		return ErrReadOnlyMode
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("securewrite: mkdir %s: %w", dir, err)
	}

	tmp, err := writeTemp(path, data, opts.perm())
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	if opts != nil && opts.CreateBackup {
		if err := WriteBackup(path); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("securewrite: swap into %s: %w", path, err)
	}
	committed = true

	if err := syncDir(dir); err != nil {
		log.Debugf("securewrite: directory sync of %s skipped: %v", dir, err)
	}
	return nil
}

// writeTemp writes data next to path and fsyncs it. The caller owns the
// returned file.
func writeTemp(path string, data []byte, perm os.FileMode) (string, error) {
	name := path + ".tmp." + uuid.NewString()
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return "", fmt.Errorf("securewrite: create temp: %w", err)
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("securewrite: write temp for %s: %w", path, err)
	}
	return name, nil
}

// WriteBackup copies path to BackupPath(path), keeping its mode. A missing
// path is not an error.
func WriteBackup(path string) error {
	src, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("securewrite: open %s for backup: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("securewrite: stat %s: %w", path, err)
	}
	dst, err := os.OpenFile(BackupPath(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("securewrite: create backup of %s: %w", path, err)
	}
	if _, err = io.Copy(dst, src); err == nil {
		err = dst.Sync()
	}
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("securewrite: copy backup of %s: %w", path, err)
	}
	return nil
}

// BackupPath returns the backup sibling of path.
func BackupPath(path string) string {
	return path + BackupSuffix
}

// ReadFileIfExists returns the file content, or nil when the file does not exist.
func ReadFileIfExists(path string) (*string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
