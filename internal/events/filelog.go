// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileLogConfig holds configuration for the JSON-lines event log.
type FileLogConfig struct {
	Enabled bool

	// LogPath is the file path for the event log.
	LogPath string

	// MaxSizeMB is the maximum size in megabytes before rotation. Default: 100.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to retain. Default: 10.
	MaxBackups int

	// MaxAgeDays is the number of days to retain rotated files. Default: 30.
	MaxAgeDays int

	Compress bool
}

// FileLog writes every event as a JSON line to a rotating file.
type FileLog struct {
	mu       sync.Mutex
	encoder  *json.Encoder
	file     *lumberjack.Logger
	enabled  bool
	logPath  string
	fallback *log.Logger
}

// NewFileLog creates an event file log. A disabled config yields a no-op log.
func NewFileLog(cfg FileLogConfig) (*FileLog, error) {
	if !cfg.Enabled || cfg.LogPath == "" {
		return &FileLog{fallback: log.New()}, nil
	}

	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 10
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = 30
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, err
	}

	file := &lumberjack.Logger{
		Filename:   cfg.LogPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	return &FileLog{
		encoder:  json.NewEncoder(file),
		file:     file,
		enabled:  true,
		logPath:  cfg.LogPath,
		fallback: log.New(),
	}, nil
}

// Write appends the event to the log. Safe for concurrent use.
func (l *FileLog) Write(evt *Event) {
	if !l.enabled || evt == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.encoder.Encode(evt); err != nil {
		l.fallback.WithFields(log.Fields{
			"error":    err.Error(),
			"engine":   evt.Engine,
			"trace_id": evt.TraceID,
		}).Error("Failed to write event log entry")
	}
}

// Attach subscribes the file log to bus.
func (l *FileLog) Attach(bus *Bus) *Subscription {
	return bus.Subscribe(l.Write)
}

// Path returns the log file path, or "" when disabled.
func (l *FileLog) Path() string {
	return l.logPath
}

// Close flushes and closes the log file.
func (l *FileLog) Close() error {
	if !l.enabled || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Rotate forces a rotation of the log file.
func (l *FileLog) Rotate() error {
	if !l.enabled || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Rotate()
}
