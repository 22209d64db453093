// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/audit"
)

// MaxRuleFileSize caps rule files read from disk.
const MaxRuleFileSize = 1 << 20

// Loader reads rule packs from a directory into a RuleSet and can reload
// them when the directory changes.
type Loader struct {
	dir    string
	set    *audit.RuleSet
	source string

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	stopWatcher chan struct{}
	done        chan struct{}
}

// NewLoader returns a loader that publishes into set.
func NewLoader(dir string, set *audit.RuleSet) *Loader {
	return &Loader{dir: dir, set: set, source: "dir:" + dir}
}

// Load walks the directory and replaces the loader's rules in the set. Bad
// files are logged and skipped. A missing directory yields no rules.
func (l *Loader) Load() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		l.set.SetSource(l.source, nil)
		return 0, nil
	}
	absDir, err := filepath.Abs(l.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to get absolute path of rules directory: %w", err)
	}

	var loaded []audit.Rule
	err = filepath.Walk(l.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			log.Warnf("Skipping symlink in rules directory: %s", path)
			return nil
		}
		absPath, err := filepath.Abs(path)
		if err != nil || !strings.HasPrefix(absPath, absDir) {
			log.Warnf("Skipping file outside rules directory: %s", path)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" && ext != ".lua" {
			return nil
		}
		if info.Size() > MaxRuleFileSize {
			log.Warnf("Skipping large rule file: %s (%d bytes)", path, info.Size())
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.Errorf("Failed to read rule file %s: %v", path, err)
			return nil
		}
		if ext == ".lua" {
			rule, err := CompileLua(string(data), path)
			if err != nil {
				log.Errorf("Failed to load Lua rule %s: %v", path, err)
				return nil
			}
			loaded = append(loaded, rule)
			return nil
		}
		pack, err := ParsePack(data, path)
		if err != nil {
			log.Errorf("Failed to load rule pack %s: %v", path, err)
			return nil
		}
		for _, rule := range pack {
			loaded = append(loaded, rule)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].Name() < loaded[j].Name()
	})
	l.set.SetSource(l.source, loaded)
	log.Infof("Loaded %d audit rules from %s", len(loaded), l.dir)
	return len(loaded), nil
}

// StartWatcher reloads rules whenever a file under the directory changes.
func (l *Loader) StartWatcher() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	err = filepath.Walk(l.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return err
	}

	l.mu.Lock()
	l.watcher = watcher
	l.stopWatcher = make(chan struct{})
	l.done = make(chan struct{})
	stop, done := l.stopWatcher, l.done
	l.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				log.Infof("Rules directory changed (%s), reloading rules...", event.Name)
				time.Sleep(100 * time.Millisecond)
				if _, err := l.Load(); err != nil {
					log.Errorf("Failed to reload audit rules: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("Rules watcher error: %v", err)
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// StopWatcher stops the watcher goroutine and waits for it to exit.
func (l *Loader) StopWatcher() {
	l.mu.Lock()
	watcher, stop, done := l.watcher, l.stopWatcher, l.done
	l.watcher = nil
	l.mu.Unlock()

	if watcher == nil {
		return
	}
	close(stop)
	_ = watcher.Close()
	<-done
}
