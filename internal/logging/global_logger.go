// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package logging configures the process-wide logrus logger and the Gin
// middleware that tags each request with a trace id.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TraceField is the logrus field carrying the trace id.
const TraceField = "trace_id"

// LogFileName is the active log file under the logs directory.
const LogFileName = "flowforge.log"

const noTrace = "--------"

var (
	setupOnce sync.Once
	outputMu  sync.Mutex
	rotator   *lumberjack.Logger
	ginPipes  []*io.PipeWriter
)

// LogFormatter renders one line per entry:
//
//	[2026-01-02 15:04:05] [trace] [warn ] [router.go:88] message | k1=v1, k2=v2
type LogFormatter struct{}

// Format implements logrus.Formatter.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buf := entry.Buffer
	if buf == nil {
		buf = &bytes.Buffer{}
	}

	traceID, _ := entry.Data[TraceField].(string)
	if traceID == "" {
		traceID = noTrace
	}
	fmt.Fprintf(buf, "[%s] [%s] [%-5s] ", entry.Time.Format("2006-01-02 15:04:05"), traceID, levelName(entry.Level))
	if entry.Caller != nil {
		fmt.Fprintf(buf, "[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buf.WriteString(strings.TrimRight(entry.Message, "\r\n"))
	writeFields(buf, entry.Data)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func levelName(l log.Level) string {
	if l == log.WarnLevel {
		return "warn"
	}
	return l.String()
}

// writeFields appends the non-trace fields sorted by key.
func writeFields(buf *bytes.Buffer, data log.Fields) {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k != TraceField {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	buf.WriteString(" |")
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(buf, " %s=%v", k, data[k])
	}
}

// SetupBaseLogger installs the formatter and routes Gin's writers through
// logrus. Only the first call has an effect.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		info := log.StandardLogger().Writer()
		errs := log.StandardLogger().WriterLevel(log.ErrorLevel)
		ginPipes = []*io.PipeWriter{info, errs}
		gin.DefaultWriter = info
		gin.DefaultErrorWriter = errs
		gin.DebugPrintFunc = func(format string, values ...any) {
			log.Infof(strings.TrimRight(format, "\r\n"), values...)
		}
		log.RegisterExitHandler(closeOutputs)
	})
}

// ConfigureLogOutput sets the level and sends output either to a rotating
// file in logDir or to stdout.
func ConfigureLogOutput(loggingToFile bool, logDir string, debug bool) error {
	SetupBaseLogger()
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	outputMu.Lock()
	defer outputMu.Unlock()
	closeRotator()

	if !loggingToFile {
		log.SetOutput(os.Stdout)
		return nil
	}
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("logging: create %s: %w", logDir, err)
	}
	rotator = &lumberjack.Logger{
		Filename:   filepath.Join(logDir, LogFileName),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(rotator)
	return nil
}

// WithTrace returns a log entry tagged with the trace id.
func WithTrace(traceID string) *log.Entry {
	return log.WithField(TraceField, traceID)
}

func closeRotator() {
	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}
}

func closeOutputs() {
	outputMu.Lock()
	defer outputMu.Unlock()
	closeRotator()
	for _, p := range ginPipes {
		_ = p.Close()
	}
	ginPipes = nil
}
