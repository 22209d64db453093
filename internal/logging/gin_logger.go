// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/flowforge/internal/util"
)

// TraceHeader carries the trace id on requests and responses.
const TraceHeader = "X-Trace-ID"

// TraceID returns the trace id assigned to the request by GinLogrusLogger.
func TraceID(c *gin.Context) string {
	if v, ok := c.Get(TraceField); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// GinLogrusLogger assigns a trace id to every request and logs one line per
// request through logrus.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = util.NewTraceID()
		}
		c.Set(TraceField, traceID)
		c.Header(TraceHeader, traceID)

		c.Next()

		status := c.Writer.Status()
		entry := WithTrace(traceID).WithFields(log.Fields{
			"status":  status,
			"latency": time.Since(start).Truncate(time.Microsecond).String(),
			"client":  c.ClientIP(),
		})
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			entry = entry.WithField("errors", errs)
		}
		msg := fmt.Sprintf("%s %s", c.Request.Method, path)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(msg)
		case status >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Info(msg)
		}
	}
}

// GinLogrusRecovery turns handler panics into 500 responses and logs the stack.
func GinLogrusRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				WithTrace(TraceID(c)).WithField("panic", rec).Errorf("recovered from panic\n%s", debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
