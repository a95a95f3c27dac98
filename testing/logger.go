// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"fmt"
	"strings"
	"sync"
)

// NoopLogger is a logger that does nothing.
type NoopLogger struct{}

func (NoopLogger) Errorf(string, ...any)   {}
func (NoopLogger) Warningf(string, ...any) {}
func (NoopLogger) Infof(string, ...any)    {}
func (NoopLogger) Debugf(string, ...any)   {}
func (NoopLogger) Tracef(string, ...any)   {}

// CheckLog is an interface that can be used to log messages to a
// *testing.T or *check.C.
type CheckLog interface {
	Logf(string, ...any)
}

// CheckLogger is a logger that logs to a *testing.T or *check.C.
type CheckLogger struct {
	Log CheckLog
}

// NewCheckLogger returns a CheckLogger that logs to the given CheckLog.
func NewCheckLogger(log CheckLog) CheckLogger {
	return CheckLogger{Log: log}
}

func (c CheckLogger) Errorf(msg string, args ...any) {
	c.Log.Logf(fmt.Sprintf("ERROR: %s", msg), args...)
}
func (c CheckLogger) Warningf(msg string, args ...any) {
	c.Log.Logf(fmt.Sprintf("WARNING: %s", msg), args...)
}
func (c CheckLogger) Infof(msg string, args ...any) {
	c.Log.Logf(fmt.Sprintf("INFO: %s", msg), args...)
}
func (c CheckLogger) Debugf(msg string, args ...any) {
	c.Log.Logf(fmt.Sprintf("DEBUG: %s", msg), args...)
}
func (c CheckLogger) Tracef(msg string, args ...any) {
	c.Log.Logf(fmt.Sprintf("TRACE: %s", msg), args...)
}

// RecordingLogger keeps every formatted message, prefixed with its level,
// and forwards it to an optional CheckLog.
type RecordingLogger struct {
	Log CheckLog

	mu       sync.Mutex
	messages []string
}

func (r *RecordingLogger) record(level, msg string, args ...any) {
	line := level + ": " + fmt.Sprintf(msg, args...)
	r.mu.Lock()
	r.messages = append(r.messages, line)
	r.mu.Unlock()
	if r.Log != nil {
		r.Log.Logf("%s", line)
	}
}

func (r *RecordingLogger) Errorf(msg string, args ...any)   { r.record("ERROR", msg, args...) }
func (r *RecordingLogger) Warningf(msg string, args ...any) { r.record("WARNING", msg, args...) }
func (r *RecordingLogger) Infof(msg string, args ...any)    { r.record("INFO", msg, args...) }
func (r *RecordingLogger) Debugf(msg string, args ...any)   { r.record("DEBUG", msg, args...) }
func (r *RecordingLogger) Tracef(msg string, args ...any)   { r.record("TRACE", msg, args...) }

// Messages returns the recorded messages, oldest first.
func (r *RecordingLogger) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Contains reports whether any recorded message contains s.
func (r *RecordingLogger) Contains(s string) bool {
	for _, m := range r.Messages() {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}
