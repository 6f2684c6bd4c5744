package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records entries for assertions. Entries pass through the
// default redaction, so tests can check what would reach the output.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a TestLogger that records every level.
func NewTestLogger() *TestLogger {
	obs, logs := observer.New(TraceLevel)
	core := &redactCore{Core: obs, level: TraceLevel, r: newRedactor(DefaultConfig().RedactKeys)}
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, observed: logs}
}

// All returns the recorded entries.
func (t *TestLogger) All() []observer.LoggedEntry { return t.observed.All() }

// FilterMessage returns the entries whose message is exactly msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Reset discards the recorded entries.
func (t *TestLogger) Reset() { t.observed.TakeAll() }

// AssertLogged fails tb unless an entry at level has a message containing
// substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return
		}
	}
	tb.Errorf("no %s entry containing %q in %d entries", level, substr, t.observed.Len())
}

// AssertField fails tb unless an entry with message msg has field key
// equal to want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && got == want {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v", msg, key, want)
}

// AssertNotContains fails tb if any message or string field contains s.
func (t *TestLogger) AssertNotContains(tb testing.TB, s string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if strings.Contains(e.Message, s) {
			tb.Errorf("entry %q contains %q", e.Message, s)
		}
		for k, v := range e.ContextMap() {
			if str, ok := v.(string); ok && strings.Contains(str, s) {
				tb.Errorf("field %s of %q contains %q", k, e.Message, s)
			}
		}
	}
}
