package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// valuePatterns match credentials that can turn up inside ordinary values:
// error messages quoting a connection URL, echoed headers and the like.
// Only the secret part is replaced.
var valuePatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	// userinfo password in redis://, nats://, http:// URLs
	{regexp.MustCompile(`([a-z][a-z0-9+.-]*://[^:@/\s]*):[^@/\s]+@`), "${1}:" + redacted + "@"},
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`), "${1}" + redacted},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`), redacted},
	{regexp.MustCompile(`(?i)(api[_-]?key["']?\s*[=:]\s*["']?)[^\s"',&]+`), "${1}" + redacted},
}

// redactor rewrites fields before they reach an encoder.
type redactor struct {
	keys map[string]struct{}
}

func newRedactor(keys []string) *redactor {
	r := &redactor{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		r.keys[strings.ToLower(k)] = struct{}{}
	}
	return r
}

// text replaces every credential found in s.
func (r *redactor) text(s string) string {
	for _, p := range valuePatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

func (r *redactor) field(f zapcore.Field) zapcore.Field {
	if _, ok := r.keys[strings.ToLower(f.Key)]; ok {
		return zap.String(f.Key, redacted)
	}
	switch f.Type {
	case zapcore.StringType:
		if s := r.text(f.String); s != f.String {
			return zap.String(f.Key, s)
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			return zap.String(f.Key, r.text(err.Error()))
		}
	case zapcore.StringerType:
		if s, ok := f.Interface.(fmt.Stringer); ok && s != nil {
			return zap.String(f.Key, r.text(s.String()))
		}
	}
	return f
}

func (r *redactor) fields(fs []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fs))
	for i, f := range fs {
		out[i] = r.field(f)
	}
	return out
}

// redactCore rewrites entries before handing them to the wrapped core, so
// every output behind it sees the same redacted fields.
type redactCore struct {
	zapcore.Core
	level zapcore.LevelEnabler
	r     *redactor
}

func (c *redactCore) Enabled(l zapcore.Level) bool { return c.level.Enabled(l) }

func (c *redactCore) With(fs []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(c.r.fields(fs)), level: c.level, r: c.r}
}

func (c *redactCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *redactCore) Write(e zapcore.Entry, fs []zapcore.Field) error {
	e.Message = c.r.text(e.Message)
	return c.Core.Write(e, c.r.fields(fs))
}
