package logging

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. ragd uses it for per-chunk detail.
const TraceLevel = zapcore.Level(-2)

// ErrInvalidConfig is returned by New for an unusable Config.
var ErrInvalidConfig = errors.New("invalid logging config")

// Config controls the logger built by New.
type Config struct {
	Level  zapcore.Level
	Format string // json or console

	// Service and Version are attached to every entry.
	Service string
	Version string

	// Output receives encoded entries. Nil means stdout.
	Output io.Writer

	Sampling Sampling

	// RedactKeys are field names, matched case-insensitively, whose values
	// are never written.
	RedactKeys []string
}

// Sampling limits repeated entries per tick. Each distinct message at a
// level below Error is logged Initial times per Tick, then every
// Thereafter-th time. Errors are never sampled.
type Sampling struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Level:   zapcore.InfoLevel,
		Format:  "json",
		Service: "ragd",
		Sampling: Sampling{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		RedactKeys: []string{
			"api_key", "openai_api_key", "qdrant_api_key",
			"authorization", "password", "token", "secret",
			"redis_url", "cache_url",
		},
	}
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("%w: format must be json or console, got %q", ErrInvalidConfig, c.Format)
	}
	if c.Sampling.Enabled && (c.Sampling.Tick <= 0 || c.Sampling.Initial <= 0) {
		return fmt.Errorf("%w: sampling needs a positive tick and initial count", ErrInvalidConfig)
	}
	for _, k := range c.RedactKeys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty redact key", ErrInvalidConfig)
		}
	}
	return nil
}

// ParseLevel parses a level name; "trace" is accepted alongside zap's names.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.EqualFold(s, "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}
