package logging

import (
	"go.uber.org/zap/zapcore"
)

// sampledCore routes Error and above around the sampler.
type sampledCore struct {
	zapcore.Core // unsampled
	sampled      zapcore.Core
}

func newSampledCore(core zapcore.Core, s Sampling) zapcore.Core {
	return &sampledCore{
		Core:    core,
		sampled: zapcore.NewSamplerWithOptions(core, s.Tick, s.Initial, s.Thereafter),
	}
}

func (c *sampledCore) With(fs []zapcore.Field) zapcore.Core {
	return &sampledCore{Core: c.Core.With(fs), sampled: c.sampled.With(fs)}
}

func (c *sampledCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level >= zapcore.ErrorLevel {
		return c.Core.Check(e, ce)
	}
	return c.sampled.Check(e, ce)
}
