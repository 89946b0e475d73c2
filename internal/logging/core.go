package logging

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newCore builds the writer core and, when requested and available, tees it
// with the OTEL bridge. The result is wrapped with sampling.
func newCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	if err != nil {
		return nil, err
	}

	out := zapcore.Lock(os.Stdout)
	if cfg.Output.Target == "stderr" {
		out = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, out, cfg.Level)
	if cfg.Output.OTEL && otelProvider != nil {
		core = zapcore.NewTee(core, otelzap.NewCore("formextract",
			otelzap.WithLoggerProvider(otelProvider),
		))
	}

	return newSampledCore(core, cfg.Sampling), nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = encodeLevel

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}

// newSampledCore samples entries below Error. Error and above bypass the
// sampler.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	sampled := zapcore.NewSamplerWithOptions(
		&levelRangeCore{Core: core, max: zapcore.WarnLevel, hasMax: true},
		cfg.Tick,
		cfg.Initial,
		cfg.Thereafter,
	)
	return zapcore.NewTee(
		&levelRangeCore{Core: core, min: zapcore.ErrorLevel, hasMin: true},
		sampled,
	)
}

// levelRangeCore only passes entries whose level lies within [min, max].
type levelRangeCore struct {
	zapcore.Core
	min, max       zapcore.Level
	hasMin, hasMax bool
}

func (c *levelRangeCore) Enabled(lvl zapcore.Level) bool {
	if c.hasMin && lvl < c.min {
		return false
	}
	if c.hasMax && lvl > c.max {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelRangeCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelRangeCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.Core = c.Core.With(fields)
	return &clone
}

var _ zapcore.Core = (*levelRangeCore)(nil)
