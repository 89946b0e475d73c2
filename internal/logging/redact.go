package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// fieldValuePrefix marks keys that carry user-provided form values.
const fieldValuePrefix = "field."

var (
	piiEmail = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	piiPhone = regexp.MustCompile(`\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)
)

// RedactedString creates a field holding only the length of val.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// Secret logs a secret-bearing value, such as config.Secret, by length only.
func Secret(key string, val interface{ Value() string }) zap.Field {
	return RedactedString(key, val.Value())
}

// FieldValue logs an extracted form value under "field.<name>". The
// redacting encoder masks these keys when PII redaction is on.
func FieldValue(name, value string) zap.Field {
	return zap.String(fieldValuePrefix+name, value)
}

// RedactingEncoder wraps a zapcore.Encoder and masks sensitive data.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     map[string]bool
	patterns []*regexp.Regexp
	pii      bool
}

// NewRedactingEncoder wraps base with the rules in cfg.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	keys := make(map[string]bool, len(cfg.Keys))
	for _, k := range cfg.Keys {
		keys[strings.ToLower(k)] = true
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		if len(p) > 200 {
			return nil, fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &RedactingEncoder{
		Encoder:  base,
		keys:     keys,
		patterns: patterns,
		pii:      cfg.PII,
	}, nil
}

func (e *RedactingEncoder) sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if e.keys[lower] {
		return true
	}
	return e.pii && strings.HasPrefix(lower, fieldValuePrefix)
}

// redact returns the replacement for val, or ok=false when val is clean.
func (e *RedactingEncoder) redact(key, val string) (string, bool) {
	if e.sensitiveKey(key) {
		return "[REDACTED:" + strconv.Itoa(len(val)) + "]", true
	}
	for _, re := range e.patterns {
		if re.MatchString(val) {
			return "[REDACTED:pattern]", true
		}
	}
	if e.pii && (piiEmail.MatchString(val) || piiPhone.MatchString(val)) {
		return "[REDACTED:pii]", true
	}
	return val, false
}

// AddString masks sensitive keys and values. Fields attached with Logger.With
// reach the encoder through this path.
func (e *RedactingEncoder) AddString(key, val string) {
	if masked, ok := e.redact(key, val); ok {
		e.Encoder.AddString(key, masked)
		return
	}
	e.Encoder.AddString(key, val)
}

// AddByteString masks sensitive keys.
func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddByteString(key, val)
}

// AddReflected masks the whole value when the key is sensitive.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

// AddObject masks the whole object when the key is sensitive.
func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// EncodeEntry masks per-entry fields. The base encoder clones itself before
// adding them, so the Add* overrides never see these.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.keys == nil && len(e.patterns) == 0 && !e.pii {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = e.redactField(f)
	}
	return e.Encoder.EncodeEntry(ent, out)
}

func (e *RedactingEncoder) redactField(f zapcore.Field) zapcore.Field {
	switch f.Type {
	case zapcore.StringType:
		if masked, ok := e.redact(f.Key, f.String); ok {
			return zap.String(f.Key, masked)
		}
	case zapcore.ByteStringType, zapcore.BinaryType, zapcore.ReflectType,
		zapcore.ObjectMarshalerType, zapcore.ArrayMarshalerType, zapcore.StringerType:
		if e.sensitiveKey(f.Key) {
			return zap.String(f.Key, "[REDACTED]")
		}
	}
	return f
}

// Clone copies the encoder and keeps the rules.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:  e.Encoder.Clone(),
		keys:     e.keys,
		patterns: e.patterns,
		pii:      e.pii,
	}
}
