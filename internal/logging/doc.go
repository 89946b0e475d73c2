// Package logging provides structured logging for formextract.
//
// The Logger wraps Zap with context-aware methods. Every entry written through
// it carries the correlation data stored on the context: OpenTelemetry trace
// and span ids, the request id assigned by the HTTP layer, and the
// conversation session id supplied by the caller.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRequestID(ctx, "req-42")
//	logger.Info(ctx, "extraction finished", zap.String("backend", "regex"))
//
// # Redaction
//
// User input routinely contains personal data. The stdout encoder masks
// values under sensitive keys, values matching configured patterns and, when
// PII redaction is on, values that look like email addresses or phone
// numbers. Use FieldValue to log an extracted value so that the key alone
// does not leak it.
//
// # Sampling
//
// Entries below Error are sampled per message; Error and above always pass.
package logging
