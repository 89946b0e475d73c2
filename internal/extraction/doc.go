// Package extraction defines the extraction backend capability and the
// fallback chain that dispatches text to backends in priority order.
//
// A backend is anything implementing Extractor: the regex matcher, an LLM
// adapter, or a test double. Chain.Dispatch tries each available backend
// under a per-backend timeout and returns the first non-empty field map as
// a Success. Errors, timeouts and panics are contained and recorded as
// attempts; when nothing succeeds the result is NotFound. Dispatch itself
// never returns an error.
package extraction
