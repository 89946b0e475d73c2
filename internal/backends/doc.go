// Package backends provides the extraction.Extractor implementations the
// pipeline dispatches to: a regex extractor that is always available, and
// LLM-backed extractors for OpenAI, Ollama and Anthropic.
//
// LLM backends share the same plumbing: a prompt built from the extraction
// hint, a token-bucket rate limiter, exponential-backoff retries of
// transient failures, tolerant JSON parsing of model output and an optional
// circuit breaker that reports the backend unavailable while open.
package backends
