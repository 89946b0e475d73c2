// Package patterncache learns from successful extractions and recognises
// inputs that resemble ones seen before.
//
// Every learned input is normalized (lower-cased, whitespace collapsed) and
// turned into a template by replacing the extracted values with named
// placeholders such as {email}. Entries are keyed by a hash of the full
// normalized text and indexed by a coarser bucket hash of its first 50
// characters. FindSimilar compares the input's word set against bucket
// candidates first and falls back to a bounded scan of recently used entries
// with a stricter threshold.
//
// The store is bounded. When it grows past MaxPatterns the entries with the
// lowest success counts are evicted. Mutations are persisted through a Store
// on a background write-back goroutine; persistence failures are logged and
// never reach callers.
package patterncache
