// Package pipeline composes the fallback chain, the pattern cache and the
// confidence scorer behind a single Process call.
//
// A call probes the cache for a similar earlier input, dispatches the text
// through the chain, scores and merges what came back into the caller's
// field state and finally teaches the cache the new input. Only a call
// whose backend returned successfully is ever learned.
package pipeline
