// Package progress carries crawl engine events (run lifecycle, job queueing,
// fetches and handler dispatch) to consumers. Emit on a Hub never blocks the
// engine; batches are flushed to Sinks from a single background goroutine.
package progress
