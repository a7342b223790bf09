// Package crawler implements the fetch/dispatch/requeue engine: jobs are fetched
// concurrently behind a connection gate, each page is handed to the handler
// registered for the job's kind, and every job a handler produces is queued and
// fetched in turn until no work remains.
package crawler
