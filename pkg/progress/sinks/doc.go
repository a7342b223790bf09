// Package sinks holds the progress consumers the jobcrawl CLI wires into its
// hub: Prometheus collectors, zap debug lines and the end-of-run summary.
package sinks
