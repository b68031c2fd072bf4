// Package sinks holds the progress.Sink implementations wired by the app:
// zap log lines, Prometheus load collectors and load_runs persistence.
package sinks
