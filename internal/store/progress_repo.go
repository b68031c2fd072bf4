// Package store declares interfaces for persisting load progress.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("load run not found")

// LoadRunStatus mirrors the load_runs status column.
type LoadRunStatus string

// Load run statuses persisted in load_runs.status.
const (
	RunRunning LoadRunStatus = "running"
	RunSuccess LoadRunStatus = "success"
	RunError   LoadRunStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s LoadRunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError:
		return true
	default:
		return false
	}
}

// LoadRun models the load_runs table for API responses.
type LoadRun struct {
	// ID identifies the load; it matches progress.Event.LoadID.
	ID uuid.UUID
	// URL is the resource being fetched.
	URL string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// UpdatedAt is the timestamp of the latest progress or completion write.
	UpdatedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status LoadRunStatus
	// TotalBytes is the declared size, or -1 when unknown.
	TotalBytes int64
	// BytesReceived is the running byte count.
	BytesReceived int64
	// Percent is the last percentage reported to the display.
	Percent int
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// ProgressSnapshot is a point-in-time byte count for a running load.
type ProgressSnapshot struct {
	TotalBytes    int64
	BytesReceived int64
	Percent       int
	At            time.Time
}

// ProgressRepository persists incremental load progress.
type ProgressRepository interface {
	// UpsertLoadStart inserts (or idempotently updates) the run in running state.
	UpsertLoadStart(ctx context.Context, loadID uuid.UUID, url string, startedAt time.Time) error
	// RecordProgress stores the latest byte counters. Counters never move backwards.
	RecordProgress(ctx context.Context, loadID uuid.UUID, snap ProgressSnapshot) error
	// CompleteLoad marks the run finished with the provided status and error.
	CompleteLoad(
		ctx context.Context,
		loadID uuid.UUID,
		finishedAt time.Time,
		status LoadRunStatus,
		errMsg *string,
	) error

	// GetLoad loads a single run or returns ErrNotFound.
	GetLoad(ctx context.Context, loadID uuid.UUID) (LoadRun, error)
	// ListLoads returns runs filtered by optional status plus limit/offset,
	// newest first.
	ListLoads(ctx context.Context, status *LoadRunStatus, limit, offset int) ([]LoadRun, error)
}
