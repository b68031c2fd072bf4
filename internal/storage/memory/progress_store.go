package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/progressive-loader/internal/store"
)

// ProgressStore is an in-memory store.ProgressRepository.
type ProgressStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.LoadRun
}

// NewProgressStore constructs an empty ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{runs: make(map[uuid.UUID]store.LoadRun)}
}

// UpsertLoadStart records a running load; repeated calls keep the first row.
func (s *ProgressStore) UpsertLoadStart(_ context.Context, loadID uuid.UUID, url string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[loadID]; ok {
		return nil
	}
	s.runs[loadID] = store.LoadRun{
		ID:         loadID,
		URL:        url,
		StartedAt:  startedAt,
		UpdatedAt:  startedAt,
		Status:     store.RunRunning,
		TotalBytes: -1,
	}
	return nil
}

// RecordProgress applies a snapshot without letting counters move backwards.
func (s *ProgressStore) RecordProgress(_ context.Context, loadID uuid.UUID, snap store.ProgressSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[loadID]
	if !ok {
		return fmt.Errorf("record progress %s: %w", loadID, store.ErrNotFound)
	}
	run.TotalBytes = snap.TotalBytes
	run.BytesReceived = max(run.BytesReceived, snap.BytesReceived)
	run.Percent = max(run.Percent, snap.Percent)
	run.UpdatedAt = snap.At
	s.runs[loadID] = run
	return nil
}

// CompleteLoad marks a run finished. Unknown runs are a no-op, matching the
// UPDATE semantics of the Postgres store.
func (s *ProgressStore) CompleteLoad(
	_ context.Context,
	loadID uuid.UUID,
	finishedAt time.Time,
	status store.LoadRunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[loadID]
	if !ok {
		return nil
	}
	finished := finishedAt
	run.FinishedAt = &finished
	run.UpdatedAt = finishedAt
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[loadID] = run
	return nil
}

// GetLoad returns a copy of the run or store.ErrNotFound.
func (s *ProgressStore) GetLoad(_ context.Context, loadID uuid.UUID) (store.LoadRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[loadID]
	if !ok {
		return store.LoadRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListLoads returns runs newest first with optional status filtering.
func (s *ProgressStore) ListLoads(
	_ context.Context,
	status *store.LoadRunStatus,
	limit,
	offset int,
) ([]store.LoadRun, error) {
	s.mu.RLock()
	runs := make([]store.LoadRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID.String() < runs[j].ID.String()
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if offset >= len(runs) {
		return []store.LoadRun{}, nil
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}
