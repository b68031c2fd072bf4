package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/progress"
	"github.com/JakeFAU/progressive-loader/internal/store"
)

// StoreSink persists progress via a store.ProgressRepository. Chunk events are
// collapsed to the latest snapshot per load within a batch to reduce write
// amplification.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards lifecycle events in order and flushes pending snapshots
// before a load's completion is written. It respects ctx deadlines and returns
// any repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]store.ProgressSnapshot)
	order := make([]uuid.UUID, 0)

	for _, evt := range batch {
		loadID := evt.LoadUUID()
		switch evt.Stage {
		case progress.StageLoadStart:
			if err := s.repo.UpsertLoadStart(ctx, loadID, evt.URL, evt.TS); err != nil {
				return fmt.Errorf("upsert load start: %w", err)
			}
		case progress.StageLoadProgress:
			if _, ok := pending[loadID]; !ok {
				order = append(order, loadID)
			}
			pending[loadID] = snapshotOf(evt)
		case progress.StageLoadDone, progress.StageLoadError:
			snap, ok := pending[loadID]
			if evt.Stage == progress.StageLoadDone && evt.Total >= 0 {
				snap, ok = snapshotOf(evt), true
			}
			if ok {
				if err := s.repo.RecordProgress(ctx, loadID, snap); err != nil {
					return fmt.Errorf("record progress: %w", err)
				}
				delete(pending, loadID)
			}
			if err := s.complete(ctx, loadID, evt); err != nil {
				return err
			}
		}
	}

	for _, loadID := range order {
		snap, ok := pending[loadID]
		if !ok {
			continue
		}
		if err := s.repo.RecordProgress(ctx, loadID, snap); err != nil {
			return fmt.Errorf("record progress: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, loadID uuid.UUID, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	if evt.Stage == progress.StageLoadError {
		status = store.RunError
		if evt.Note != "" {
			msg := evt.Note
			note = &msg
		}
	}
	if err := s.repo.CompleteLoad(ctx, loadID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete load: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

func snapshotOf(evt progress.Event) store.ProgressSnapshot {
	return store.ProgressSnapshot{
		TotalBytes:    evt.Total,
		BytesReceived: evt.Received,
		Percent:       evt.Percent,
		At:            evt.TS,
	}
}
