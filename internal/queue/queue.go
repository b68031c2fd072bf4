// Package queue defines the job handed from the HTTP API to the load workers.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrFull is returned by TryEnqueue when no capacity is left.
	ErrFull = errors.New("queue full")
	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("queue closed")
)

// Job is one pending load.
type Job struct {
	LoadID     uuid.UUID
	URL        string
	EnqueuedAt time.Time
}

// Queue buffers jobs between producers and workers.
type Queue interface {
	TryEnqueue(job Job) error
	Dequeue(ctx context.Context) (Job, error)
	Len() int
	Close()
}
