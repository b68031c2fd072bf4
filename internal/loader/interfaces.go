package loader

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProgressDisplay renders a completion indicator.
type ProgressDisplay interface {
	// SetProgress sets the indicator to percent, an integer in [0,100].
	SetProgress(percent int)
}

// Surface toggles the loading and content regions.
type Surface interface {
	HideLoading()
	RevealContent()
}

// ContentTarget receives the assembled payload.
type ContentTarget interface {
	// Origin identifies the receiving context. It is compared against the
	// expected origin before anything is delivered.
	Origin() string
	// Deliver hands off msg. It is a one-way notification; implementations
	// return once the message is accepted, not consumed.
	Deliver(ctx context.Context, msg Message) error
}

// Transport opens a streaming GET request.
type Transport interface {
	// Open issues the request and returns once headers are available. The
	// caller owns Response.Body and must close it.
	Open(ctx context.Context, url string) (*Response, error)
}

// Clock abstracts time so the hand-off delay can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// IDGenerator yields load identifiers.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
