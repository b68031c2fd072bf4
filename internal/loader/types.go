package loader

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// DefaultMessageField is the message key the content frame reads the bytes from.
const DefaultMessageField = "wasmBytes"

// Response is the transport-neutral view of an HTTP response.
type Response struct {
	StatusCode int
	// ContentLength is the declared body size, or -1 when the server did not
	// send one.
	ContentLength int64
	ContentType   string
	Body          io.ReadCloser
}

// Message is the hand-off envelope delivered to a ContentTarget.
type Message struct {
	LoadID       uuid.UUID
	URL          string
	TargetOrigin string
	// Field names the key under which Payload is exposed to the content.
	Field       string
	Payload     []byte
	Digest      string
	ContentType string
}

// Result describes a completed load.
type Result struct {
	LoadID        uuid.UUID
	URL           string
	Payload       []byte
	Digest        string
	TotalBytes    int64
	BytesReceived int64
	Duration      time.Duration
}

// transferState tracks byte counts for one load. It is owned by a single Load
// call and mutated only by the chunk handler.
type transferState struct {
	total    int64
	received int64
}

// add accounts a chunk and returns the rounded percentage.
func (s *transferState) add(n int) int {
	s.received += int64(n)
	return percentOf(s.received, s.total)
}

// percentOf computes round(received/total*100) clamped to [0,100]. A declared
// size of zero is complete by definition.
func percentOf(received, total int64) int {
	if total <= 0 {
		return 100
	}
	// Integer half-up rounding; avoids float drift on large payloads.
	p := (received*200 + total) / (2 * total)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return int(p)
	}
}
