package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageLoadStart    Stage = "LOAD_START"
	StageLoadProgress Stage = "LOAD_PROGRESS"
	StageLoadDone     Stage = "LOAD_DONE"
	StageLoadError    Stage = "LOAD_ERROR"
)

// Event captures a single step of a load run.
type Event struct {
	// LoadID uniquely identifies a load run using the 16-byte UUID form.
	LoadID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// URL is the resource being loaded; it should not contain credentials.
	URL string
	// Bytes carries the size of the chunk that produced this event.
	Bytes int64
	// Received is the running byte count after this event.
	Received int64
	// Total is the declared size, or -1 while it is not known yet.
	Total int64
	// Percent is the rounded completion reported to the display.
	Percent int
	// Dur is the elapsed time since the load started.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.LoadID == [16]byte{} {
		return errors.New("load id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageLoadStart:
		if e.URL == "" {
			return errors.New("load start requires url")
		}
	case StageLoadProgress:
		if e.Total < 0 {
			return errors.New("load progress requires a known total")
		}
		if e.Bytes < 0 || e.Received < e.Bytes {
			return errors.New("load progress byte counts are inconsistent")
		}
	case StageLoadDone, StageLoadError:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Percent < 0 || e.Percent > 100 {
		return fmt.Errorf("percent %d out of range", e.Percent)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// LoadUUID converts the binary load ID to uuid.UUID for repositories.
func (e Event) LoadUUID() uuid.UUID {
	return uuid.UUID(e.LoadID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
