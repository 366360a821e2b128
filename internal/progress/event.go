// Package progress defines the lifecycle event stream emitted by fetch
// workers and the hub that fans it out to sinks.
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
	StageJobStart    Stage = "JOB_START"
	StageJobRetry    Stage = "JOB_RETRY"
	StageJobProgress Stage = "JOB_PROGRESS"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
)

// Event captures a single milestone of a fetch job.
type Event struct {
	// JobID uniquely identifies a job using the 16-byte UUID form.
	JobID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Kind carries the classified failure kind for retry/error events.
	Kind string
	// Bytes is the downloaded byte count at the time of the event.
	Bytes int64
	// Percent is the job's completion percentage at the time of the event.
	Percent float64
	// Dur captures wall time for done/error events.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobProgress, StageJobDone:
	case StageJobRetry, StageJobError:
		if e.Kind == "" {
			return fmt.Errorf("%s requires a failure kind", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// JobUUID converts the binary job ID to uuid.UUID.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// IDToBytes encodes a string job ID into the Event form. Malformed IDs map
// to the zero value, which Validate rejects.
func IDToBytes(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	var dest [16]byte
	copy(dest[:], parsed[:])
	return dest
}
