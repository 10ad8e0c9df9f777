package batch

import "time"

// EventType names a job event
type EventType string

const (
	EventState EventType = "job.state"
	EventChunk EventType = "job.chunk"
)

// Event is published on every state change and chunk outcome
type Event struct {
	Type        EventType    `json:"type"`
	JobID       string       `json:"job_id"`
	Fingerprint string       `json:"fingerprint"`
	State       State        `json:"state"`
	Chunk       *ChunkReport `json:"chunk,omitempty"`
	Error       string       `json:"error,omitempty"`
	Time        time.Time    `json:"time"`
}

// EventSink receives job events; Publish must not block
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(Event)

// Publish implements EventSink
func (f EventSinkFunc) Publish(e Event) { f(e) }
