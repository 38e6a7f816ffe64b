package jobqueue

import "time"

// EventType identifies a job lifecycle transition.
type EventType string

const (
	// EventClaimed fires when a worker claims a job.
	EventClaimed EventType = "claimed"
	// EventProgress fires when a handler reports intermediate progress.
	EventProgress EventType = "progress"
	// EventCompleted fires when a handler finishes successfully.
	EventCompleted EventType = "completed"
	// EventFailed fires when an attempt fails but retries remain.
	EventFailed EventType = "failed"
	// EventDeadLettered fires when a job exhausts its retries.
	EventDeadLettered EventType = "dead_lettered"
)

// Event is one job lifecycle notification. Delivery is fire-and-forget:
// a slow consumer never blocks the dispatch loop.
type Event struct {
	Type    EventType `json:"type"`
	JobID   string    `json:"jobId"`
	Queue   QueueName `json:"queue"`
	Attempt int       `json:"attempt"`
	Percent int       `json:"percent,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}
