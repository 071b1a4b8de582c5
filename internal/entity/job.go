package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusComplete   JobStatus = "complete"
	StatusError      JobStatus = "error"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

var validTransitions = map[JobStatus][]JobStatus{
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusComplete, StatusError},
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is the record owned by the job store. ResultRef is a store-relative
// locator (outputs/{id}/splat.ply), never the artifact bytes.
type Job struct {
	ID                   uuid.UUID  `json:"id"`
	UploadID             uuid.UUID  `json:"upload_id"`
	Status               JobStatus  `json:"status"`
	StatusDetail         *string    `json:"status_detail,omitempty"`
	QueuePosition        int        `json:"queue_position"`
	EstimatedWaitSeconds int        `json:"estimated_wait_seconds"`
	ResultRef            *string    `json:"result_ref,omitempty"`
	Error                *string    `json:"error,omitempty"`
	ProcessingTimeMs     *int64     `json:"processing_time_ms,omitempty"`
	DispatchedAt         *time.Time `json:"dispatched_at,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// JobCounts is a snapshot of the non-terminal part of the job store.
type JobCounts struct {
	Queued     int `json:"queued"`
	Dispatched int `json:"dispatched"` // queued jobs already handed to the dispatch queue
	Processing int `json:"processing"`
}

// Inflight is the number of jobs in queued or processing.
func (c JobCounts) Inflight() int {
	return c.Queued + c.Processing
}
