package domain

import "time"

type TaskType string

const (
	TaskScan             TaskType = "scan"
	TaskProcessDocument  TaskType = "process_document"
	TaskRetryDocument    TaskType = "retry_document"
	TaskRetryBadCase     TaskType = "retry_bad_case"
	TaskSweepDocuments   TaskType = "sweep_documents"
	TaskReconcileOrphans TaskType = "reconcile_orphans"
)

// Task is the unit of asynchronous work exchanged through the task queue.
type Task struct {
	Type       TaskType  `json:"type"`
	DocumentID string    `json:"document_id,omitempty"`
	BadCaseID  string    `json:"bad_case_id,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TaskRetryPolicy bounds task-level redelivery. It is unrelated to billing API retries.
type TaskRetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultTaskRetryPolicy(t TaskType) TaskRetryPolicy {
	switch t {
	case TaskScan:
		return TaskRetryPolicy{MaxAttempts: 3, Backoff: 5 * time.Minute}
	case TaskProcessDocument, TaskRetryDocument, TaskRetryBadCase:
		return TaskRetryPolicy{MaxAttempts: 2, Backoff: time.Minute}
	default:
		return TaskRetryPolicy{MaxAttempts: 1}
	}
}

func (t TaskType) Valid() bool {
	switch t {
	case TaskScan, TaskProcessDocument, TaskRetryDocument, TaskRetryBadCase, TaskSweepDocuments, TaskReconcileOrphans:
		return true
	default:
		return false
	}
}
