package domain

import (
	"math"
	"time"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusSuccess    DocumentStatus = "success"
	StatusFailed     DocumentStatus = "failed"
)

// UnknownFileField marks filename metadata that could not be derived.
const UnknownFileField = "unknown"

type Document struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	FilePath    string         `json:"file_path"`
	FileSize    int64          `json:"file_size"`
	FilePrefix  string         `json:"file_prefix"`
	RecordType  string         `json:"record_type"`
	HostNode    string         `json:"host_node"`
	CDRType     string         `json:"cdr_type"`
	Version     string         `json:"version"`
	FileDate    string         `json:"file_date"`
	Status      DocumentStatus `json:"status"`
	Counters    Counters       `json:"counters"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`

	RunID          string     `json:"run_id,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// Counters tracks per-ICCID progress of a processing run.
type Counters struct {
	Total     int `json:"total_iccid_count"`
	Processed int `json:"processed_iccid_count"`
	Success   int `json:"success_iccid_count"`
	Failed    int `json:"failed_iccid_count"`
}

// FileInfo is the best-effort metadata parsed from a CDR filename.
type FileInfo struct {
	Prefix     string
	RecordType string
	HostNode   string
	CDRType    string
	Version    string
	FileDate   string
}

var allowedTransitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusSuccess, StatusFailed},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether a document may move from one status to another.
// Terminal states only leave through an explicit failed -> pending reset.
func CanTransition(from, to DocumentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Run is one processing attempt. It owns its document until ExpiresAt; progress
// from a run that lost ownership is rejected.
type Run struct {
	ID        string
	ExpiresAt time.Time
}

// Claimable reports whether a new run may take the document at now: pending
// documents always, processing ones only after the owner's lease ran out.
func (d *Document) Claimable(now time.Time) bool {
	switch d.Status {
	case StatusPending:
		return true
	case StatusProcessing:
		return d.LeaseExpiresAt == nil || !now.Before(*d.LeaseExpiresAt)
	default:
		return false
	}
}

func (s DocumentStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

func (d *Document) ProgressPercentage() float64 {
	if d.Counters.Total == 0 {
		return 0
	}
	return round2(float64(d.Counters.Processed) / float64(d.Counters.Total) * 100)
}

func (d *Document) SuccessRate() float64 {
	if d.Counters.Processed == 0 {
		return 0
	}
	return round2(float64(d.Counters.Success) / float64(d.Counters.Processed) * 100)
}

// Outcome applies the lenient document policy: any successful ICCID makes the document a success.
func (c Counters) Outcome() DocumentStatus {
	if c.Success > 0 {
		return StatusSuccess
	}
	return StatusFailed
}

// DocumentStats aggregates document counters for reporting.
type DocumentStats struct {
	TotalDocuments      int     `json:"total_documents"`
	PendingDocuments    int     `json:"pending_documents"`
	ProcessingDocuments int     `json:"processing_documents"`
	SuccessDocuments    int     `json:"success_documents"`
	FailedDocuments     int     `json:"failed_documents"`
	TotalICCIDProcessed int     `json:"total_iccid_processed"`
	TotalICCIDSuccess   int     `json:"total_iccid_success"`
	TotalICCIDFailed    int     `json:"total_iccid_failed"`
	SuccessRate         float64 `json:"success_rate"`
	AvgProcessingTime   float64 `json:"avg_processing_time"`
}

func (s *DocumentStats) ComputeSuccessRate() {
	if s.TotalICCIDProcessed == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = round2(float64(s.TotalICCIDSuccess) / float64(s.TotalICCIDProcessed) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
