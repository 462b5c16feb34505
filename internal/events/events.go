package events

import "github.com/jarto666/scriptforge/internal/domain"

// Kind discriminates the event types routed through the bus. The set is
// closed; new event types extend this enum rather than any string pattern.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
)

// Topic addresses one batch's stream of a single event kind. The bus routes
// strictly by topic; a subscriber never observes another batch's events.
type Topic struct {
	BatchID string
	Kind    Kind
}

// ProgressTopic returns the progress topic for a batch.
func ProgressTopic(batchID string) Topic {
	return Topic{BatchID: batchID, Kind: KindProgress}
}

// CompletedTopic returns the completion topic for a batch.
func CompletedTopic(batchID string) Topic {
	return Topic{BatchID: batchID, Kind: KindCompleted}
}

// Wire statuses for the progress payload. The wire contract uses "completed"
// where the domain model says "succeeded".
const (
	WireStatusGenerating = "generating"
	WireStatusCompleted  = "completed"
	WireStatusFailed     = "failed"
)

// WireStatus maps a domain script status to its wire representation.
func WireStatus(s domain.ScriptStatus) string {
	switch s {
	case domain.ScriptStatusSucceeded:
		return WireStatusCompleted
	case domain.ScriptStatusFailed:
		return WireStatusFailed
	default:
		return WireStatusGenerating
	}
}

// Progress is published each time one script reaches a new status. It carries
// a post-update snapshot of the batch counters; snapshots published for one
// batch are non-decreasing in publication order.
type Progress struct {
	BatchID         string  `json:"batchId"`
	ScriptID        string  `json:"scriptId"`
	Status          string  `json:"status"`
	CompletedCount  int     `json:"completedCount"`
	FailedCount     int     `json:"failedCount"`
	GeneratingCount int     `json:"generatingCount"`
	TotalCount      int     `json:"totalCount"`
	Progress        float64 `json:"progress"`
}

// Completed is published exactly once per batch, when the last script
// reaches a terminal status.
type Completed struct {
	BatchID          string `json:"batchId"`
	ProjectID        string `json:"projectId"`
	TotalScripts     int    `json:"totalScripts"`
	CompletedScripts int    `json:"completedScripts"`
	FailedScripts    int    `json:"failedScripts"`
}
