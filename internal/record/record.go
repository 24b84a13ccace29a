// Package record defines the canonical scheme record and the mapping between
// it and the rows persisted by the record store.
package record

import (
	"strings"
	"time"
)

// Raw is one row as returned by the store. Key casing and naming are not
// stable across schema versions.
type Raw map[string]any

// Payload is a write payload keyed by store column name.
type Payload map[string]any

// Record is the canonical in-memory shape of a scheme. It is the union of the
// legacy industrial job row and the current scheme row.
type Record struct {
	ID                string    `json:"id"`
	JobNo             string    `json:"jobNo"`
	AppNumber         string    `json:"appNumber"`
	SchemeRef         string    `json:"schemeRef"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Contractor        string    `json:"contractor"`
	Supervisor        string    `json:"supervisor"`
	Status            Status    `json:"status"`
	StatusText        string    `json:"statusText"`
	AppStatus         string    `json:"appStatus"`
	Priority          Priority  `json:"priority"`
	Category          Category  `json:"category"`
	Area              string    `json:"area"`
	Type              string    `json:"type"`
	PONumber          string    `json:"poNumber"`
	ContractorRemarks string    `json:"contractorRemarks"`
	Appraisal         string    `json:"appraisal"`
	LabCost           float64   `json:"labCost"`
	MatCost           float64   `json:"matCost"`
	TotalCost         float64   `json:"totalCost"`
	Insight           string    `json:"insight"`
	CreatedBy         string    `json:"createdBy"`
	CreatedAt         time.Time `json:"createdAt"`
	ReceivedDate      string    `json:"receivedDate"`
	CompletedDate     string    `json:"completedDate"`

	// IsAnalyzing is view state only. It is never persisted.
	IsAnalyzing bool `json:"isAnalyzing"`
}

// Persisted reports whether the record carries a durable store identifier.
func (r Record) Persisted() bool {
	return r.ID != "" && !IsPlaceholderID(r.ID)
}

// Status is the fixed in-memory status vocabulary.
type Status string

const (
	StatusUnspecified Status = "N/A"
	StatusDraft       Status = "Draft"
	StatusPending     Status = "Pending"
	StatusApproved    Status = "Approved"
	StatusRejected    Status = "Rejected"
	StatusInProgress  Status = "In Progress"
	StatusCompleted   Status = "Completed"
)

// Statuses lists every status except the sentinel, in workflow order.
var Statuses = []Status{
	StatusDraft,
	StatusPending,
	StatusInProgress,
	StatusApproved,
	StatusRejected,
	StatusCompleted,
}

// ParseStatus maps stored status text onto the vocabulary. Legacy rows hold
// free text such as "PENDING APPROVAL" or "Job Completed", so matching is by
// keyword. Anything unrecognised becomes StatusUnspecified.
func ParseStatus(value string) Status {
	s := strings.ToUpper(strings.TrimSpace(value))
	switch {
	case s == "" || s == "N/A":
		return StatusUnspecified
	case strings.Contains(s, "REJECT"):
		return StatusRejected
	case strings.Contains(s, "PENDING"):
		return StatusPending
	case strings.Contains(s, "APPROV"):
		return StatusApproved
	case strings.Contains(s, "COMPLET"):
		return StatusCompleted
	case strings.Contains(s, "PROGRESS"):
		return StatusInProgress
	case strings.Contains(s, "DRAFT"):
		return StatusDraft
	default:
		return StatusUnspecified
	}
}

func (s Status) String() string {
	if s == "" {
		return string(StatusUnspecified)
	}
	return string(s)
}

// Priority of a scheme under the current schema.
type Priority string

const (
	PriorityUnspecified Priority = ""
	PriorityLow         Priority = "Low"
	PriorityMedium      Priority = "Medium"
	PriorityHigh        Priority = "High"
	PriorityCritical    Priority = "Critical"
)

func ParsePriority(value string) Priority {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low":
		return PriorityLow
	case "medium":
		return PriorityMedium
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityUnspecified
	}
}

// Category of a scheme under the current schema.
type Category string

const (
	CategoryUnspecified Category = ""
	CategoryTechnical   Category = "Technical"
	CategoryOperational Category = "Operational"
	CategoryFinancial   Category = "Financial"
	CategoryStrategic   Category = "Strategic"
	CategoryCompliance  Category = "Compliance"
)

func ParseCategory(value string) Category {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "technical":
		return CategoryTechnical
	case "operational":
		return CategoryOperational
	case "financial":
		return CategoryFinancial
	case "strategic":
		return CategoryStrategic
	case "compliance":
		return CategoryCompliance
	default:
		return CategoryUnspecified
	}
}
