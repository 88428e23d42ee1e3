package models

import (
	"encoding/json"
	"time"
)

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert is an audit trail entry raised for an ensemble deviation.
// Only the acknowledgement fields are ever updated.
type Alert struct {
	ID             string          `json:"id"`
	ProfileID      string          `json:"profile_id"`
	BundleID       string          `json:"bundle_id"`
	JobID          string          `json:"job_id"`
	Type           DeviationType   `json:"type"`
	Severity       AlertSeverity   `json:"severity"`
	Message        string          `json:"message"`
	Details        json.RawMessage `json:"details,omitempty"`
	Acknowledged   bool            `json:"acknowledged"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
