package common

import (
	"github.com/google/uuid"
)

// NewBundleID generates a job bundle ID. Format: bun_<uuid>
func NewBundleID() string {
	return "bun_" + uuid.New().String()
}

// NewJobID generates a job ID. Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewRecordID generates a raw/clean record ID. Format: rec_<uuid>
func NewRecordID() string {
	return "rec_" + uuid.New().String()
}

// NewAlertID generates an alert ID. Format: alr_<uuid>
func NewAlertID() string {
	return "alr_" + uuid.New().String()
}

// AlertIDFor derives a stable alert ID from the raising job and the alert
// kind, so a retried job maps to the alert it already wrote.
func AlertIDFor(jobID, kind string) string {
	return "alr_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(jobID+"/"+kind)).String()
}
