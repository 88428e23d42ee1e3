package models

import (
	"fmt"
	"time"
)

// FreshnessRecord holds the last successful refresh of a domain for a profile.
type FreshnessRecord struct {
	ProfileID     string    `json:"profile_id"`
	Domain        Domain    `json:"domain"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// FreshnessKey is the storage key of a freshness record.
func FreshnessKey(profileID string, domain Domain) string {
	return fmt.Sprintf("%s:%s", profileID, domain)
}
