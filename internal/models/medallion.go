package models

import "time"

// Sentiment is the direction classification of a clean signal.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// Sign maps a sentiment to +1, -1 or 0.
func (s Sentiment) Sign() float64 {
	switch s {
	case SentimentBullish:
		return 1
	case SentimentBearish:
		return -1
	}
	return 0
}

// RawRecord is an unprocessed collaborator response. Append-only and purged
// once older than the raw retention window.
type RawRecord struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	JobID     string    `json:"job_id"`
	Domain    Domain    `json:"domain"`
	Source    string    `json:"source"`
	Payload   string    `json:"payload"`
	FetchedAt time.Time `json:"fetched_at"`
}

// CleanSignal is a normalized observation derived from a raw record.
// Price observations carry Value and ObservedAt; market and news signals carry sentiment.
type CleanSignal struct {
	ID          string     `json:"id"`
	ProfileID   string     `json:"profile_id"`
	JobID       string     `json:"job_id"`
	RawRecordID string     `json:"raw_record_id"`
	Domain      Domain     `json:"domain"`
	Sentiment   Sentiment  `json:"sentiment,omitempty"`
	Category    string     `json:"category,omitempty"`
	Strength    float64    `json:"strength"`
	Confidence  float64    `json:"confidence"`
	Description string     `json:"description"`
	Source      string     `json:"source,omitempty"`
	URL         string     `json:"url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ObservedAt  *time.Time `json:"observed_at,omitempty"`
	Value       float64    `json:"value,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
