package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the job payload enqueued by the orchestrator and consumed by a worker.
// Type selects the named queue.
type QueueMessage struct {
	JobID     string `json:"job_id"`
	BundleID  string `json:"bundle_id"`
	ProfileID string `json:"profile_id"`
	Type      Domain `json:"type"`
}

// NewQueueMessage builds the payload for a job.
func NewQueueMessage(job *Job) QueueMessage {
	return QueueMessage{
		JobID:     job.ID,
		BundleID:  job.BundleID,
		ProfileID: job.ProfileID,
		Type:      job.Type,
	}
}

// ToJSON serializes the message for queue storage.
func (m QueueMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// QueueMessageFromJSON deserializes a queue message and checks the required fields.
func QueueMessageFromJSON(data []byte) (*QueueMessage, error) {
	var msg QueueMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue message: %w", err)
	}
	if msg.JobID == "" || msg.BundleID == "" || msg.ProfileID == "" {
		return nil, fmt.Errorf("queue message missing identifiers")
	}
	if !msg.Type.IsValid() {
		return nil, fmt.Errorf("queue message has unknown type %q", msg.Type)
	}
	return &msg, nil
}
