package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message schedules one submission for evaluation.
type Message struct {
	SubmissionID  uuid.UUID `json:"submission_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func encodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func decodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("decode queue message: %w", err)
	}
	if msg.SubmissionID == uuid.Nil {
		return Message{}, fmt.Errorf("decode queue message: missing submission_id")
	}
	return msg, nil
}
