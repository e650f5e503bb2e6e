// Package outbox implements the transactional outbox: messages are written in
// the same database transaction as the business change they announce, then
// published to the bus by a background relay. Delivery is at-least-once;
// consumers deduplicate on the message id.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	// StatusPending marks a message awaiting its first publish attempt.
	StatusPending Status = "pending"
	// StatusPublished marks a delivered message. ProcessedAt records when.
	StatusPublished Status = "published"
	// StatusFailed marks a failed attempt that is still retry-eligible.
	StatusFailed Status = "failed"
	// StatusDeadLetter marks a message that exhausted its retry budget.
	// Terminal; requires operator intervention.
	StatusDeadLetter Status = "dead_letter"
)

// DefaultMaxRetries is the number of failed publish attempts after which a
// message is dead-lettered.
const DefaultMaxRetries = 5

type Message struct {
	ID            string
	MessageType   string
	Payload       []byte
	CorrelationID string
	AggregateType string
	AggregateID   string
	Headers       map[string]string
	Traceparent   string
	Status        Status
	RetryCount    int
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	LastError     *string
}

// NewMessage builds a pending message. AggregateType and AggregateID name the
// business entity whose transaction carries this message.
func NewMessage(messageType string, payload []byte, correlationID, aggregateType, aggregateID string) Message {
	return Message{
		ID:            uuid.NewString(),
		MessageType:   messageType,
		Payload:       payload,
		CorrelationID: correlationID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Status:        StatusPending,
	}
}
