// Package alert defines alert events and their best-effort delivery.
// Publishing never blocks the caller and never retries indefinitely:
// alerting must not become a cause of cascading failure.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// Severity orders events for throttling and operator attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is an immutable alert record.
type Event struct {
	ID            string            `json:"id"`
	Severity      Severity          `json:"severity"`
	Message       string            `json:"message"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

// NewEvent creates an event stamped with a fresh ID and the current
// time. The correlation ID ties events from one recovery session
// together; pass "" when there is none.
func NewEvent(severity Severity, message, correlationID string) Event {
	return Event{
		ID:            uuid.New().String(),
		Severity:      severity,
		Message:       message,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// WithDetail returns a copy of the event carrying an extra detail.
func (e Event) WithDetail(key, value string) Event {
	details := make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	e.Details = details
	return e
}
