// Package events names the outbound notifications the pipeline emits to webhook subscribers.
package events

import "time"

const (
	DocumentIndexed = "document.indexed"
	DocumentFailed  = "document.failed"
	QueryAnswered   = "query.answered"
	ResponseLearned = "response.learned"
)

// Event is a named notification with a JSON-serializable payload.
type Event interface {
	EventType() string
	Payload() map[string]interface{}
	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}
