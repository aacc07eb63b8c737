package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/meter-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered  EventType = "user_registered"
	EventLoginSucceeded  EventType = "login_succeeded"
	EventLoginFailed     EventType = "login_failed"
	EventTokensRefreshed EventType = "tokens_refreshed"
	EventUserPromoted    EventType = "user_promoted"
)

// AllEventTypes lists every audit event the service emits.
var AllEventTypes = []EventType{
	EventUserRegistered,
	EventLoginSucceeded,
	EventLoginFailed,
	EventTokensRefreshed,
	EventUserPromoted,
}

// Event represents an audit event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    int64     `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType EventType, userID int64, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// LoginFailedPayload payload. Reason is internal only and never reaches
// the caller.
type LoginFailedPayload struct {
	AccountNumber string `json:"account_number"`
	Reason        string `json:"reason"`
	Failures      int64  `json:"failures,omitempty"`
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	AccountNumber string `json:"account_number"`
}

// UserPromotedPayload payload.
type UserPromotedPayload struct {
	ActorID int64       `json:"actor_id"`
	NewRole domain.Role `json:"new_role"`
}
