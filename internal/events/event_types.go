package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionRefreshed EventType = "session_refreshed"
	EventSessionExpired   EventType = "session_expired"
	EventTicketMutated    EventType = "ticket_mutated"
)

// Event represents a client-side lifecycle event. The HTTP client
// publishes session events; the ticket service publishes mutation
// events after cache invalidation.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// SessionExpiredPayload carries the reason the session ended.
type SessionExpiredPayload struct {
	Reason string `json:"reason"`
}

// TicketMutatedPayload identifies which ticket changed; zero TicketID
// for creations.
type TicketMutatedPayload struct {
	TicketID int64  `json:"ticket_id,omitempty"`
	Action   string `json:"action"`
}
