package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets. Values match
// the backend wire representation.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusClosed     TicketStatus = "closed"
)

// TicketPriority enumerates urgency levels.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// ValidStatus reports whether s is a known wire status.
func ValidStatus(s TicketStatus) bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusClosed:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known wire priority.
func ValidPriority(p TicketPriority) bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// Ticket is the aggregate for support requests as returned by the API.
// Status transitions are server-authoritative: the client requests a
// transition and the server accepts or rejects it.
type Ticket struct {
	ID           int64            `json:"id"`
	TicketNumber string           `json:"ticket_number"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Priority     TicketPriority   `json:"priority"`
	Status       TicketStatus     `json:"status"`
	User         User             `json:"user"`
	Responses    []TicketResponse `json:"responses,omitempty"`
	Images       []Attachment     `json:"images,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TicketResponse is one message in a ticket's thread. Append-only and
// immutable once created, ordered by creation time.
type TicketResponse struct {
	ID        int64     `json:"id"`
	Ticket    int64     `json:"ticket"`
	User      User      `json:"user"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is an image attached to a ticket at creation time.
type Attachment struct {
	ID    int64  `json:"id"`
	Image string `json:"image"`
}

// PaginatedTickets is the offset/limit envelope returned by the list
// endpoint. Count is authoritative for page math.
type PaginatedTickets struct {
	Count    int      `json:"count"`
	Next     *string  `json:"next"`
	Previous *string  `json:"previous"`
	Results  []Ticket `json:"results"`
}
