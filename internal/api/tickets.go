package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spec-kit/ticket-console/internal/domain"
)

// DefaultLimit is the page size used when the caller does not choose one.
const DefaultLimit = 20

// ListParams are the filter, search, sort and pagination knobs of the
// ticket collection endpoint. A Status or Priority of "all" (or empty)
// omits that filter.
type ListParams struct {
	Status   string
	Priority string
	Search   string
	Ordering string
	Limit    int
	Offset   int
}

// Values serializes the parameters for the query string.
func (p ListParams) Values() url.Values {
	q := url.Values{}
	if p.Status != "" && p.Status != "all" {
		q.Set("status", p.Status)
	}
	if p.Priority != "" && p.Priority != "all" {
		q.Set("priority", p.Priority)
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	if p.Ordering != "" {
		q.Set("ordering", p.Ordering)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(p.Offset))
	return q
}

// ListTickets fetches one page of the ticket collection.
func (c *Client) ListTickets(ctx context.Context, params ListParams) (domain.PaginatedTickets, error) {
	var page domain.PaginatedTickets
	err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/tickets/",
		Params: params.Values(),
		Out:    &page,
	})
	if err != nil {
		return domain.PaginatedTickets{}, err
	}
	if page.Results == nil {
		page.Results = []domain.Ticket{}
	}
	return page, nil
}

// GetTicket fetches one ticket with its response thread.
func (c *Client) GetTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	var ticket domain.Ticket
	err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/tickets/%d/", id),
		Out:    &ticket,
	})
	return ticket, err
}

// ImageFile is an attachment included with ticket creation.
type ImageFile struct {
	Name    string
	Content []byte
}

// CreateTicketInput is the creation payload.
type CreateTicketInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
	Images      []ImageFile
}

// CreateTicket creates a ticket. With image attachments the payload is
// sent as multipart form data, otherwise as JSON.
func (c *Client) CreateTicket(ctx context.Context, input CreateTicketInput) (domain.Ticket, error) {
	var ticket domain.Ticket
	req := &Request{
		Method: http.MethodPost,
		Path:   "/tickets/",
		Out:    &ticket,
	}
	if len(input.Images) > 0 {
		req.Fields = map[string]string{
			"title":       input.Title,
			"description": input.Description,
			"priority":    string(input.Priority),
		}
		for _, img := range input.Images {
			req.Files = append(req.Files, FormFile{Field: "images", Name: img.Name, Content: img.Content})
		}
	} else {
		req.Body = map[string]string{
			"title":       input.Title,
			"description": input.Description,
			"priority":    string(input.Priority),
		}
	}
	err := c.Do(ctx, req)
	return ticket, err
}

// UpdateTicketInput holds the PATCH fields; nil means unchanged.
type UpdateTicketInput struct {
	Title       *string                `json:"title,omitempty"`
	Description *string                `json:"description,omitempty"`
	Priority    *domain.TicketPriority `json:"priority,omitempty"`
	Status      *domain.TicketStatus   `json:"status,omitempty"`
}

// UpdateTicket applies a partial update. Status transitions are
// server-authoritative; non-staff requests silently keep the old status.
func (c *Client) UpdateTicket(ctx context.Context, id int64, input UpdateTicketInput) (domain.Ticket, error) {
	var ticket domain.Ticket
	err := c.Do(ctx, &Request{
		Method: http.MethodPatch,
		Path:   fmt.Sprintf("/tickets/%d/", id),
		Body:   input,
		Out:    &ticket,
	})
	return ticket, err
}

// DeleteTicket removes a ticket.
func (c *Client) DeleteTicket(ctx context.Context, id int64) error {
	return c.Do(ctx, &Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/tickets/%d/", id),
	})
}

// RespondToTicket appends a message to the thread. The append action
// returns only a confirmation, so the ticket is refetched to give the
// caller the updated thread.
func (c *Client) RespondToTicket(ctx context.Context, id int64, message string) (domain.Ticket, error) {
	err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/tickets/%d/respond/", id),
		Body:   map[string]string{"message": message},
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	return c.GetTicket(ctx, id)
}
