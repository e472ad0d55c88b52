// Package tickets is the read-through service over the ticket API:
// cached reads keyed by filter/pagination parameters, and mutations
// that invalidate the affected cache families so subsequent reads
// reflect the write.
package tickets

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-console/internal/api"
	"github.com/spec-kit/ticket-console/internal/config"
	"github.com/spec-kit/ticket-console/internal/domain"
	"github.com/spec-kit/ticket-console/internal/events"
	"github.com/spec-kit/ticket-console/internal/query"
)

// Service coordinates the API client and the query cache.
type Service struct {
	api   *api.Client
	cache *query.Cache
	log   *zap.Logger
	fresh time.Duration
}

// NewService builds a Service.
func NewService(client *api.Client, cache *query.Cache, cfg config.CacheConfig, logger *zap.Logger) *Service {
	return &Service{
		api:   client,
		cache: cache,
		log:   logger,
		fresh: cfg.Fresh(),
	}
}

// List returns one page of the collection, served from cache when a
// fresh entry for the same canonical parameters exists.
func (s *Service) List(ctx context.Context, params api.ListParams) (domain.PaginatedTickets, error) {
	key := ListKey(params)
	val, err := s.cache.Get(ctx, key, func(ctx context.Context) (any, error) {
		return s.api.ListTickets(ctx, params)
	}, query.Options{Fresh: s.fresh})
	if err != nil {
		return domain.PaginatedTickets{}, err
	}
	page, ok := val.(domain.PaginatedTickets)
	if !ok {
		return domain.PaginatedTickets{}, fmt.Errorf("unexpected cache payload for %s", key)
	}
	return page, nil
}

// Get returns one ticket with its thread, cache-first.
func (s *Service) Get(ctx context.Context, id int64) (domain.Ticket, error) {
	key := DetailKey(id)
	val, err := s.cache.Get(ctx, key, func(ctx context.Context) (any, error) {
		return s.api.GetTicket(ctx, id)
	}, query.Options{Fresh: s.fresh})
	if err != nil {
		return domain.Ticket{}, err
	}
	ticket, ok := val.(domain.Ticket)
	if !ok {
		return domain.Ticket{}, fmt.Errorf("unexpected cache payload for %s", key)
	}
	return ticket, nil
}

// Watch subscribes to a list query with background polling. Each poll
// tick re-runs the fetch and delivers the page on the subscription
// channel until Close.
func (s *Service) Watch(params api.ListParams, interval time.Duration) *query.Subscription {
	key := ListKey(params)
	return s.cache.Subscribe(key, func(ctx context.Context) (any, error) {
		return s.api.ListTickets(ctx, params)
	}, query.Options{Fresh: s.fresh, PollInterval: interval})
}

// Create makes a new ticket and expires every collection page, since
// membership and counts changed.
func (s *Service) Create(ctx context.Context, input api.CreateTicketInput) (domain.Ticket, error) {
	ticket, err := s.api.CreateTicket(ctx, input)
	if err != nil {
		return domain.Ticket{}, err
	}
	s.cache.Invalidate(KeyLists)
	s.publishMutation(ctx, ticket.ID, "create")
	return ticket, nil
}

// Update patches a ticket and expires both the collection pages and
// that ticket's detail entry.
func (s *Service) Update(ctx context.Context, id int64, input api.UpdateTicketInput) (domain.Ticket, error) {
	ticket, err := s.api.UpdateTicket(ctx, id, input)
	if err != nil {
		return domain.Ticket{}, err
	}
	s.invalidateTicket(id)
	s.publishMutation(ctx, id, "update")
	return ticket, nil
}

// UpdateStatus requests a status transition; the server accepts or
// rejects it.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status domain.TicketStatus) (domain.Ticket, error) {
	return s.Update(ctx, id, api.UpdateTicketInput{Status: &status})
}

// Respond appends a thread message, then expires the detail entry and
// collection pages.
func (s *Service) Respond(ctx context.Context, id int64, message string) (domain.Ticket, error) {
	ticket, err := s.api.RespondToTicket(ctx, id, message)
	if err != nil {
		return domain.Ticket{}, err
	}
	s.invalidateTicket(id)
	s.publishMutation(ctx, id, "respond")
	return ticket, nil
}

// Delete removes a ticket. The detail entry is purged outright rather
// than marked stale: the resource no longer exists, so a refetch would
// only produce a 404.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.api.DeleteTicket(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(KeyLists)
	s.cache.Remove(DetailKey(id))
	s.publishMutation(ctx, id, "delete")
	return nil
}

func (s *Service) invalidateTicket(id int64) {
	s.cache.Invalidate(KeyLists)
	s.cache.Expire(DetailKey(id))
}

func (s *Service) publishMutation(ctx context.Context, id int64, action string) {
	_ = s.api.Dispatcher().Publish(ctx, events.Event{
		Type:      events.EventTicketMutated,
		Timestamp: time.Now(),
		Payload:   events.TicketMutatedPayload{TicketID: id, Action: action},
	})
}
