package stub

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/ticket-console/internal/domain"
)

// ErrUsernameTaken is returned when registration reuses a username.
var ErrUsernameTaken = errors.New("this username is already taken")

type userRecord struct {
	domain.User
	passwordHash string
}

// Store is the stub backend's in-memory state.
type Store struct {
	mu         sync.Mutex
	bcryptCost int

	users      map[int64]*userRecord
	byUsername map[string]int64
	tickets    map[int64]*domain.Ticket

	nextUser     int64
	nextTicket   int64
	nextResponse int64
	nextImage    int64
}

// NewStore creates an empty store.
func NewStore(bcryptCost int) *Store {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Store{
		bcryptCost: bcryptCost,
		users:      make(map[int64]*userRecord),
		byUsername: make(map[string]int64),
		tickets:    make(map[int64]*domain.Ticket),
	}
}

// CreateUser registers an account.
func (s *Store) CreateUser(reg domain.Registration, isStaff bool) (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.bcryptCost)
	if err != nil {
		return domain.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUsername[reg.Username]; exists {
		return domain.User{}, ErrUsernameTaken
	}
	s.nextUser++
	rec := &userRecord{
		User: domain.User{
			ID:        s.nextUser,
			Username:  reg.Username,
			Email:     reg.Email,
			FirstName: reg.FirstName,
			LastName:  reg.LastName,
			IsStaff:   isStaff,
		},
		passwordHash: string(hash),
	}
	s.users[rec.ID] = rec
	s.byUsername[rec.Username] = rec.ID
	return rec.User, nil
}

// Authenticate verifies credentials.
func (s *Store) Authenticate(username, password string) (domain.User, bool) {
	s.mu.Lock()
	id, ok := s.byUsername[username]
	var rec *userRecord
	if ok {
		rec = s.users[id]
	}
	s.mu.Unlock()

	if rec == nil {
		return domain.User{}, false
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.passwordHash), []byte(password)) != nil {
		return domain.User{}, false
	}
	return rec.User, true
}

// GetUser looks up a user by id.
func (s *Store) GetUser(id int64) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return domain.User{}, false
	}
	return rec.User, true
}

// CreateTicket stores a new ticket owned by user.
func (s *Store) CreateTicket(user domain.User, title, description string, priority domain.TicketPriority, imageNames []string) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTicket++
	now := time.Now().UTC()
	t := &domain.Ticket{
		ID:           s.nextTicket,
		TicketNumber: "TCK-" + strings.ToUpper(uuid.NewString()[:8]),
		Title:        title,
		Description:  description,
		Priority:     priority,
		Status:       domain.TicketStatusOpen,
		User:         user,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, name := range imageNames {
		s.nextImage++
		t.Images = append(t.Images, domain.Attachment{ID: s.nextImage, Image: "/media/tickets/" + name})
	}
	s.tickets[t.ID] = t
	return cloneTicket(t)
}

// ListQuery are the collection filters.
type ListQuery struct {
	Status   string
	Priority string
	Search   string
	Ordering string
	Limit    int
	Offset   int
}

// ListTickets applies visibility, filters, ordering and pagination.
// Staff see the full queue; everyone else only their own tickets.
// Count is the filtered total before pagination.
func (s *Store) ListTickets(requester domain.User, q ListQuery) (count int, results []domain.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Ticket
	for _, t := range s.tickets {
		if !requester.IsStaff && t.User.ID != requester.ID {
			continue
		}
		if q.Status != "" && !strings.EqualFold(q.Status, string(t.Status)) {
			continue
		}
		if q.Priority != "" && !strings.EqualFold(q.Priority, string(t.Priority)) {
			continue
		}
		if q.Search != "" && !matchesSearch(t, q.Search) {
			continue
		}
		matched = append(matched, t)
	}

	sortTickets(matched, q.Ordering)

	count = len(matched)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := q.Offset
	if start > count {
		start = count
	}
	end := start + limit
	if end > count {
		end = count
	}
	for _, t := range matched[start:end] {
		results = append(results, cloneTicket(t))
	}
	return count, results
}

func matchesSearch(t *domain.Ticket, term string) bool {
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(t.Title), term) ||
		strings.Contains(strings.ToLower(t.Description), term) ||
		strings.Contains(strings.ToLower(t.TicketNumber), term)
}

func sortTickets(list []*domain.Ticket, ordering string) {
	field := strings.TrimPrefix(ordering, "-")
	desc := strings.HasPrefix(ordering, "-")
	if field == "" {
		// Model default: newest first.
		field, desc = "created_at", true
	}

	sort.SliceStable(list, func(i, j int) bool {
		c := compareTickets(list[i], list[j], field)
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareTickets(a, b *domain.Ticket, field string) int {
	switch field {
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case "priority":
		return priorityRank(a.Priority) - priorityRank(b.Priority)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func priorityRank(p domain.TicketPriority) int {
	switch p {
	case domain.TicketPriorityLow:
		return 0
	case domain.TicketPriorityMedium:
		return 1
	case domain.TicketPriorityHigh:
		return 2
	}
	return -1
}

// GetTicket returns a copy of the ticket.
func (s *Store) GetTicket(id int64) (domain.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return domain.Ticket{}, false
	}
	return cloneTicket(t), true
}

// TicketPatch holds partial-update fields; nil means unchanged.
type TicketPatch struct {
	Title       *string
	Description *string
	Priority    *domain.TicketPriority
	Status      *domain.TicketStatus
}

// UpdateTicket applies a patch. allowStatus reflects the server-side
// rule that only staff may transition status; a non-staff status field
// is dropped silently.
func (s *Store) UpdateTicket(id int64, patch TicketPatch, allowStatus bool) (domain.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return domain.Ticket{}, false
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.Status != nil && allowStatus {
		t.Status = *patch.Status
	}
	t.UpdatedAt = time.Now().UTC()
	return cloneTicket(t), true
}

// DeleteTicket removes a ticket.
func (s *Store) DeleteTicket(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return false
	}
	delete(s.tickets, id)
	return true
}

// AddResponse appends a thread message.
func (s *Store) AddResponse(id int64, user domain.User, message string) (domain.TicketResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return domain.TicketResponse{}, false
	}
	s.nextResponse++
	resp := domain.TicketResponse{
		ID:        s.nextResponse,
		Ticket:    id,
		User:      user,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	t.Responses = append(t.Responses, resp)
	t.UpdatedAt = resp.CreatedAt
	return resp, true
}

func cloneTicket(t *domain.Ticket) domain.Ticket {
	out := *t
	out.Responses = append([]domain.TicketResponse(nil), t.Responses...)
	out.Images = append([]domain.Attachment(nil), t.Images...)
	return out
}
