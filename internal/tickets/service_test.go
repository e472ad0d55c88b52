package tickets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-console/internal/api"
	"github.com/spec-kit/ticket-console/internal/config"
	"github.com/spec-kit/ticket-console/internal/domain"
	"github.com/spec-kit/ticket-console/internal/events"
	"github.com/spec-kit/ticket-console/internal/query"
	"github.com/spec-kit/ticket-console/internal/session"
)

// ticketBackend is an httptest handler that counts hits per operation
// so tests can observe which calls were answered from cache.
type ticketBackend struct {
	listHits    atomic.Int64
	detailHits  atomic.Int64
	mutationHit atomic.Int64

	mu             sync.Mutex
	detailHitsByID map[int64]int
}

func (b *ticketBackend) countDetail(id int64) {
	b.detailHits.Add(1)
	b.mu.Lock()
	if b.detailHitsByID == nil {
		b.detailHitsByID = make(map[int64]int)
	}
	b.detailHitsByID[id]++
	b.mu.Unlock()
}

func (b *ticketBackend) detailHitsFor(id int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detailHitsByID[id]
}

func (b *ticketBackend) handler() http.Handler {
	ticket := domain.Ticket{ID: 7, Title: "printer on fire", Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityHigh}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/tickets/":
			b.listHits.Add(1)
			json.NewEncoder(w).Encode(domain.PaginatedTickets{Count: 1, Results: []domain.Ticket{ticket}})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/tickets/"):
			got := ticket
			raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/tickets/"), "/")
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				got.ID = id
				b.countDetail(id)
			} else {
				b.detailHits.Add(1)
			}
			json.NewEncoder(w).Encode(got)
		case r.Method == http.MethodPost && r.URL.Path == "/tickets/":
			b.mutationHit.Add(1)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(ticket)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/respond/"):
			b.mutationHit.Add(1)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"detail": "response recorded"})
		case r.Method == http.MethodPatch:
			b.mutationHit.Add(1)
			json.NewEncoder(w).Encode(ticket)
		case r.Method == http.MethodDelete:
			b.mutationHit.Add(1)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestService(t *testing.T, backend *ticketBackend) *Service {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	store := session.NewMemoryStore()
	store.SetTokens(domain.TokenPair{Access: "tok", Refresh: "ref"})

	client := api.New(config.APIConfig{BaseURL: srv.URL, RequestTimeoutSeconds: 5}, store, zap.NewNop())
	cache := query.New(time.Minute, zap.NewNop())
	cfg := config.CacheConfig{FreshSeconds: 60, GCGraceSeconds: 60, PollIntervalSeconds: 1}
	return NewService(client, cache, cfg, zap.NewNop())
}

func TestListIsServedFromCache(t *testing.T) {
	backend := &ticketBackend{}
	svc := newTestService(t, backend)
	ctx := context.Background()
	params := api.ListParams{Status: "open", Limit: 10}

	page, err := svc.List(ctx, params)
	if err != nil {
		t.Fatal(err)
	}
	if page.Count != 1 || len(page.Results) != 1 {
		t.Fatalf("page = %+v", page)
	}

	if _, err := svc.List(ctx, params); err != nil {
		t.Fatal(err)
	}
	if n := backend.listHits.Load(); n != 1 {
		t.Fatalf("list hits = %d, want 1 (second read must come from cache)", n)
	}

	// A different parameter set is a different cache entry.
	if _, err := svc.List(ctx, api.ListParams{Status: "closed", Limit: 10}); err != nil {
		t.Fatal(err)
	}
	if n := backend.listHits.Load(); n != 2 {
		t.Fatalf("list hits = %d, want 2", n)
	}
}

func TestCreateInvalidatesListFamily(t *testing.T) {
	backend := &ticketBackend{}
	svc := newTestService(t, backend)
	ctx := context.Background()

	if _, err := svc.List(ctx, api.ListParams{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, 7); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Create(ctx, api.CreateTicketInput{
		Title:       "new ticket",
		Description: "long enough description",
		Priority:    domain.TicketPriorityLow,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.List(ctx, api.ListParams{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, 7); err != nil {
		t.Fatal(err)
	}

	if n := backend.listHits.Load(); n != 2 {
		t.Errorf("list hits = %d, want 2 (creation expires collection pages)", n)
	}
	if n := backend.detailHits.Load(); n != 1 {
		t.Errorf("detail hits = %d, want 1 (creation leaves details alone)", n)
	}
}

func TestRespondInvalidatesDetail(t *testing.T) {
	backend := &ticketBackend{}
	svc := newTestService(t, backend)
	ctx := context.Background()

	if _, err := svc.Get(ctx, 7); err != nil {
		t.Fatal(err)
	}

	// Respond posts the message and refetches the thread directly.
	if _, err := svc.Respond(ctx, 7, "have you tried turning it off and on"); err != nil {
		t.Fatal(err)
	}
	hitsAfterRespond := backend.detailHits.Load()

	if _, err := svc.Get(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if n := backend.detailHits.Load(); n != hitsAfterRespond+1 {
		t.Fatalf("detail hits = %d, want %d (cached detail must be stale after respond)", n, hitsAfterRespond+1)
	}
}

func TestUpdateLeavesOtherDetailsCached(t *testing.T) {
	backend := &ticketBackend{}
	svc := newTestService(t, backend)
	ctx := context.Background()

	// Ids 5 and 51 share a key prefix; updating 5 must only expire 5.
	if _, err := svc.Get(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, 51); err != nil {
		t.Fatal(err)
	}

	title := "now with more detail"
	if _, err := svc.Update(ctx, 5, api.UpdateTicketInput{Title: &title}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Get(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, 51); err != nil {
		t.Fatal(err)
	}

	if n := backend.detailHitsFor(5); n != 2 {
		t.Errorf("ticket 5 detail hits = %d, want 2 (update expires its entry)", n)
	}
	if n := backend.detailHitsFor(51); n != 1 {
		t.Errorf("ticket 51 detail hits = %d, want 1 (unrelated entry stays cached)", n)
	}
}

func TestDeletePurgesDetailEntry(t *testing.T) {
	backend := &ticketBackend{}
	svc := newTestService(t, backend)
	ctx := context.Background()

	if _, err := svc.Get(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, 7); err != nil {
		t.Fatal(err)
	}

	// Re-reading goes back to the server; the purged entry cannot answer.
	if _, err := svc.Get(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if n := backend.detailHits.Load(); n != 2 {
		t.Fatalf("detail hits = %d, want 2", n)
	}
}

func TestMutationsPublishEvents(t *testing.T) {
	backend := &ticketBackend{}
	svc := newTestService(t, backend)
	ctx := context.Background()

	var actions []string
	svc.api.Dispatcher().Subscribe(events.EventTicketMutated, func(_ context.Context, e events.Event) error {
		payload, ok := e.Payload.(events.TicketMutatedPayload)
		if !ok {
			t.Fatalf("payload type %T", e.Payload)
		}
		actions = append(actions, payload.Action)
		return nil
	})

	if _, err := svc.Create(ctx, api.CreateTicketInput{Title: "abc", Description: "long enough text", Priority: domain.TicketPriorityLow}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateStatus(ctx, 7, domain.TicketStatusClosed); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, 7); err != nil {
		t.Fatal(err)
	}

	want := []string{"create", "update", "delete"}
	if len(actions) != len(want) {
		t.Fatalf("actions = %v", actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("action[%d] = %q, want %q", i, actions[i], want[i])
		}
	}
}

func TestWatchDeliversPages(t *testing.T) {
	backend := &ticketBackend{}
	svc := newTestService(t, backend)

	sub := svc.Watch(api.ListParams{}, 20*time.Millisecond)
	defer sub.Close()

	for i := 0; i < 2; i++ {
		select {
		case res := <-sub.Updates():
			if res.Err != nil {
				t.Fatal(res.Err)
			}
			page, ok := res.Data.(domain.PaginatedTickets)
			if !ok {
				t.Fatalf("payload type %T", res.Data)
			}
			if page.Count != 1 {
				t.Fatalf("page count = %d", page.Count)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a watch delivery")
		}
	}
	if n := backend.listHits.Load(); n < 2 {
		t.Fatalf("list hits = %d, want at least 2 from polling", n)
	}
}
