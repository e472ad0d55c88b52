package query

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the lifecycle state of a cache entry.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusError
)

// Fetcher loads the data for a key. At most one invocation per key is
// outstanding at any time; concurrent subscribers share its outcome.
type Fetcher func(ctx context.Context) (any, error)

// Result is one delivery to a subscriber.
type Result struct {
	Data any
	Err  error
}

// Options tune one subscription.
type Options struct {
	// Fresh is the window during which an existing successful entry is
	// served without refetching. Zero means always refetch on subscribe.
	Fresh time.Duration
	// PollInterval re-invokes the fetcher on a timer while at least one
	// subscriber remains. Zero disables polling.
	PollInterval time.Duration
}

type entry struct {
	key     Key
	fetcher Fetcher

	status    Status
	data      any
	err       error
	fetchedAt time.Time

	stale         bool
	inflight      bool
	refetchQueued bool

	subs       map[*Subscription]struct{}
	pollCancel context.CancelFunc
	gcTimer    *time.Timer
}

// Cache is the keyed query cache.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	gcGrace time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// New creates a cache. gcGrace is how long an entry without
// subscribers is retained before eviction.
func New(gcGrace time.Duration, logger *zap.Logger, opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[Key]*entry),
		gcGrace: gcGrace,
		log:     logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscription is one registered interest in a key. Results (the
// initial load, poll refreshes, invalidation refetches) arrive on
// Updates until Close.
type Subscription struct {
	cache   *Cache
	key     Key
	updates chan Result
	closed  bool
	opts    Options
}

// Updates delivers results for the subscribed key.
func (s *Subscription) Updates() <-chan Result { return s.updates }

// Close unregisters the subscription. An already-dispatched fetch is
// allowed to complete and populate the cache for other subscribers;
// only future polling and retention are affected.
func (s *Subscription) Close() {
	s.cache.unsubscribe(s)
}

// Subscribe registers interest in key. If a fresh entry exists its
// data is delivered immediately without invoking the fetcher;
// otherwise a (shared) fetch starts. With a poll interval the fetcher
// re-runs on a timer while subscribers remain.
func (c *Cache) Subscribe(key Key, fetcher Fetcher, opts Options) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, subs: make(map[*Subscription]struct{})}
		c.entries[key] = e
	}
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
	e.fetcher = fetcher

	sub := &Subscription{cache: c, key: key, updates: make(chan Result, 8), opts: opts}
	e.subs[sub] = struct{}{}

	if c.freshLocked(e, opts.Fresh) {
		deliver(sub, Result{Data: e.data})
	} else {
		c.fetchLocked(e)
	}

	if opts.PollInterval > 0 && e.pollCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		e.pollCancel = cancel
		go c.poll(ctx, key, opts.PollInterval)
	}

	return sub
}

// Get is a one-shot read-through: subscribe, await the first result,
// unsubscribe.
func (c *Cache) Get(ctx context.Context, key Key, fetcher Fetcher, opts Options) (any, error) {
	sub := c.Subscribe(key, fetcher, opts)
	defer sub.Close()

	select {
	case res := <-sub.Updates():
		return res.Data, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate marks every entry in the prefix family stale. Entries
// with active subscribers refetch immediately; idle entries refetch on
// their next subscription.
func (c *Cache) Invalidate(prefix Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if !key.HasPrefix(prefix) {
			continue
		}
		e.stale = true
		if len(e.subs) > 0 {
			c.fetchLocked(e)
		}
	}
}

// Expire marks exactly one entry stale, leaving the rest of its
// family alone. Detail keys need this: "tickets/detail/5" is a string
// prefix of "tickets/detail/51", so prefix invalidation cannot target
// a single ticket.
func (c *Cache) Expire(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.stale = true
	if len(e.subs) > 0 {
		c.fetchLocked(e)
	}
}

// Remove evicts an entry outright. Used after deletions, where the
// resource no longer exists and a stale marker would still refetch it.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked(key)
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) freshLocked(e *entry, fresh time.Duration) bool {
	if e.stale || e.status != StatusSuccess {
		return false
	}
	if fresh <= 0 {
		return false
	}
	return c.now().Sub(e.fetchedAt) < fresh
}

// fetchLocked starts the fetcher for e unless one is already in
// flight, in which case a follow-up run is queued so the cache
// converges on post-invalidation state.
func (c *Cache) fetchLocked(e *entry) {
	if e.inflight {
		if e.stale {
			e.refetchQueued = true
		}
		return
	}
	e.inflight = true
	if e.status != StatusSuccess {
		e.status = StatusPending
	}
	fetcher := e.fetcher
	key := e.key

	go func() {
		data, err := fetcher(context.Background())

		c.mu.Lock()
		defer c.mu.Unlock()

		live, ok := c.entries[key]
		if !ok || live != e {
			// Entry was removed while the fetch ran; nothing to update.
			return
		}
		e.inflight = false
		e.fetchedAt = c.now()
		if err != nil {
			e.status = StatusError
			e.err = err
		} else {
			e.status = StatusSuccess
			e.data = data
			e.err = nil
			e.stale = false
		}

		res := Result{Data: e.data, Err: e.err}
		if err != nil {
			res.Data = nil
		}
		for sub := range e.subs {
			deliver(sub, res)
		}

		if e.refetchQueued {
			e.refetchQueued = false
			c.fetchLocked(e)
		}
	}()
}

func (c *Cache) poll(ctx context.Context, key Key, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if e, ok := c.entries[key]; ok && len(e.subs) > 0 {
				c.fetchLocked(e)
			}
			c.mu.Unlock()
		}
	}
}

func (c *Cache) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true

	e, ok := c.entries[sub.key]
	if !ok {
		close(sub.updates)
		return
	}
	delete(e.subs, sub)
	close(sub.updates)

	if len(e.subs) > 0 {
		return
	}
	if e.pollCancel != nil {
		e.pollCancel()
		e.pollCancel = nil
	}
	key := sub.key
	if c.gcGrace <= 0 {
		c.dropLocked(key)
		return
	}
	e.gcTimer = time.AfterFunc(c.gcGrace, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if live, ok := c.entries[key]; ok && len(live.subs) == 0 {
			c.dropLocked(key)
		}
	})
}

func (c *Cache) dropLocked(key Key) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.pollCancel != nil {
		e.pollCancel()
		e.pollCancel = nil
	}
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
	delete(c.entries, key)
	if c.log != nil {
		c.log.Debug("cache entry evicted", zap.String("key", key.String()))
	}
}

// deliver pushes a result without blocking broadcast; a lagging
// subscriber loses the oldest buffered update instead.
func deliver(sub *Subscription, res Result) {
	select {
	case sub.updates <- res:
		return
	default:
	}
	select {
	case <-sub.updates:
	default:
	}
	select {
	case sub.updates <- res:
	default:
	}
}
