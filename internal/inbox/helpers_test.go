package inbox

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"inboxsync/internal/backend"
)

const testAccount = "owner@example.com"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeClock records scheduled calls and runs them on demand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Delays returns the delay of every timer ever scheduled, in order.
func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.delay
	}
	return out
}

// Pending counts timers neither fired nor stopped.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// FireAll runs every pending timer in scheduling order and returns how
// many ran.
func (c *fakeClock) FireAll() int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// waitFor polls cond until it holds or a few seconds pass.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestEngine(t *testing.T, mb backend.Mailbox, opts ...Option) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	base := []Option{
		WithLogger(testLogger()),
		WithAccount(testAccount),
		WithAfterFunc(clock.AfterFunc),
	}
	e := New(mb, append(base, opts...)...)
	t.Cleanup(e.Close)
	return e, clock
}

// funcMailbox is a Mailbox without classification or settings.
type funcMailbox struct {
	list   func(ctx context.Context, req backend.ListRequest) (*backend.ListResponse, error)
	modify func(ctx context.Context, req backend.ModifyRequest) error
}

func (f *funcMailbox) ListMessages(ctx context.Context, req backend.ListRequest) (*backend.ListResponse, error) {
	return f.list(ctx, req)
}

func (f *funcMailbox) ModifyLabels(ctx context.Context, req backend.ModifyRequest) error {
	if f.modify == nil {
		return nil
	}
	return f.modify(ctx, req)
}

// memStore is an in-memory ClassificationStore.
type memStore struct {
	mu   sync.Mutex
	data map[string]map[string]backend.Classification
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string]backend.Classification)}
}

func (s *memStore) Put(ctx context.Context, account, id string, c backend.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[account] == nil {
		s.data[account] = make(map[string]backend.Classification)
	}
	s.data[account][id] = c
	return nil
}

func (s *memStore) Load(ctx context.Context, account string, ids []string) (map[string]backend.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]backend.Classification)
	for _, id := range ids {
		if c, ok := s.data[account][id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (s *memStore) Clear(ctx context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, account)
	return nil
}

func (s *memStore) Count(account string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data[account])
}

func msg(id string, labels ...string) backend.MessageSummary {
	return backend.MessageSummary{ID: id, Subject: "subject " + id, LabelIDs: labels}
}

func messageIDs(views []MessageView) []string {
	ids := make([]string, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return ids
}
