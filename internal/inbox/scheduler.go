package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"inboxsync/internal/backend"
)

const (
	DefaultBatchSize = 4
	DefaultStagger   = 350 * time.Millisecond
)

// Timer is a cancellable pending call.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ClassificationStore persists classifications between runs.
type ClassificationStore interface {
	Put(ctx context.Context, account, id string, c backend.Classification) error
	Load(ctx context.Context, account string, ids []string) (map[string]backend.Classification, error)
	Clear(ctx context.Context, account string) error
}

// deliverFunc hands a finished classification back to the cache.
type deliverFunc func(account, id string, c backend.Classification)

// Scheduler classifies unclassified messages in small staggered bursts.
// Every message it picks is recorded in the ledger before any request is
// made, so no message is scheduled twice for the same account.
type Scheduler struct {
	classifier backend.Classifier
	store      ClassificationStore
	deliver    deliverFunc
	settled    func()
	afterFunc  AfterFunc
	logger     *slog.Logger
	batchSize  int
	stagger    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	ledger    *Ledger
	timers    map[string]Timer
	account   string
	epoch     uint64
	enabled   bool
	threshold float64
}

func newScheduler(classifier backend.Classifier, deliver deliverFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		classifier: classifier,
		deliver:    deliver,
		afterFunc:  realAfterFunc,
		logger:     slog.Default(),
		batchSize:  DefaultBatchSize,
		stagger:    DefaultStagger,
		ctx:        ctx,
		cancel:     cancel,
		ledger:     NewLedger(),
		timers:     make(map[string]Timer),
		threshold:  0.7,
	}
}

// Settings returns the current enablement and threshold.
func (s *Scheduler) Settings() backend.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return backend.Settings{AutoTagEnabled: s.enabled, UrgentConfThreshold: s.threshold}
}

// SetSettings updates enablement and threshold. It reports whether
// enablement changed. Pending timers are left alone.
func (s *Scheduler) SetSettings(settings backend.Settings) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled := settings.AutoTagEnabled && s.classifier != nil
	changed := enabled != s.enabled
	s.enabled = enabled
	if settings.UrgentConfThreshold > 0 {
		s.threshold = settings.UrgentConfThreshold
	}
	return changed
}

// Reset cancels pending timers and forgets the ledger. Requests already in
// flight complete but their results are dropped.
func (s *Scheduler) Reset(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimersLocked()
	s.ledger.Reset()
	s.account = account
	s.epoch++
}

// Close cancels timers and in-flight requests.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.stopTimersLocked()
	s.epoch++
	s.mu.Unlock()
	s.cancel()
}

func (s *Scheduler) stopTimersLocked() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Entries returns the ledger contents.
func (s *Scheduler) Entries() map[string]RequestEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Entries()
}

func (s *Scheduler) Entry(id string) (RequestEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Entry(id)
}

// Pending returns the number of timers not yet fired.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Scan schedules up to batchSize of the candidates that have never been
// seen. Candidates must already exclude classified messages. The k-th pick
// fires after k*stagger. It returns the ids it scheduled.
func (s *Scheduler) Scan(candidates []backend.MessageSummary) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.classifier == nil || s.account == "" {
		return nil
	}

	var picked []string
	for _, msg := range candidates {
		if len(picked) >= s.batchSize {
			break
		}
		if s.ledger.Seen(msg.ID) {
			continue
		}
		if err := s.ledger.Schedule(msg.ID); err != nil {
			continue
		}
		delay := time.Duration(len(picked)) * s.stagger
		epoch := s.epoch
		m := msg
		s.timers[m.ID] = s.afterFunc(delay, func() { s.fire(epoch, m) })
		picked = append(picked, m.ID)
	}
	if len(picked) > 0 {
		s.logger.Debug("scheduled classification", "count", len(picked), "ids", picked)
	}
	return picked
}

func (s *Scheduler) fire(epoch uint64, msg backend.MessageSummary) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	delete(s.timers, msg.ID)
	if err := s.ledger.Start(msg.ID); err != nil {
		s.mu.Unlock()
		return
	}
	account, threshold := s.account, s.threshold
	s.mu.Unlock()

	_ = s.classify(epoch, account, threshold, msg, false)
}

// Reclassify runs classification now for each message, bypassing the seen
// marker. Pending timers for those ids are cancelled first. At most
// batchSize requests run at once. Failures are recorded in the ledger;
// rejected ids and the first request failure are returned together.
func (s *Scheduler) Reclassify(ctx context.Context, force bool, msgs []backend.MessageSummary) error {
	if s.classifier == nil {
		return ErrNotSupported
	}

	s.mu.Lock()
	if s.account == "" {
		s.mu.Unlock()
		return ErrIdentityMissing
	}
	epoch, account, threshold := s.epoch, s.account, s.threshold
	var ready []backend.MessageSummary
	var errs []error
	for _, m := range msgs {
		var err error
		if s.ledger.State(m.ID) == RequestScheduled {
			if t, ok := s.timers[m.ID]; ok {
				t.Stop()
				delete(s.timers, m.ID)
			}
			err = s.ledger.Start(m.ID)
		} else {
			err = s.ledger.Force(m.ID)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ready = append(ready, m)
	}
	s.mu.Unlock()

	g := new(errgroup.Group)
	g.SetLimit(s.batchSize)
	for _, m := range ready {
		g.Go(func() error {
			return s.classifyCtx(ctx, epoch, account, threshold, m, force)
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) classify(epoch uint64, account string, threshold float64, msg backend.MessageSummary, force bool) error {
	return s.classifyCtx(s.ctx, epoch, account, threshold, msg, force)
}

func (s *Scheduler) classifyCtx(ctx context.Context, epoch uint64, account string, threshold float64, msg backend.MessageSummary, force bool) error {
	req := backend.ClassifyRequest{
		Email:     account,
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Headers: backend.ClassifyHeaders{
			Subject: msg.Subject,
			From:    msg.From,
			To:      msg.To,
			Cc:      msg.Cc,
			Date:    msg.Date,
		},
		Snippet:             msg.Snippet,
		UrgentConfThreshold: threshold,
		Force:               force,
	}

	result, err := s.classifier.Classify(ctx, req)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		s.logger.Debug("dropping classification for previous account", "id", msg.ID)
		return nil
	}
	if err != nil {
		state, text := failureState(err)
		_ = s.ledger.Finish(msg.ID, state, text)
		idle := s.idleLocked()
		s.mu.Unlock()
		s.logger.Warn("classification failed", "id", msg.ID, "status", state, "error", err)
		if idle {
			s.settle()
		}
		return fmt.Errorf("classify %s: %w", msg.ID, err)
	}
	_ = s.ledger.Finish(msg.ID, RequestDone, "")
	idle := s.idleLocked()
	s.mu.Unlock()

	cl := result.Normalize()
	if s.deliver != nil {
		s.deliver(account, msg.ID, cl)
	}
	if s.store != nil {
		if err := s.store.Put(ctx, account, msg.ID, cl); err != nil {
			s.logger.Warn("persist classification", "id", msg.ID, "error", err)
		}
	}
	if idle {
		s.settle()
	}
	return nil
}

// idleLocked reports whether no timer is pending and no request is in
// flight.
func (s *Scheduler) idleLocked() bool {
	if len(s.timers) > 0 {
		return false
	}
	for _, entry := range s.ledger.entries {
		if entry.State == RequestInFlight {
			return false
		}
	}
	return true
}

func (s *Scheduler) settle() {
	if s.settled != nil && s.ctx.Err() == nil {
		s.settled()
	}
}

// failureState maps a classify error to its ledger state and message.
func failureState(err error) (RequestState, string) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return RequestRateLimited, rateLimitMessage(apiErr.RetryAfter)
	}
	return RequestError, Classify(err).Message
}
