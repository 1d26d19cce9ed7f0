// Package inbox keeps a paginated, classified view of a remote mailbox in
// sync: it fetches pages, applies label edits optimistically, classifies
// new messages in the background and polls for changes.
package inbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"inboxsync/internal/backend"
)

const DefaultPageSize = 20

// Engine is the single owner of inbox state. All methods are safe for
// concurrent use.
type Engine struct {
	mailbox  backend.Mailbox
	settings backend.SettingsSaver
	store    ClassificationStore
	logger   *slog.Logger
	pageSize int

	scheduler *Scheduler
	refresher *Refresher
	flight    singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	started bool
	closed  bool
}

type options struct {
	logger       *slog.Logger
	store        ClassificationStore
	classifier   backend.Classifier
	settings     backend.SettingsSaver
	account      string
	filter       Filter
	pageSize     int
	batchSize    int
	stagger      time.Duration
	pollInterval time.Duration
	autoTag      backend.Settings
	afterFunc    AfterFunc
}

// Option configures an Engine.
type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore persists classifications and hydrates them on load.
func WithStore(store ClassificationStore) Option {
	return func(o *options) { o.store = store }
}

// WithClassifier overrides the classifier discovered on the mailbox.
func WithClassifier(c backend.Classifier) Option {
	return func(o *options) { o.classifier = c }
}

func WithAccount(email string) Option {
	return func(o *options) { o.account = email }
}

func WithFilter(f Filter) Option {
	return func(o *options) { o.filter = f }
}

func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithBatch sets how many messages a scan picks and the delay between them.
func WithBatch(size int, stagger time.Duration) Option {
	return func(o *options) {
		o.batchSize = size
		o.stagger = stagger
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithAutoTag sets the initial auto-tag settings. A list response carrying
// settings overrides them.
func WithAutoTag(s backend.Settings) Option {
	return func(o *options) { o.autoTag = s }
}

// WithAfterFunc replaces the timer factory used for staggering.
func WithAfterFunc(f AfterFunc) Option {
	return func(o *options) { o.afterFunc = f }
}

// New creates an engine over mailbox. If mailbox also implements
// backend.Classifier or backend.SettingsSaver those are used too.
func New(mailbox backend.Mailbox, opts ...Option) *Engine {
	o := options{
		logger:       slog.Default(),
		filter:       Filter{Mailbox: backend.LabelInbox},
		pageSize:     DefaultPageSize,
		batchSize:    DefaultBatchSize,
		stagger:      DefaultStagger,
		pollInterval: DefaultPollInterval,
		autoTag:      backend.Settings{AutoTagEnabled: true, UrgentConfThreshold: 0.7},
		afterFunc:    realAfterFunc,
	}
	if c, ok := mailbox.(backend.Classifier); ok {
		o.classifier = c
	}
	if s, ok := mailbox.(backend.SettingsSaver); ok {
		o.settings = s
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pageSize <= 0 {
		o.pageSize = DefaultPageSize
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	if o.stagger < 0 {
		o.stagger = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		mailbox:  mailbox,
		settings: o.settings,
		store:    o.store,
		logger:   o.logger,
		pageSize: o.pageSize,
		ctx:      ctx,
		cancel:   cancel,
		state:    newState(o.account, o.filter),
	}

	e.scheduler = newScheduler(o.classifier, e.deliver)
	e.scheduler.settled = e.rescan
	e.scheduler.store = o.store
	e.scheduler.afterFunc = o.afterFunc
	e.scheduler.logger = o.logger
	e.scheduler.batchSize = o.batchSize
	e.scheduler.stagger = o.stagger
	e.scheduler.SetSettings(o.autoTag)
	e.scheduler.Reset(o.account)

	e.refresher = newRefresher(o.pollInterval, e.tick, o.logger)
	return e
}

// Start enables the polling refresher.
func (e *Engine) Start() {
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	e.restartRefresher()
	e.logger.Info("inbox engine started", "account", e.Account())
}

// Close stops polling, cancels pending classifications and abandons
// in-flight requests.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.refresher.Close()
	e.scheduler.Close()
	e.cancel()
}

func (e *Engine) Account() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Account
}

// AutoTag returns the scheduler's current settings.
func (e *Engine) AutoTag() backend.Settings {
	return e.scheduler.Settings()
}

// Polling reports whether the refresher has a job scheduled.
func (e *Engine) Polling() bool {
	return e.refresher.Running()
}

func (e *Engine) restartRefresher() {
	e.mu.Lock()
	run := e.started && !e.closed && e.state.Active && e.state.Account != ""
	e.mu.Unlock()
	e.refresher.Restart(run)
}

// tick is the refresher job. With auto-tag on it reloads the current page
// so classifications keep flowing; with it off it only checks page 1 for
// new mail and leaves a paged-forward view alone.
func (e *Engine) tick() {
	e.mu.Lock()
	if e.state.Loading() || e.state.Account == "" {
		e.mu.Unlock()
		return
	}
	page := e.state.Pages.Page()
	e.mu.Unlock()

	opts := LoadOptions{Page: page}
	if !e.scheduler.Settings().AutoTagEnabled {
		if page != 1 {
			return
		}
		opts.ResetTokens = true
	}
	if _, err := e.LoadMessages(e.ctx, opts); err != nil {
		e.logger.Debug("poll failed", "error", err)
	}
}

// deliver stores a finished classification if the account still matches.
func (e *Engine) deliver(account, id string, c backend.Classification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if account != e.state.Account {
		return
	}
	e.state.Cache.SetClassification(id, c)
}

// rescan starts the next batch once the previous one has settled.
func (e *Engine) rescan() {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	e.scan()
}

// scan offers every unclassified cached message to the scheduler.
func (e *Engine) scan() []string {
	e.mu.Lock()
	candidates := e.state.Cache.Unclassified()
	e.mu.Unlock()
	return e.scheduler.Scan(candidates)
}
