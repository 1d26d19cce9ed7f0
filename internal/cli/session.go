package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"inboxsync/internal/backend"
	"inboxsync/internal/config"
	"inboxsync/internal/imap"
	"inboxsync/internal/inbox"
	"inboxsync/internal/store"
)

// session bundles an engine with the resources it owns.
type session struct {
	cfg    config.Config
	engine *inbox.Engine
	store  *store.SQLiteStore
	logger *slog.Logger
}

// sessionOptions tune an engine for one-shot or long-running commands.
type sessionOptions struct {
	// background lets scheduled classifications fire. One-shot commands
	// leave it off so nothing runs after they return.
	background bool
}

type heldTimer struct{}

func (heldTimer) Stop() bool { return true }

func heldAfterFunc(time.Duration, func()) inbox.Timer {
	return heldTimer{}
}

func newMailbox(cfg config.Config, logger *slog.Logger) (backend.Mailbox, error) {
	switch cfg.Backend.Kind {
	case config.BackendIMAP:
		if err := config.ValidateIMAP(cfg); err != nil {
			return nil, err
		}
		return imap.New(cfg.IMAP, logger), nil
	case config.BackendHTTP, "":
		if err := config.ValidateHTTP(cfg); err != nil {
			return nil, err
		}
		return backend.NewClient(cfg.Backend.BaseURL, backend.StaticToken(cfg.Account.Token),
			backend.WithLogger(logger),
			backend.WithTimeout(cfg.Backend.Timeout),
			backend.WithClassifyRate(cfg.Backend.ClassifyQPS),
		), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

func openStore(cfg config.Config) (*store.SQLiteStore, error) {
	if cfg.Cache.Path == "" {
		return nil, nil
	}
	if err := config.EnsureDir(filepath.Dir(cfg.Cache.Path)); err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("open classification cache: %w", err)
	}
	return st, nil
}

func openSession(cfg config.Config, logger *slog.Logger, opts sessionOptions) (*session, error) {
	mailbox, err := newMailbox(cfg, logger)
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	engineOpts := []inbox.Option{
		inbox.WithLogger(logger),
		inbox.WithAccount(cfg.Account.Email),
		inbox.WithFilter(inbox.Filter{Mailbox: cfg.Sync.Mailbox}),
		inbox.WithPageSize(cfg.Sync.PageSize),
		inbox.WithBatch(cfg.Sync.BatchSize, cfg.Sync.Stagger),
		inbox.WithPollInterval(cfg.Sync.PollInterval),
		inbox.WithAutoTag(backend.Settings{
			AutoTagEnabled:      cfg.Sync.AutoTag,
			UrgentConfThreshold: cfg.Sync.UrgentConfThreshold,
		}),
	}
	if st != nil {
		engineOpts = append(engineOpts, inbox.WithStore(st))
	}
	if !opts.background {
		engineOpts = append(engineOpts, inbox.WithAfterFunc(heldAfterFunc))
	}

	return &session{
		cfg:    cfg,
		engine: inbox.New(mailbox, engineOpts...),
		store:  st,
		logger: logger,
	}, nil
}

func (s *session) Close() {
	s.engine.Close()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close classification cache", "error", err)
		}
	}
}
