package inbox

import (
	"context"
	"errors"
	"fmt"

	"inboxsync/internal/backend"
)

// ModifyLabels applies the label change to the cache first and then sends
// it to the backend. A failed call is reported in the modify status; the
// local change is not reverted and the next fetch reconciles it.
func (e *Engine) ModifyLabels(ctx context.Context, ids, add, remove []string) error {
	if len(ids) == 0 {
		return errors.New("no message ids given")
	}

	e.mu.Lock()
	account := e.state.Account
	if account == "" {
		ierr := Classify(ErrIdentityMissing)
		e.state.Modify = failed(ierr)
		e.mu.Unlock()
		return ierr
	}
	e.state.Cache.ApplyLabelUpdates(ids, add, remove, e.state.Filter)
	e.state.Modify = loading()
	e.mu.Unlock()

	err := e.mailbox.ModifyLabels(ctx, backend.ModifyRequest{
		Email:          account,
		MessageIDs:     ids,
		AddLabelIDs:    add,
		RemoveLabelIDs: remove,
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if account != e.state.Account {
		return nil
	}
	if err != nil {
		ierr := Classify(err)
		e.state.Modify = failed(ierr)
		e.logger.Warn("modify labels failed", "ids", ids, "kind", ierr.Kind, "detail", ierr.Detail)
		return ierr
	}
	e.state.Modify = succeeded(fmt.Sprintf("Updated %d message(s)", len(ids)))
	return nil
}

// Archive removes messages from the inbox.
func (e *Engine) Archive(ctx context.Context, ids ...string) error {
	return e.ModifyLabels(ctx, ids, nil, []string{backend.LabelInbox})
}

func (e *Engine) MarkRead(ctx context.Context, ids ...string) error {
	return e.ModifyLabels(ctx, ids, nil, []string{backend.LabelUnread})
}

func (e *Engine) MarkUnread(ctx context.Context, ids ...string) error {
	return e.ModifyLabels(ctx, ids, []string{backend.LabelUnread}, nil)
}

func (e *Engine) Star(ctx context.Context, ids ...string) error {
	return e.ModifyLabels(ctx, ids, []string{backend.LabelStarred}, nil)
}

func (e *Engine) Unstar(ctx context.Context, ids ...string) error {
	return e.ModifyLabels(ctx, ids, nil, []string{backend.LabelStarred})
}

// Reclassify classifies the given messages now, including ones that were
// already classified or failed. Messages not in the cache are sent with
// their id only.
func (e *Engine) Reclassify(ctx context.Context, force bool, ids ...string) error {
	e.mu.Lock()
	msgs := make([]backend.MessageSummary, 0, len(ids))
	for _, id := range ids {
		m, ok := e.state.Cache.Get(id)
		if !ok {
			m = backend.MessageSummary{ID: id}
		}
		msgs = append(msgs, m)
	}
	e.mu.Unlock()

	return e.scheduler.Reclassify(ctx, force, msgs)
}

// Classification returns the cached classification and request status for
// a message.
func (e *Engine) Classification(id string) (*backend.Classification, RequestEntry) {
	entry, ok := e.scheduler.Entry(id)
	if !ok {
		entry = RequestEntry{State: RequestUnclassified}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.state.Cache.Classification(id); ok {
		return &c, entry
	}
	return nil, entry
}

// SaveSettings stores auto-tag settings on the backend and applies the
// accepted values to the scheduler.
func (e *Engine) SaveSettings(ctx context.Context, s backend.Settings) (backend.Settings, error) {
	if e.settings == nil {
		return backend.Settings{}, ErrNotSupported
	}
	e.mu.Lock()
	account := e.state.Account
	if account == "" {
		ierr := Classify(ErrIdentityMissing)
		e.state.Settings = failed(ierr)
		e.mu.Unlock()
		return backend.Settings{}, ierr
	}
	e.state.Settings = loading()
	e.mu.Unlock()

	saved, err := e.settings.SaveSettings(ctx, account, s)

	e.mu.Lock()
	if err != nil {
		ierr := Classify(err)
		e.state.Settings = failed(ierr)
		e.mu.Unlock()
		return backend.Settings{}, ierr
	}
	e.state.Settings = succeeded("Settings saved")
	e.mu.Unlock()

	e.applySettings(*saved)
	scanned := e.scan()
	e.logger.Info("auto-tag settings saved",
		"enabled", saved.AutoTagEnabled,
		"threshold", saved.UrgentConfThreshold,
		"scheduled", len(scanned))
	return *saved, nil
}

// SetActive records whether the view is visible. Polling only runs while
// it is.
func (e *Engine) SetActive(active bool) {
	e.mu.Lock()
	changed := e.state.Active != active
	e.state.Active = active
	e.mu.Unlock()
	if changed {
		e.restartRefresher()
	}
}

// SwitchAccount clears all account-bound state and points the engine at a
// different account. Nothing is fetched.
func (e *Engine) SwitchAccount(email string) {
	e.mu.Lock()
	e.state.Account = email
	e.resetAccountLocked()
	e.mu.Unlock()

	e.scheduler.Reset(email)
	e.restartRefresher()
	e.logger.Info("switched account", "account", email)
}

// Disconnect forgets the account: cache, ledger and stored
// classifications.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	account := e.state.Account
	e.state.Account = ""
	e.resetAccountLocked()
	e.mu.Unlock()

	e.scheduler.Reset("")
	e.restartRefresher()

	if e.store != nil && account != "" {
		if err := e.store.Clear(ctx, account); err != nil {
			return fmt.Errorf("clear stored classifications: %w", err)
		}
	}
	e.logger.Info("account disconnected", "account", account)
	return nil
}

func (e *Engine) resetAccountLocked() {
	e.state.Generation++
	e.state.Cache.Clear()
	e.state.Pages.Reset()
	e.state.List = idle()
	e.state.Modify = idle()
	e.state.Settings = idle()
	e.state.LastErr = nil
}
