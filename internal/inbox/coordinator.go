package inbox

import (
	"context"
	"fmt"

	"inboxsync/internal/backend"
	"inboxsync/internal/mailtext"
)

// LoadOptions controls one list fetch. Nil pointers mean "keep current".
type LoadOptions struct {
	Page        int
	Query       *string
	UnreadOnly  *bool
	Mailbox     *string
	ResetTokens bool
	// Append concatenates the page to the cache instead of replacing it.
	Append bool
}

// LoadResult describes what a fetch did.
type LoadResult struct {
	Page          int    `json:"page"`
	Count         int    `json:"count"`
	NextPageToken string `json:"next_page_token,omitempty"`
	// Skipped is set when the page has no known cursor; nothing was fetched.
	Skipped bool `json:"skipped,omitempty"`
	// Stale is set when the filter or account changed while the request was
	// in flight; the response was dropped.
	Stale bool `json:"stale,omitempty"`
	// Scheduled lists ids queued for background classification.
	Scheduled []string `json:"scheduled,omitempty"`
}

type loadRequest struct {
	generation uint64
	account    string
	filter     Filter
	page       int
	token      string
	append     bool
}

// LoadMessages fetches one page and reconciles it into the page store and
// cache. Failures are recorded in the list status and returned as *Error.
// Asking for a page whose cursor is unknown is a silent no-op.
func (e *Engine) LoadMessages(ctx context.Context, opts LoadOptions) (LoadResult, error) {
	req, filterChanged, err := e.beginLoad(opts)
	defer e.endLoad()
	if filterChanged {
		e.restartRefresher()
	}
	if err != nil {
		return LoadResult{}, err
	}
	if req == nil {
		return LoadResult{Page: opts.Page, Skipped: true}, nil
	}

	resp, err := e.fetch(ctx, *req)
	if err != nil {
		if ctx.Err() != nil {
			// the caller gave up; the list status belongs to whoever is left
			return LoadResult{Page: req.page}, ctx.Err()
		}
		return e.failLoad(*req, err)
	}
	return e.commitLoad(ctx, *req, resp)
}

func (e *Engine) beginLoad(opts LoadOptions) (*loadRequest, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.inflight++

	filter := e.state.Filter
	if opts.Mailbox != nil {
		filter.Mailbox = *opts.Mailbox
	}
	if opts.UnreadOnly != nil {
		filter.UnreadOnly = *opts.UnreadOnly
	}
	if opts.Query != nil {
		filter.Query = *opts.Query
	}
	changed := filter != e.state.Filter
	if changed {
		e.state.Filter = filter
		e.state.Generation++
		e.state.Pages.Reset()
	}
	if opts.ResetTokens {
		e.state.Pages.Reset()
	}

	if e.state.Account == "" {
		ierr := Classify(ErrIdentityMissing)
		e.state.List = failed(ierr)
		e.state.LastErr = ierr
		return nil, changed, ierr
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	token, ok := e.state.Pages.TokenFor(page)
	if !ok {
		e.logger.Debug("no cursor for page, skipping", "page", page)
		return nil, changed, nil
	}

	e.state.List = loading()
	return &loadRequest{
		generation: e.state.Generation,
		account:    e.state.Account,
		filter:     filter,
		page:       page,
		token:      token,
		append:     opts.Append,
	}, changed, nil
}

func (e *Engine) endLoad() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.inflight--
	if e.state.inflight == 0 && e.state.List.Status == StatusLoading {
		// reached only when every completion was stale
		e.state.List = idle()
	}
}

// fetch issues the list call. Identical concurrent queries share one
// request, and a caller whose ctx ends stops waiting without cancelling it.
func (e *Engine) fetch(ctx context.Context, req loadRequest) (*backend.ListResponse, error) {
	listReq := backend.ListRequest{
		Email:      req.account,
		MaxResults: e.pageSize,
		Query:      req.filter.Query,
		LabelIDs:   req.filter.LabelIDs(),
		PageToken:  req.token,
	}
	key := fmt.Sprintf("%s|%s|%t|%s|%s|%d", req.account, req.filter.Mailbox, req.filter.UnreadOnly, req.filter.Query, req.token, e.pageSize)

	ch := e.flight.DoChan(key, func() (any, error) {
		// the shared call outlives any one caller and stops only with the engine
		callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(e.ctx, cancel)
		defer stop()
		return e.mailbox.ListMessages(callCtx, listReq)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			e.logger.Debug("list request shared", "page", req.page)
		}
		return res.Val.(*backend.ListResponse), nil
	}
}

func (e *Engine) failLoad(req loadRequest, err error) (LoadResult, error) {
	ierr := Classify(err)

	e.mu.Lock()
	defer e.mu.Unlock()
	if req.generation != e.state.Generation || req.account != e.state.Account {
		e.logger.Debug("dropping stale list failure", "page", req.page, "error", err)
		return LoadResult{Page: req.page, Stale: true}, nil
	}
	e.state.List = failed(ierr)
	e.state.LastErr = ierr
	if ierr.ClearsCache() {
		e.state.Cache.Clear()
	}
	e.logger.Warn("list messages failed", "kind", ierr.Kind, "detail", ierr.Detail)
	return LoadResult{Page: req.page}, ierr
}

func (e *Engine) commitLoad(ctx context.Context, req loadRequest, resp *backend.ListResponse) (LoadResult, error) {
	msgs := decodeMessages(resp.Messages)

	e.mu.Lock()
	if req.generation != e.state.Generation || req.account != e.state.Account {
		e.mu.Unlock()
		e.logger.Debug("dropping stale list response", "page", req.page)
		return LoadResult{Page: req.page, Stale: true}, nil
	}
	if req.append {
		e.state.Cache.Append(msgs)
	} else {
		e.state.Cache.Replace(msgs)
	}
	e.state.Cache.MergeClassifications(resp.Classifications)
	e.state.Pages.Record(req.page, req.token, resp.NextPageToken)
	e.state.List = succeeded("")
	e.state.LastErr = nil
	var missing []string
	for _, m := range e.state.Cache.Unclassified() {
		missing = append(missing, m.ID)
	}
	e.mu.Unlock()

	if resp.AccountEmail != "" && resp.AccountEmail != req.account {
		e.logger.Debug("backend reports a different account email", "configured", req.account, "reported", resp.AccountEmail)
	}
	if resp.Settings != nil {
		e.applySettings(*resp.Settings)
	}
	e.hydrate(ctx, req.account, missing)

	return LoadResult{
		Page:          req.page,
		Count:         len(msgs),
		NextPageToken: resp.NextPageToken,
		Scheduled:     e.scan(),
	}, nil
}

// hydrate fills the classification map from the persistent store.
func (e *Engine) hydrate(ctx context.Context, account string, ids []string) {
	if e.store == nil || len(ids) == 0 {
		return
	}
	found, err := e.store.Load(ctx, account, ids)
	if err != nil {
		e.logger.Warn("load stored classifications", "error", err)
		return
	}
	if len(found) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if account != e.state.Account {
		return
	}
	for id, c := range found {
		if _, ok := e.state.Cache.Classification(id); !ok {
			e.state.Cache.SetClassification(id, c)
		}
	}
}

func (e *Engine) applySettings(s backend.Settings) {
	if e.scheduler.SetSettings(s) {
		e.restartRefresher()
	}
}

func decodeMessages(in []backend.MessageSummary) []backend.MessageSummary {
	out := make([]backend.MessageSummary, len(in))
	for i, m := range in {
		m = m.Clone()
		m.Subject = mailtext.DecodeHeader(m.Subject)
		m.Snippet = mailtext.DecodeHeader(m.Snippet)
		m.From = mailtext.DecodeHeader(m.From)
		m.To = mailtext.DecodeHeader(m.To)
		m.Cc = mailtext.DecodeHeader(m.Cc)
		m.Bcc = mailtext.DecodeHeader(m.Bcc)
		out[i] = m
	}
	return out
}

// Reload fetches the current page again with the current filter.
func (e *Engine) Reload(ctx context.Context) (LoadResult, error) {
	return e.LoadMessages(ctx, LoadOptions{Page: e.currentPage()})
}

// SetMailbox switches the view to a mailbox and loads its first page.
func (e *Engine) SetMailbox(ctx context.Context, mailbox string) (LoadResult, error) {
	return e.LoadMessages(ctx, LoadOptions{Page: 1, Mailbox: &mailbox, ResetTokens: true})
}

func (e *Engine) SetUnreadOnly(ctx context.Context, unreadOnly bool) (LoadResult, error) {
	return e.LoadMessages(ctx, LoadOptions{Page: 1, UnreadOnly: &unreadOnly, ResetTokens: true})
}

// Search replaces the query and loads its first page.
func (e *Engine) Search(ctx context.Context, query string) (LoadResult, error) {
	return e.LoadMessages(ctx, LoadOptions{Page: 1, Query: &query, ResetTokens: true})
}

func (e *Engine) NextPage(ctx context.Context) (LoadResult, error) {
	return e.LoadMessages(ctx, LoadOptions{Page: e.currentPage() + 1})
}

func (e *Engine) PrevPage(ctx context.Context) (LoadResult, error) {
	page := e.currentPage() - 1
	if page < 1 {
		page = 1
	}
	return e.LoadMessages(ctx, LoadOptions{Page: page})
}

// LoadMore appends the next page to the cache.
func (e *Engine) LoadMore(ctx context.Context) (LoadResult, error) {
	return e.LoadMessages(ctx, LoadOptions{Page: e.currentPage() + 1, Append: true})
}

func (e *Engine) currentPage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Pages.Page()
}
