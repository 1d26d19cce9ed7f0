package backend

import (
	"context"
	"fmt"
	"sync"
)

// MockAPI is an in-memory API for tests.
type MockAPI struct {
	mu sync.Mutex

	// Pages maps a page token ("" for the first page) to its response.
	Pages map[string]*ListResponse

	// Labels keeps server-side label state per message id; ModifyLabels
	// applies to it.
	Labels map[string][]string

	// ClassifyFunc computes classifications. Nil returns a neutral result.
	ClassifyFunc func(req ClassifyRequest) (*Classification, error)

	// BeforeList, if set, runs before ListMessages answers. Tests use it
	// to block or reorder completions.
	BeforeList func(req ListRequest)

	// Error injection
	ListErr     error
	ModifyErr   error
	SettingsErr error

	// Call tracking
	ListCalls     []ListRequest
	ModifyCalls   []ModifyRequest
	ClassifyCalls []ClassifyRequest
	SettingsCalls []Settings
}

var _ API = (*MockAPI)(nil)

func NewMockAPI() *MockAPI {
	return &MockAPI{
		Pages:  make(map[string]*ListResponse),
		Labels: make(map[string][]string),
	}
}

// SetPage registers the response for a page token.
func (m *MockAPI) SetPage(token string, resp *ListResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pages[token] = resp
}

func (m *MockAPI) ListMessages(ctx context.Context, req ListRequest) (*ListResponse, error) {
	m.mu.Lock()
	m.ListCalls = append(m.ListCalls, req)
	hook := m.BeforeList
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	page, ok := m.Pages[req.PageToken]
	if !ok {
		return nil, &APIError{StatusCode: 400, Path: pathList, Detail: fmt.Sprintf("invalid page token %q", req.PageToken)}
	}
	out := *page
	out.Messages = make([]MessageSummary, len(page.Messages))
	for i, msg := range page.Messages {
		out.Messages[i] = msg.Clone()
	}
	return &out, nil
}

func (m *MockAPI) ModifyLabels(ctx context.Context, req ModifyRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModifyCalls = append(m.ModifyCalls, req)
	if m.ModifyErr != nil {
		return m.ModifyErr
	}
	for _, id := range req.MessageIDs {
		labels := m.Labels[id]
		for _, add := range req.AddLabelIDs {
			if !contains(labels, add) {
				labels = append(labels, add)
			}
		}
		kept := labels[:0]
		for _, l := range labels {
			if !contains(req.RemoveLabelIDs, l) {
				kept = append(kept, l)
			}
		}
		m.Labels[id] = kept
	}
	return nil
}

func (m *MockAPI) Classify(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	m.mu.Lock()
	m.ClassifyCalls = append(m.ClassifyCalls, req)
	fn := m.ClassifyFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return &Classification{
		PriorityLabel: PriorityNormal,
		Sentiment:     SentimentNeutral,
		Confidence:    0.5,
		PriorityScore: 50,
	}, nil
}

func (m *MockAPI) SaveSettings(ctx context.Context, email string, settings Settings) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SettingsCalls = append(m.SettingsCalls, settings)
	if m.SettingsErr != nil {
		return nil, m.SettingsErr
	}
	echo := settings
	return &echo, nil
}

// ListCallCount returns the number of ListMessages calls so far.
func (m *MockAPI) ListCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ListCalls)
}

// ClassifyCallIDs returns the message ids passed to Classify, in order.
func (m *MockAPI) ClassifyCallIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.ClassifyCalls))
	for i, c := range m.ClassifyCalls {
		ids[i] = c.MessageID
	}
	return ids
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
