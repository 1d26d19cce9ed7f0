package inbox

import "inboxsync/internal/backend"

// MessageView is one row of derived state for rendering.
type MessageView struct {
	backend.MessageSummary
	Unread         bool                    `json:"unread"`
	Starred        bool                    `json:"starred"`
	Classification *backend.Classification `json:"classification,omitempty"`
	Request        RequestEntry            `json:"classify"`
}

// Snapshot is a consistent copy of the engine state.
type Snapshot struct {
	Account    string           `json:"account"`
	Filter     Filter           `json:"filter"`
	Page       int              `json:"page"`
	HasNext    bool             `json:"has_next"`
	HasPrev    bool             `json:"has_prev"`
	Tokens     []string         `json:"page_tokens"`
	Loading    bool             `json:"loading"`
	Active     bool             `json:"active"`
	Generation uint64           `json:"generation"`
	AutoTag    backend.Settings `json:"auto_tag"`
	Messages   []MessageView    `json:"messages"`
	List       OpStatus         `json:"list_status"`
	Modify     OpStatus         `json:"modify_status"`
	Settings   OpStatus         `json:"settings_status"`
	Error      *ErrorView       `json:"error,omitempty"`
}

// ErrorView is the serialisable form of the last list error.
type ErrorView struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *Engine) Snapshot() Snapshot {
	entries := e.scheduler.Entries()
	autoTag := e.scheduler.Settings()

	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Account:    e.state.Account,
		Filter:     e.state.Filter,
		Page:       e.state.Pages.Page(),
		HasNext:    e.state.Pages.HasNext(),
		HasPrev:    e.state.Pages.HasPrev(),
		Tokens:     e.state.Pages.Tokens(),
		Loading:    e.state.Loading(),
		Active:     e.state.Active,
		Generation: e.state.Generation,
		AutoTag:    autoTag,
		List:       e.state.List,
		Modify:     e.state.Modify,
		Settings:   e.state.Settings,
	}
	if le := e.state.LastErr; le != nil {
		s.Error = &ErrorView{Kind: le.Kind, Message: le.Message, Detail: le.Detail}
	}

	msgs := e.state.Cache.Messages()
	s.Messages = make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := MessageView{
			MessageSummary: m,
			Unread:         m.HasLabel(backend.LabelUnread),
			Starred:        m.HasLabel(backend.LabelStarred),
			Request:        RequestEntry{State: RequestUnclassified},
		}
		if c, ok := e.state.Cache.Classification(m.ID); ok {
			v.Classification = &c
		}
		if entry, ok := entries[m.ID]; ok {
			v.Request = entry
		}
		s.Messages = append(s.Messages, v)
	}
	return s
}
