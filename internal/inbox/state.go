package inbox

import "strings"

// MailboxAll selects every message regardless of location.
const MailboxAll = "ALL"

// Filter is the active view: a mailbox label, the unread toggle and a
// free-text query.
type Filter struct {
	Mailbox    string `json:"mailbox"`
	UnreadOnly bool   `json:"unread_only"`
	Query      string `json:"query,omitempty"`
}

// AllMail reports whether the view spans every mailbox.
func (f Filter) AllMail() bool {
	return f.Mailbox == "" || strings.EqualFold(f.Mailbox, MailboxAll)
}

// LabelIDs returns the label restriction sent with a list request.
func (f Filter) LabelIDs() []string {
	var ids []string
	if !f.AllMail() {
		ids = append(ids, f.Mailbox)
	}
	if f.UnreadOnly {
		ids = append(ids, "UNREAD")
	}
	return ids
}

// Status is the lifecycle of one async operation.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// OpStatus pairs a Status with the message shown next to its trigger.
type OpStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
}

func idle() OpStatus {
	return OpStatus{Status: StatusIdle}
}

func loading() OpStatus {
	return OpStatus{Status: StatusLoading}
}

func succeeded(msg string) OpStatus {
	return OpStatus{Status: StatusSuccess, Message: msg}
}

func failed(e *Error) OpStatus {
	return OpStatus{Status: StatusError, Message: e.Message, Kind: e.Kind}
}

// State is everything the engine mutates, guarded by Engine.mu.
type State struct {
	Account string
	Filter  Filter
	// Generation increments on every filter or account change. A fetch
	// that completes under an older generation is discarded.
	Generation uint64
	Pages      PageStore
	Cache      Cache
	Active     bool

	inflight int

	List     OpStatus
	Modify   OpStatus
	Settings OpStatus
	LastErr  *Error
}

func newState(account string, filter Filter) State {
	return State{
		Account:  account,
		Filter:   filter,
		Pages:    NewPageStore(),
		Cache:    NewCache(),
		Active:   true,
		List:     idle(),
		Modify:   idle(),
		Settings: idle(),
	}
}

// Loading reports whether a list fetch is in flight.
func (s *State) Loading() bool {
	return s.inflight > 0
}
