package inbox

import (
	"errors"
	"fmt"
)

// RequestState is where a message stands in background classification.
type RequestState string

const (
	RequestUnclassified RequestState = "unclassified"
	RequestScheduled    RequestState = "scheduled"
	RequestInFlight     RequestState = "inflight"
	RequestDone         RequestState = "done"
	RequestError        RequestState = "error"
	RequestRateLimited  RequestState = "rate_limited"
)

// ErrIllegalTransition is returned when a ledger move is not allowed from
// the current state.
var ErrIllegalTransition = errors.New("illegal classification state transition")

// RequestEntry is the ledger record for one message.
type RequestEntry struct {
	State   RequestState `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Ledger tracks classification requests per message id. Any id it has an
// entry for is "seen" and never auto-scheduled again; only Force moves a
// finished entry back in flight. It is not safe for concurrent use.
type Ledger struct {
	entries map[string]RequestEntry
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]RequestEntry)}
}

// State returns the current state, RequestUnclassified for unknown ids.
func (l *Ledger) State(id string) RequestState {
	if e, ok := l.entries[id]; ok {
		return e.State
	}
	return RequestUnclassified
}

func (l *Ledger) Entry(id string) (RequestEntry, bool) {
	e, ok := l.entries[id]
	return e, ok
}

// Seen reports whether id has ever been scheduled or requested.
func (l *Ledger) Seen(id string) bool {
	_, ok := l.entries[id]
	return ok
}

// Schedule moves unclassified → scheduled.
func (l *Ledger) Schedule(id string) error {
	return l.move(id, RequestScheduled, "", RequestUnclassified)
}

// Start moves scheduled → inflight.
func (l *Ledger) Start(id string) error {
	return l.move(id, RequestInFlight, "", RequestScheduled)
}

// Force moves a message that is not pending back in flight for a manual
// reclassify.
func (l *Ledger) Force(id string) error {
	return l.move(id, RequestInFlight, "", RequestUnclassified, RequestDone, RequestError, RequestRateLimited)
}

// Finish moves inflight → done, error or rate_limited.
func (l *Ledger) Finish(id string, to RequestState, msg string) error {
	switch to {
	case RequestDone, RequestError, RequestRateLimited:
	default:
		return fmt.Errorf("%w: %s cannot finish as %s", ErrIllegalTransition, id, to)
	}
	return l.move(id, to, msg, RequestInFlight)
}

// Reset forgets every entry.
func (l *Ledger) Reset() {
	l.entries = make(map[string]RequestEntry)
}

// Entries returns a copy of every entry.
func (l *Ledger) Entries() map[string]RequestEntry {
	out := make(map[string]RequestEntry, len(l.entries))
	for id, e := range l.entries {
		out[id] = e
	}
	return out
}

func (l *Ledger) move(id string, to RequestState, msg string, from ...RequestState) error {
	cur := l.State(id)
	for _, f := range from {
		if cur == f {
			l.entries[id] = RequestEntry{State: to, Message: msg}
			return nil
		}
	}
	return fmt.Errorf("%w: %s is %s, cannot become %s", ErrIllegalTransition, id, cur, to)
}
