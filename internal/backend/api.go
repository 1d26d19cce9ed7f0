// Package backend is the client side of the inbox backend's JSON API.
package backend

import (
	"context"
	"strings"
)

// MessageLister lists one page of message summaries.
type MessageLister interface {
	ListMessages(ctx context.Context, req ListRequest) (*ListResponse, error)
}

// LabelModifier adds and removes labels on a set of messages.
type LabelModifier interface {
	ModifyLabels(ctx context.Context, req ModifyRequest) error
}

// Classifier computes a Classification for one message.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (*Classification, error)
}

// SettingsSaver persists auto-tag settings and echoes the accepted values.
type SettingsSaver interface {
	SaveSettings(ctx context.Context, email string, settings Settings) (*Settings, error)
}

// Mailbox is the minimum a mail source must provide.
type Mailbox interface {
	MessageLister
	LabelModifier
}

// API is the full backend surface.
type API interface {
	Mailbox
	Classifier
	SettingsSaver
}

// Well-known label ids.
const (
	LabelInbox   = "INBOX"
	LabelUnread  = "UNREAD"
	LabelStarred = "STARRED"
	LabelSent    = "SENT"
	LabelSpam    = "SPAM"
	LabelTrash   = "TRASH"
)

// MessageSummary is one header-level record from the list endpoint.
type MessageSummary struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId,omitempty"`
	Subject      string   `json:"subject,omitempty"`
	Snippet      string   `json:"snippet,omitempty"`
	From         string   `json:"from,omitempty"`
	To           string   `json:"to,omitempty"`
	Cc           string   `json:"cc,omitempty"`
	Bcc          string   `json:"bcc,omitempty"`
	Date         string   `json:"date,omitempty"`
	InternalDate string   `json:"internalDate,omitempty"`
	LabelIDs     []string `json:"labelIds"`
}

// HasLabel reports whether id is among the message's labels.
func (m MessageSummary) HasLabel(id string) bool {
	for _, l := range m.LabelIDs {
		if l == id {
			return true
		}
	}
	return false
}

// Clone returns a copy whose label slice is not shared.
func (m MessageSummary) Clone() MessageSummary {
	out := m
	out.LabelIDs = append([]string(nil), m.LabelIDs...)
	return out
}

type PriorityLabel string

const (
	PriorityUrgent PriorityLabel = "urgent"
	PriorityHigh   PriorityLabel = "high"
	PriorityNormal PriorityLabel = "normal"
	PriorityLow    PriorityLabel = "low"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Tags is the classification vocabulary. Anything else is dropped.
var Tags = []string{
	"urgent",
	"action_required",
	"meeting",
	"invoice",
	"receipt",
	"newsletter",
	"promotion",
	"personal",
	"support",
	"sales",
	"notification",
	"spam",
}

// Classification is the AI-derived annotation of a message.
type Classification struct {
	Tags           []string      `json:"tags"`
	PriorityScore  float64       `json:"priorityScore"`
	PriorityLabel  PriorityLabel `json:"priorityLabel"`
	Sentiment      Sentiment     `json:"sentiment"`
	Confidence     float64       `json:"confidence"`
	ReasoningShort string        `json:"reasoningShort,omitempty"`
}

// Normalize restricts tags to the vocabulary, clamps numeric ranges and
// replaces unknown enum values with neutral defaults.
func (c Classification) Normalize() Classification {
	known := make(map[string]bool, len(Tags))
	for _, t := range Tags {
		known[t] = true
	}
	seen := make(map[string]bool, len(c.Tags))
	tags := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if !known[t] || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	c.Tags = tags

	c.PriorityScore = clamp(c.PriorityScore, 0, 100)
	c.Confidence = clamp(c.Confidence, 0, 1)

	switch PriorityLabel(strings.ToLower(string(c.PriorityLabel))) {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		c.PriorityLabel = PriorityLabel(strings.ToLower(string(c.PriorityLabel)))
	default:
		c.PriorityLabel = PriorityNormal
	}
	switch Sentiment(strings.ToLower(string(c.Sentiment))) {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		c.Sentiment = Sentiment(strings.ToLower(string(c.Sentiment)))
	default:
		c.Sentiment = SentimentNeutral
	}
	return c
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Settings are the account's auto-tag preferences.
type Settings struct {
	AutoTagEnabled      bool    `json:"auto_tag_enabled"`
	UrgentConfThreshold float64 `json:"urgent_conf_threshold"`
}

type ListRequest struct {
	Email      string   `json:"email"`
	MaxResults int      `json:"max_results"`
	Query      string   `json:"q,omitempty"`
	LabelIDs   []string `json:"label_ids,omitempty"`
	PageToken  string   `json:"page_token,omitempty"`
}

type ListResponse struct {
	Messages        []MessageSummary          `json:"messages"`
	Classifications map[string]Classification `json:"classifications,omitempty"`
	NextPageToken   string                    `json:"nextPageToken,omitempty"`
	AccountEmail    string                    `json:"account_email,omitempty"`
	Settings        *Settings                 `json:"settings,omitempty"`
}

type ModifyRequest struct {
	Email          string   `json:"email"`
	MessageIDs     []string `json:"message_ids"`
	AddLabelIDs    []string `json:"add_label_ids"`
	RemoveLabelIDs []string `json:"remove_label_ids"`
}

// ClassifyHeaders carries the header fields the classifier looks at.
type ClassifyHeaders struct {
	Subject string `json:"subject,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Cc      string `json:"cc,omitempty"`
	Date    string `json:"date,omitempty"`
}

type ClassifyRequest struct {
	Email               string          `json:"email"`
	MessageID           string          `json:"message_id"`
	ThreadID            string          `json:"threadId,omitempty"`
	Headers             ClassifyHeaders `json:"headers"`
	Snippet             string          `json:"snippet,omitempty"`
	Body                string          `json:"body,omitempty"`
	UrgentConfThreshold float64         `json:"urgent_conf_threshold"`
	Force               bool            `json:"force,omitempty"`
}

type saveSettingsRequest struct {
	Email string `json:"email"`
	Settings
}
