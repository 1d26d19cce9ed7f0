package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/google/go-cmp/cmp"

	"inboxsync/internal/backend"
	"inboxsync/internal/config"
)

type storeCall struct {
	folder string
	op     imap.StoreItem
	uids   []uint32
	flags  []interface{}
}

type mockClient struct {
	folders  map[string]map[uint32]*imap.Message
	selected string
	moveErr  error

	loggedOut bool
	searches  []*imap.SearchCriteria
	stores    []storeCall
	moves     []string
	copies    []string
	expunged  bool
}

func newMockClient() *mockClient {
	return &mockClient{folders: make(map[string]map[uint32]*imap.Message)}
}

func (m *mockClient) add(folder string, uid uint32, subject string, flags ...string) {
	if m.folders[folder] == nil {
		m.folders[folder] = make(map[uint32]*imap.Message)
	}
	m.folders[folder][uid] = &imap.Message{
		Uid:          uid,
		Flags:        flags,
		InternalDate: time.UnixMilli(1700000000000 + int64(uid)),
		Envelope: &imap.Envelope{
			Subject:   subject,
			MessageId: subject + "@example.com",
			Date:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			From:      []*imap.Address{{PersonalName: "Ann", MailboxName: "ann", HostName: "example.com"}},
			To:        []*imap.Address{{MailboxName: "me", HostName: "example.com"}},
		},
	}
}

func (m *mockClient) Login(username, password string) error { return nil }
func (m *mockClient) Logout() error {
	m.loggedOut = true
	return nil
}
func (m *mockClient) StartTLS(config *tls.Config) error { return nil }
func (m *mockClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	if _, ok := m.folders[name]; !ok {
		return nil, errors.New("no such mailbox")
	}
	m.selected = name
	return &imap.MailboxStatus{Name: name}, nil
}

func (m *mockClient) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	m.searches = append(m.searches, criteria)
	var uids []uint32
	for uid, msg := range m.folders[m.selected] {
		if hasAll(msg.Flags, criteria.WithFlags) && hasNone(msg.Flags, criteria.WithoutFlags) {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (m *mockClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	for uid, msg := range m.folders[m.selected] {
		if seqset.Contains(uid) {
			ch <- msg
		}
	}
	return nil
}

func (m *mockClient) UidStore(seqset *imap.SeqSet, item imap.StoreItem, flags []interface{}) error {
	call := storeCall{folder: m.selected, op: item, flags: flags}
	for uid := range m.folders[m.selected] {
		if seqset.Contains(uid) {
			call.uids = append(call.uids, uid)
		}
	}
	m.stores = append(m.stores, call)
	return nil
}

func (m *mockClient) UidMove(seqset *imap.SeqSet, mailbox string) error {
	if m.moveErr != nil {
		return m.moveErr
	}
	m.moves = append(m.moves, mailbox)
	return nil
}

func (m *mockClient) UidCopy(seqset *imap.SeqSet, mailbox string) error {
	m.copies = append(m.copies, mailbox)
	return nil
}

func (m *mockClient) Expunge(ch chan uint32) error {
	m.expunged = true
	if ch != nil {
		close(ch)
	}
	return nil
}

func hasAll(flags, want []string) bool {
	for _, w := range want {
		if !hasNone(flags, []string{w}) {
			continue
		}
		return false
	}
	return true
}

func hasNone(flags, unwanted []string) bool {
	for _, f := range flags {
		for _, u := range unwanted {
			if f == u {
				return false
			}
		}
	}
	return true
}

func newTestMailbox(client Client) *Mailbox {
	mb := New(config.IMAPConfig{Username: "me@example.com"},
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	mb.Connector = func(cfg config.IMAPConfig) (Client, error) {
		return client, nil
	}
	return mb
}

func TestListMessagesPaginatesNewestFirst(t *testing.T) {
	mock := newMockClient()
	for uid := uint32(1); uid <= 5; uid++ {
		mock.add("INBOX", uid, "s", imap.SeenFlag)
	}
	mb := newTestMailbox(mock)
	ctx := context.Background()

	var got [][]string
	token := ""
	for i := 0; i < 3; i++ {
		resp, err := mb.ListMessages(ctx, backend.ListRequest{MaxResults: 2, LabelIDs: []string{"INBOX"}, PageToken: token})
		if err != nil {
			t.Fatalf("page %d: %v", i+1, err)
		}
		var ids []string
		for _, m := range resp.Messages {
			ids = append(ids, m.ID)
		}
		got = append(got, ids)
		token = resp.NextPageToken
	}

	want := [][]string{{"INBOX:5", "INBOX:4"}, {"INBOX:3", "INBOX:2"}, {"INBOX:1"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("pages (-want +got):\n%s", diff)
	}
	if token != "" {
		t.Fatalf("last page token = %q, want empty", token)
	}
	if !mock.loggedOut {
		t.Fatal("expected logout to be called")
	}
}

func TestListMessagesMapsFields(t *testing.T) {
	mock := newMockClient()
	mock.add("INBOX", 7, "Hello", imap.FlaggedFlag, "Work")
	mb := newTestMailbox(mock)

	resp, err := mb.ListMessages(context.Background(), backend.ListRequest{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	want := backend.MessageSummary{
		ID:           "INBOX:7",
		ThreadID:     "Hello@example.com",
		Subject:      "Hello",
		From:         "Ann <ann@example.com>",
		To:           "me@example.com",
		Date:         "Fri, 02 Jan 2026 03:04:05 +0000",
		InternalDate: "1700000000007",
		LabelIDs:     []string{"INBOX", "STARRED", "Work", "UNREAD"},
	}
	if diff := cmp.Diff(want, resp.Messages[0]); diff != "" {
		t.Fatalf("summary (-want +got):\n%s", diff)
	}
	if resp.AccountEmail != "me@example.com" {
		t.Fatalf("account email = %q", resp.AccountEmail)
	}
}

func TestListMessagesUnreadFilter(t *testing.T) {
	mock := newMockClient()
	mock.add("INBOX", 1, "read", imap.SeenFlag)
	mock.add("INBOX", 2, "unread")
	mb := newTestMailbox(mock)

	resp, err := mb.ListMessages(context.Background(), backend.ListRequest{LabelIDs: []string{"INBOX", "UNREAD"}})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].ID != "INBOX:2" {
		t.Fatalf("messages = %+v", resp.Messages)
	}
}

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name       string
		req        backend.ListRequest
		wantFolder string
		wantText   []string
	}{
		{name: "default inbox", req: backend.ListRequest{}, wantFolder: "INBOX"},
		{name: "sent", req: backend.ListRequest{LabelIDs: []string{"SENT"}}, wantFolder: "Sent"},
		{name: "spam", req: backend.ListRequest{LabelIDs: []string{"SPAM", "UNREAD"}}, wantFolder: "Junk"},
		{name: "custom folder", req: backend.ListRequest{LabelIDs: []string{"Receipts"}}, wantFolder: "Receipts"},
		{name: "query", req: backend.ListRequest{Query: " invoice "}, wantFolder: "INBOX", wantText: []string{"invoice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := buildListQuery(tt.req)
			if q.folder != tt.wantFolder {
				t.Errorf("folder = %q, want %q", q.folder, tt.wantFolder)
			}
			if diff := cmp.Diff(tt.wantText, q.criteria.Text); diff != "" {
				t.Errorf("text (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListMessagesRejectsBadToken(t *testing.T) {
	mb := newTestMailbox(newMockClient())
	_, err := mb.ListMessages(context.Background(), backend.ListRequest{PageToken: "abc"})
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
}

func TestModifyArchiveAndMarkRead(t *testing.T) {
	mock := newMockClient()
	mock.add("INBOX", 3, "a")
	mock.add("INBOX", 4, "b")
	mb := newTestMailbox(mock)

	err := mb.ModifyLabels(context.Background(), backend.ModifyRequest{
		MessageIDs:     []string{"INBOX:3", "INBOX:4"},
		RemoveLabelIDs: []string{"INBOX", "UNREAD"},
	})
	if err != nil {
		t.Fatalf("ModifyLabels: %v", err)
	}
	if len(mock.stores) != 1 {
		t.Fatalf("stores = %+v", mock.stores)
	}
	if mock.stores[0].op != imap.FormatFlagsOp(imap.AddFlags, true) {
		t.Fatalf("op = %v", mock.stores[0].op)
	}
	if diff := cmp.Diff([]interface{}{imap.SeenFlag}, mock.stores[0].flags); diff != "" {
		t.Fatalf("flags (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Archive"}, mock.moves); diff != "" {
		t.Fatalf("moves (-want +got):\n%s", diff)
	}
}

func TestModifyStarAndKeywords(t *testing.T) {
	mock := newMockClient()
	mock.add("INBOX", 3, "a", imap.SeenFlag)
	mb := newTestMailbox(mock)

	err := mb.ModifyLabels(context.Background(), backend.ModifyRequest{
		MessageIDs:     []string{"INBOX:3"},
		AddLabelIDs:    []string{"STARRED", "UNREAD", "Work"},
		RemoveLabelIDs: []string{"Later"},
	})
	if err != nil {
		t.Fatalf("ModifyLabels: %v", err)
	}
	want := []storeCall{
		{folder: "INBOX", op: imap.FormatFlagsOp(imap.AddFlags, true), uids: []uint32{3}, flags: []interface{}{imap.FlaggedFlag, "Work"}},
		{folder: "INBOX", op: imap.FormatFlagsOp(imap.RemoveFlags, true), uids: []uint32{3}, flags: []interface{}{imap.SeenFlag, "Later"}},
	}
	if diff := cmp.Diff(want, mock.stores, cmp.AllowUnexported(storeCall{})); diff != "" {
		t.Fatalf("stores (-want +got):\n%s", diff)
	}
	if len(mock.moves) != 0 {
		t.Fatalf("unexpected moves %v", mock.moves)
	}
}

func TestModifyMoveFallsBackToCopy(t *testing.T) {
	mock := newMockClient()
	mock.add("INBOX", 3, "a")
	mock.moveErr = errors.New("MOVE not supported")
	mb := newTestMailbox(mock)

	err := mb.ModifyLabels(context.Background(), backend.ModifyRequest{
		MessageIDs:  []string{"INBOX:3"},
		AddLabelIDs: []string{"TRASH"},
	})
	if err != nil {
		t.Fatalf("ModifyLabels: %v", err)
	}
	if diff := cmp.Diff([]string{"Trash"}, mock.copies); diff != "" {
		t.Fatalf("copies (-want +got):\n%s", diff)
	}
	if !mock.expunged {
		t.Fatal("expected expunge after copy")
	}
}

func TestModifyRejectsBadID(t *testing.T) {
	mb := newTestMailbox(newMockClient())
	err := mb.ModifyLabels(context.Background(), backend.ModifyRequest{MessageIDs: []string{"nope"}})
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
}

func TestDestination(t *testing.T) {
	mb := New(config.IMAPConfig{ArchiveMailbox: "Archive"}, nil)
	tests := []struct {
		folder string
		add    []string
		remove []string
		want   string
	}{
		{folder: "INBOX", remove: []string{"INBOX"}, want: "Archive"},
		{folder: "Archive", add: []string{"INBOX"}, want: "INBOX"},
		{folder: "INBOX", add: []string{"SPAM"}, remove: []string{"INBOX"}, want: "Junk"},
		{folder: "INBOX", add: []string{"STARRED"}, want: ""},
		{folder: "Archive", remove: []string{"Archive"}, want: ""},
		{folder: "INBOX", add: []string{"TRASH"}, remove: []string{"TRASH"}, want: ""},
	}
	for _, tt := range tests {
		if got := mb.destination(tt.folder, tt.add, tt.remove); got != tt.want {
			t.Errorf("destination(%s, +%v, -%v) = %q, want %q", tt.folder, tt.add, tt.remove, got, tt.want)
		}
	}
}

func TestMessageIDRoundTrip(t *testing.T) {
	folder, uid, err := parseMessageID(messageID("Lists:dev", 42))
	if err != nil || folder != "Lists:dev" || uid != 42 {
		t.Fatalf("parsed %q %d %v", folder, uid, err)
	}
	for _, bad := range []string{"", "INBOX", "INBOX:", ":5", "INBOX:0", "INBOX:x"} {
		if _, _, err := parseMessageID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestCanceledContextSkipsConnect(t *testing.T) {
	mb := newTestMailbox(newMockClient())
	mb.Connector = func(cfg config.IMAPConfig) (Client, error) {
		t.Fatal("connector should not be called")
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mb.ListMessages(ctx, backend.ListRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
