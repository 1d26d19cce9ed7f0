// Package imap serves the list and modify operations from a plain IMAP
// account. Labels map onto folders and flags: UNREAD is the absence of
// \Seen, STARRED is \Flagged, removing INBOX moves to the archive folder
// and any other label is an IMAP keyword.
package imap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"

	"inboxsync/internal/backend"
	"inboxsync/internal/config"
)

const defaultPageSize = 20

// Mailbox implements backend.Mailbox over IMAP. Each call opens its own
// connection.
type Mailbox struct {
	cfg       config.IMAPConfig
	Connector func(cfg config.IMAPConfig) (Client, error)
	logger    *slog.Logger
}

var _ backend.Mailbox = (*Mailbox)(nil)

func New(cfg config.IMAPConfig, logger *slog.Logger) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ArchiveMailbox == "" {
		cfg.ArchiveMailbox = "Archive"
	}
	return &Mailbox{cfg: cfg, Connector: Connect, logger: logger}
}

func (m *Mailbox) withClient(ctx context.Context, fn func(Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	connector := m.Connector
	if connector == nil {
		connector = Connect
	}
	client, err := connector(m.cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Logout()
	}()
	return fn(client)
}

// listQuery is a list request translated to IMAP terms.
type listQuery struct {
	folder   string
	criteria *imap.SearchCriteria
}

func buildListQuery(req backend.ListRequest) listQuery {
	q := listQuery{folder: "INBOX", criteria: imap.NewSearchCriteria()}
	for _, label := range req.LabelIDs {
		switch strings.ToUpper(label) {
		case backend.LabelUnread:
			q.criteria.WithoutFlags = append(q.criteria.WithoutFlags, imap.SeenFlag)
		case backend.LabelStarred:
			q.criteria.WithFlags = append(q.criteria.WithFlags, imap.FlaggedFlag)
		default:
			q.folder = folderFor(label)
		}
	}
	if text := strings.TrimSpace(req.Query); text != "" {
		q.criteria.Text = []string{text}
	}
	return q
}

// ListMessages returns one page, newest first. The page token is the UID
// below which the next page starts.
func (m *Mailbox) ListMessages(ctx context.Context, req backend.ListRequest) (*backend.ListResponse, error) {
	pageSize := req.MaxResults
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	var before uint32
	if req.PageToken != "" {
		n, err := strconv.ParseUint(req.PageToken, 10, 32)
		if err != nil {
			return nil, &backend.APIError{StatusCode: 400, Path: "imap list", Detail: fmt.Sprintf("invalid page token %q", req.PageToken)}
		}
		before = uint32(n)
	}

	q := buildListQuery(req)
	resp := &backend.ListResponse{AccountEmail: m.cfg.Username}

	err := m.withClient(ctx, func(c Client) error {
		if _, err := c.Select(q.folder, true); err != nil {
			return fmt.Errorf("select %s: %w", q.folder, err)
		}

		uids, err := c.UidSearch(q.criteria)
		if err != nil {
			return fmt.Errorf("search %s: %w", q.folder, err)
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
		if before > 0 {
			idx := sort.Search(len(uids), func(i int) bool { return uids[i] < before })
			uids = uids[idx:]
		}
		if len(uids) == 0 {
			return nil
		}
		page := uids
		if len(page) > pageSize {
			page = uids[:pageSize]
			resp.NextPageToken = strconv.FormatUint(uint64(page[len(page)-1]), 10)
		}

		msgs, err := fetchSummaries(c, q.folder, page)
		if err != nil {
			return err
		}
		if roots := threadRoots(c, q.criteria); roots != nil {
			for i := range msgs {
				_, uid, _ := parseMessageID(msgs[i].ID)
				if root, ok := roots[uid]; ok {
					msgs[i].ThreadID = messageID(q.folder, root)
				}
			}
		}
		resp.Messages = msgs
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Debug("imap list", "folder", q.folder, "count", len(resp.Messages), "next", resp.NextPageToken)
	return resp, nil
}

func fetchSummaries(c Client, folder string, uids []uint32) ([]backend.MessageSummary, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchInternalDate}
	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, ch)
	}()

	byUID := make(map[uint32]backend.MessageSummary, len(uids))
	mailboxLabel := labelFor(folder)
	for msg := range ch {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		env := msg.Envelope
		summary := backend.MessageSummary{
			ID:       messageID(folder, msg.Uid),
			ThreadID: env.MessageId,
			Subject:  env.Subject,
			From:     formatIMAPAddresses(env.From),
			To:       formatIMAPAddresses(env.To),
			Cc:       formatIMAPAddresses(env.Cc),
			Bcc:      formatIMAPAddresses(env.Bcc),
			LabelIDs: append([]string{mailboxLabel}, flagLabels(msg.Flags)...),
		}
		if !env.Date.IsZero() {
			summary.Date = env.Date.Format(time.RFC1123Z)
		}
		if !msg.InternalDate.IsZero() {
			summary.InternalDate = strconv.FormatInt(msg.InternalDate.UnixMilli(), 10)
		}
		byUID[msg.Uid] = summary
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch %s: %w", folder, err)
	}

	out := make([]backend.MessageSummary, 0, len(byUID))
	for _, uid := range uids {
		if s, ok := byUID[uid]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// ModifyLabels applies label changes per folder: flags and keywords first,
// then a move when the message leaves its folder.
func (m *Mailbox) ModifyLabels(ctx context.Context, req backend.ModifyRequest) error {
	byFolder := make(map[string][]uint32)
	var folders []string
	for _, id := range req.MessageIDs {
		folder, uid, err := parseMessageID(id)
		if err != nil {
			return &backend.APIError{StatusCode: 400, Path: "imap modify", Detail: err.Error()}
		}
		if _, ok := byFolder[folder]; !ok {
			folders = append(folders, folder)
		}
		byFolder[folder] = append(byFolder[folder], uid)
	}

	addFlags, removeFlags := flagChanges(req.AddLabelIDs, req.RemoveLabelIDs)

	return m.withClient(ctx, func(c Client) error {
		for _, folder := range folders {
			if _, err := c.Select(folder, false); err != nil {
				return fmt.Errorf("select %s: %w", folder, err)
			}
			seqset := new(imap.SeqSet)
			seqset.AddNum(byFolder[folder]...)

			if len(addFlags) > 0 {
				if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), addFlags); err != nil {
					return fmt.Errorf("store flags: %w", err)
				}
			}
			if len(removeFlags) > 0 {
				if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.RemoveFlags, true), removeFlags); err != nil {
					return fmt.Errorf("clear flags: %w", err)
				}
			}

			dest := m.destination(folder, req.AddLabelIDs, req.RemoveLabelIDs)
			if dest == "" {
				continue
			}
			if err := moveMessages(c, seqset, dest); err != nil {
				return fmt.Errorf("move to %s: %w", dest, err)
			}
			m.logger.Debug("imap move", "from", folder, "to", dest, "count", len(byFolder[folder]))
		}
		return nil
	})
}

// destination returns the folder messages in folder should move to, or ""
// to stay put. Adding a mailbox label moves there; removing the current
// one archives.
func (m *Mailbox) destination(folder string, add, remove []string) string {
	current := labelFor(folder)
	removed := false
	for _, l := range remove {
		if strings.EqualFold(l, current) {
			removed = true
		}
	}
	for _, l := range add {
		if isMailboxLabel(l) && !strings.EqualFold(l, current) && !contains(remove, l) {
			return folderFor(l)
		}
	}
	if removed && !strings.EqualFold(folder, m.cfg.ArchiveMailbox) {
		return m.cfg.ArchiveMailbox
	}
	return ""
}

// flagChanges converts label edits to IMAP flag edits. A label in both
// lists is only removed.
func flagChanges(add, remove []string) (addFlags, removeFlags []interface{}) {
	flagFor := func(label string) (flag string, inverted bool, ok bool) {
		switch strings.ToUpper(label) {
		case backend.LabelUnread:
			return imap.SeenFlag, true, true
		case backend.LabelStarred:
			return imap.FlaggedFlag, false, true
		}
		if isMailboxLabel(label) {
			return "", false, false
		}
		return label, false, true
	}

	for _, l := range add {
		if contains(remove, l) {
			continue
		}
		if flag, inverted, ok := flagFor(l); ok {
			if inverted {
				removeFlags = append(removeFlags, flag)
			} else {
				addFlags = append(addFlags, flag)
			}
		}
	}
	for _, l := range remove {
		if flag, inverted, ok := flagFor(l); ok {
			if inverted {
				addFlags = append(addFlags, flag)
			} else {
				removeFlags = append(removeFlags, flag)
			}
		}
	}
	return addFlags, removeFlags
}

// moveMessages uses MOVE and falls back to COPY + \Deleted + EXPUNGE.
func moveMessages(c Client, seqset *imap.SeqSet, dest string) error {
	if err := c.UidMove(seqset, dest); err == nil {
		return nil
	}
	if err := c.UidCopy(seqset, dest); err != nil {
		return err
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}); err != nil {
		return err
	}
	expunge := make(chan uint32)
	done := make(chan error, 1)
	go func() {
		done <- c.Expunge(expunge)
	}()
	for range expunge {
	}
	return <-done
}

func formatIMAPAddresses(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr == nil {
			continue
		}
		full := addr.MailboxName
		if addr.HostName != "" {
			full = addr.MailboxName + "@" + addr.HostName
		}
		if addr.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", addr.PersonalName, full))
		} else {
			parts = append(parts, full)
		}
	}
	return strings.Join(parts, ", ")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
