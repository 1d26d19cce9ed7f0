package imap

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"

	"inboxsync/internal/backend"
)

// Client is the subset of the go-imap client the adapter uses.
type Client interface {
	Login(username, password string) error
	Logout() error
	StartTLS(config *tls.Config) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, flags []interface{}) error
	UidMove(seqset *imap.SeqSet, mailbox string) error
	UidCopy(seqset *imap.SeqSet, mailbox string) error
	Expunge(ch chan uint32) error
}

// systemMailboxes maps mailbox-like labels to IMAP folder names.
var systemMailboxes = map[string]string{
	backend.LabelInbox: "INBOX",
	backend.LabelSent:  "Sent",
	backend.LabelSpam:  "Junk",
	backend.LabelTrash: "Trash",
}

// folderFor resolves a label to the folder it names. Labels that are not
// well known are taken as folder names.
func folderFor(label string) string {
	if folder, ok := systemMailboxes[strings.ToUpper(label)]; ok {
		return folder
	}
	return label
}

// labelFor is the inverse of folderFor.
func labelFor(folder string) string {
	for label, f := range systemMailboxes {
		if strings.EqualFold(f, folder) {
			return label
		}
	}
	return folder
}

func isMailboxLabel(label string) bool {
	_, ok := systemMailboxes[strings.ToUpper(label)]
	return ok
}

// messageID encodes folder and UID into one account-unique id.
func messageID(folder string, uid uint32) string {
	return folder + ":" + strconv.FormatUint(uint64(uid), 10)
}

func parseMessageID(id string) (string, uint32, error) {
	i := strings.LastIndex(id, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("invalid imap message id %q", id)
	}
	uid, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil || uid == 0 {
		return "", 0, fmt.Errorf("invalid imap message id %q", id)
	}
	return id[:i], uint32(uid), nil
}

// flagLabels converts IMAP flags to label ids. \Seen is inverted into
// UNREAD; other system flags are dropped; keywords pass through.
func flagLabels(flags []string) []string {
	seen := false
	var labels []string
	for _, f := range flags {
		switch {
		case f == imap.SeenFlag:
			seen = true
		case f == imap.FlaggedFlag:
			labels = append(labels, backend.LabelStarred)
		case strings.HasPrefix(f, "\\"):
		default:
			labels = append(labels, f)
		}
	}
	if !seen {
		labels = append(labels, backend.LabelUnread)
	}
	return labels
}
