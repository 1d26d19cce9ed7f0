package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"inboxsync/internal/backend"
	"inboxsync/internal/inbox"
	"inboxsync/internal/mailtext"
)

func printMessages(out io.Writer, messages []inbox.MessageView) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tFLAGS\tFROM\tSUBJECT\tPRIORITY\tTAGS")
	for _, msg := range messages {
		date := ""
		if t, ok := messageTime(msg.MessageSummary); ok {
			date = t.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			msg.ID, date, flags(msg), mailtext.SenderName(msg.From), msg.Subject,
			priority(msg), tags(msg))
	}
	_ = tw.Flush()
}

func messageTime(m backend.MessageSummary) (time.Time, bool) {
	if t, ok := mailtext.ParseInternalDate(m.InternalDate); ok {
		return t, true
	}
	return mailtext.ParseDate(m.Date)
}

func flags(msg inbox.MessageView) string {
	var b strings.Builder
	if msg.Unread {
		b.WriteByte('U')
	} else {
		b.WriteByte('-')
	}
	if msg.Starred {
		b.WriteByte('*')
	} else {
		b.WriteByte('-')
	}
	return b.String()
}

func priority(msg inbox.MessageView) string {
	if msg.Classification != nil {
		return string(msg.Classification.PriorityLabel)
	}
	switch msg.Request.State {
	case inbox.RequestUnclassified, "":
		return ""
	}
	return "(" + string(msg.Request.State) + ")"
}

func tags(msg inbox.MessageView) string {
	if msg.Classification == nil {
		return ""
	}
	return strings.Join(msg.Classification.Tags, ",")
}

func printClassification(out io.Writer, id string, c *backend.Classification, entry inbox.RequestEntry) {
	if c == nil {
		line := fmt.Sprintf("%s: %s", id, entry.State)
		if entry.Message != "" {
			line += " (" + entry.Message + ")"
		}
		fmt.Fprintln(out, line)
		return
	}
	fmt.Fprintf(out, "%s: %s priority=%.0f sentiment=%s confidence=%.2f tags=%s\n",
		id, c.PriorityLabel, c.PriorityScore, c.Sentiment, c.Confidence, strings.Join(c.Tags, ","))
	if c.ReasoningShort != "" {
		fmt.Fprintf(out, "  %s\n", c.ReasoningShort)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
