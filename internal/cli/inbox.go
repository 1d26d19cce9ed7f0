package cli

import (
	"context"
	"fmt"
	"time"

	"inboxsync/internal/inbox"

	"github.com/spf13/cobra"
)

func newInboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Inbox operations",
	}
	cmd.AddCommand(newInboxListCmd())
	return cmd
}

func newInboxListCmd() *cobra.Command {
	var (
		mailbox    string
		unreadOnly bool
		query      string
		page       int
		wait       bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if page < 1 {
				return fmt.Errorf("--page must be at least 1")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd)
			sess, err := openSession(cfg, logger, sessionOptions{background: wait})
			if err != nil {
				return err
			}
			defer sess.Close()

			opts := inbox.LoadOptions{Page: 1, UnreadOnly: &unreadOnly}
			if cmd.Flags().Changed("mailbox") {
				opts.Mailbox = &mailbox
			}
			if cmd.Flags().Changed("query") {
				opts.Query = &query
			}

			ctx := cmd.Context()
			if _, err := sess.engine.LoadMessages(ctx, opts); err != nil {
				return err
			}
			for p := 2; p <= page; p++ {
				res, err := sess.engine.NextPage(ctx)
				if err != nil {
					return err
				}
				if res.Skipped {
					return fmt.Errorf("page %d is past the last page", p)
				}
			}
			if wait {
				if err := waitForClassification(ctx, sess.engine); err != nil {
					return err
				}
			}

			snap := sess.engine.Snapshot()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), snap)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Account: %s  Mailbox: %s  Page: %d%s\n",
				snap.Account, mailboxName(snap.Filter), snap.Page, moreHint(snap))
			printMessages(cmd.OutOrStdout(), snap.Messages)
			return nil
		},
	}

	cmd.Flags().StringVar(&mailbox, "mailbox", "", "Mailbox label (INBOX, SENT, STARRED, ALL, ...)")
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only unread messages")
	cmd.Flags().StringVar(&query, "query", "", "Free-text search query")
	cmd.Flags().IntVar(&page, "page", 1, "Page number (1-based, newest first)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for background classification before printing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the view as JSON")

	return cmd
}

func mailboxName(f inbox.Filter) string {
	name := f.Mailbox
	if f.AllMail() {
		name = inbox.MailboxAll
	}
	if f.UnreadOnly {
		name += " (unread)"
	}
	if f.Query != "" {
		name += fmt.Sprintf(" matching %q", f.Query)
	}
	return name
}

func moreHint(s inbox.Snapshot) string {
	if s.HasNext {
		return "  (more)"
	}
	return ""
}

// waitForClassification blocks until no message in the view is waiting
// or in flight.
func waitForClassification(ctx context.Context, e *inbox.Engine) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !classificationPending(e.Snapshot()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func classificationPending(s inbox.Snapshot) bool {
	if !s.AutoTag.AutoTagEnabled {
		return false
	}
	for _, m := range s.Messages {
		switch m.Request.State {
		case inbox.RequestScheduled, inbox.RequestInFlight:
			return true
		case inbox.RequestUnclassified:
			// picked up by the next batch
			if m.Classification == nil {
				return true
			}
		}
	}
	return false
}
