package cli

import (
	"context"
	"fmt"

	"inboxsync/internal/backend"
	"inboxsync/internal/inbox"

	"github.com/spf13/cobra"
)

func newLabelCmd() *cobra.Command {
	var add, remove string

	cmd := &cobra.Command{
		Use:   "label <id>...",
		Short: "Add or remove labels on messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addIDs, removeIDs := splitList(add), splitList(remove)
			if len(addIDs) == 0 && len(removeIDs) == 0 {
				return fmt.Errorf("nothing to do: pass --add and/or --remove")
			}
			return modifyLabels(cmd, args, addIDs, removeIDs)
		},
	}

	cmd.Flags().StringVar(&add, "add", "", "Comma-separated labels to add")
	cmd.Flags().StringVar(&remove, "remove", "", "Comma-separated labels to remove")

	return cmd
}

// preset is a fixed label change exposed as its own command.
type preset struct {
	use    string
	short  string
	apply  func(e *inbox.Engine, ctx context.Context, ids ...string) error
	done   string
	add    []string
	remove []string
}

var presets = []preset{
	{use: "archive", short: "Remove messages from the inbox", apply: (*inbox.Engine).Archive, done: "Archived"},
	{use: "read", short: "Mark messages as read", apply: (*inbox.Engine).MarkRead, done: "Marked read"},
	{use: "unread", short: "Mark messages as unread", apply: (*inbox.Engine).MarkUnread, done: "Marked unread"},
	{use: "star", short: "Star messages", apply: (*inbox.Engine).Star, done: "Starred"},
	{use: "unstar", short: "Remove the star from messages", apply: (*inbox.Engine).Unstar, done: "Unstarred"},
	{
		use:    "trash",
		short:  "Move messages to the trash",
		done:   "Moved to trash",
		add:    []string{backend.LabelTrash},
		remove: []string{backend.LabelInbox},
	},
}

func newPresetCmds() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(presets))
	for _, p := range presets {
		cmds = append(cmds, &cobra.Command{
			Use:   p.use + " <id>...",
			Short: p.short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if p.apply == nil {
					return modifyLabels(cmd, args, p.add, p.remove)
				}
				return withSession(cmd, false, func(sess *session) error {
					if err := p.apply(sess.engine, cmd.Context(), args...); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %d message(s).\n", p.done, len(args))
					return nil
				})
			},
		})
	}
	return cmds
}

func modifyLabels(cmd *cobra.Command, ids, add, remove []string) error {
	return withSession(cmd, false, func(sess *session) error {
		if err := sess.engine.ModifyLabels(cmd.Context(), ids, add, remove); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %d message(s).\n", len(ids))
		return nil
	})
}

// withSession loads config, opens a session and runs fn with it.
func withSession(cmd *cobra.Command, background bool, fn func(sess *session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, err := openSession(cfg, newLogger(cmd), sessionOptions{background: background})
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(sess)
}
