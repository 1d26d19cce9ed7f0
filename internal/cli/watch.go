package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"inboxsync/internal/api"
	"inboxsync/internal/inbox"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the first page in sync and classify new mail until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, true, func(sess *session) error {
				if err := startSession(cmd.Context(), sess); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Watching %s every %s. Press Ctrl+C to stop.\n",
					sess.cfg.Account.Email, sess.cfg.Sync.PollInterval)
				reportChanges(cmd.Context(), cmd.OutOrStdout(), sess.engine)
				return nil
			})
		},
	}
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine with a local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, true, func(sess *session) error {
				serverCfg := sess.cfg.Server
				if cmd.Flags().Changed("addr") {
					serverCfg.Addr = addr
				}

				ctx := cmd.Context()
				if err := startSession(ctx, sess); err != nil {
					return err
				}

				apiServer := api.NewServer(serverCfg, sess.engine, sess.logger)
				serverErr := make(chan error, 1)
				go func() {
					if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						serverErr <- err
					}
				}()

				fmt.Fprintf(cmd.OutOrStdout(), "inboxsync serving %s on http://%s\n", sess.cfg.Account.Email, serverCfg.Addr)
				fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop.")

				var runErr error
				select {
				case <-ctx.Done():
					sess.logger.Info("context cancelled")
				case err := <-serverErr:
					sess.logger.Error("API server error", "error", err)
					runErr = err
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := apiServer.Shutdown(shutdownCtx); err != nil {
					sess.logger.Error("API server shutdown error", "error", err)
				}
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")

	return cmd
}

// startSession marks the view visible, starts polling and loads the first
// page. A failed first load is logged; polling retries it.
func startSession(ctx context.Context, sess *session) error {
	if sess.cfg.Account.Email == "" {
		return inbox.Classify(inbox.ErrIdentityMissing)
	}
	sess.engine.SetActive(true)
	sess.engine.Start()
	if _, err := sess.engine.Reload(ctx); err != nil {
		sess.logger.Warn("initial load failed", "error", err)
	}
	return nil
}

// viewDigest summarises a snapshot for change reporting.
type viewDigest struct {
	messages   int
	unread     int
	classified int
	pending    int
	status     inbox.Status
	errMessage string
}

func digest(s inbox.Snapshot) viewDigest {
	d := viewDigest{messages: len(s.Messages), status: s.List.Status}
	if s.Error != nil {
		d.errMessage = s.Error.Message
	}
	for _, m := range s.Messages {
		if m.Unread {
			d.unread++
		}
		if m.Classification != nil {
			d.classified++
		}
		if m.Request.State == inbox.RequestScheduled || m.Request.State == inbox.RequestInFlight {
			d.pending++
		}
	}
	return d
}

// reportChanges prints a line whenever the view changes, until ctx ends.
func reportChanges(ctx context.Context, out io.Writer, e *inbox.Engine) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last viewDigest
	first := true
	for {
		d := digest(e.Snapshot())
		if first || d != last {
			printDigest(out, d)
			last, first = d, false
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printDigest(out io.Writer, d viewDigest) {
	ts := time.Now().Format("15:04:05")
	if d.errMessage != "" {
		fmt.Fprintf(out, "%s  error: %s\n", ts, d.errMessage)
		return
	}
	fmt.Fprintf(out, "%s  %d messages, %d unread, %d classified, %d pending\n",
		ts, d.messages, d.unread, d.classified, d.pending)
}
