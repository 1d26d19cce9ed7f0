package cli

import (
	"fmt"

	"inboxsync/internal/config"
	"inboxsync/internal/secrets"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show account, backend and cache status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			account := cfg.Account.Email
			if account == "" {
				account = "(not configured)"
			}
			fmt.Fprintf(out, "Account:  %s\n", account)

			switch cfg.Backend.Kind {
			case config.BackendIMAP:
				fmt.Fprintf(out, "Backend:  imap %s:%d as %s\n", cfg.IMAP.Host, cfg.IMAP.Port, cfg.IMAP.Username)
			default:
				source := cfg.TokenSource
				if source == "" {
					source = "none"
				}
				fmt.Fprintf(out, "Backend:  http %s (token: %s)\n", cfg.Backend.BaseURL, source)
			}

			if info, err := secrets.ResolveKeyringBackendInfo(); err == nil {
				fmt.Fprintf(out, "Keyring:  %s (%s)\n", info.Value, info.Source)
			}

			fmt.Fprintf(out, "Sync:     %s, %d per page, poll %s, auto-tag %t (threshold %.2f)\n",
				cfg.Sync.Mailbox, cfg.Sync.PageSize, cfg.Sync.PollInterval, cfg.Sync.AutoTag, cfg.Sync.UrgentConfThreshold)

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Fprintln(out, "Cache:    disabled")
				return nil
			}
			defer st.Close()
			count := 0
			if cfg.Account.Email != "" {
				if count, err = st.Count(cmd.Context(), cfg.Account.Email); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "Cache:    %s (%d classification(s))\n", cfg.Cache.Path, count)
			return nil
		},
	}
	return cmd
}
