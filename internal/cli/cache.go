package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Local classification cache",
	}
	cmd.AddCommand(newCachePruneCmd())
	cmd.AddCommand(newCacheClearCmd())
	return cmd
}

func newCachePruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete cached classifications older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("cache.path is not set")
			}
			defer st.Close()

			n, err := st.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d classification(s).\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age cutoff")

	return cmd
}

func newCacheClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached classifications for the configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Account.Email == "" {
				return fmt.Errorf("account.email is not set")
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("cache.path is not set")
			}
			defer st.Close()

			if err := st.Clear(cmd.Context(), cfg.Account.Email); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared.")
			return nil
		},
	}
	return cmd
}
