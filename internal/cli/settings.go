package cli

import (
	"fmt"

	"inboxsync/internal/backend"
	"inboxsync/internal/config"

	"github.com/spf13/cobra"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Auto-tag settings",
	}
	cmd.AddCommand(newSettingsSetCmd())
	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	var (
		autoTag   bool
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Save auto-tag settings on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("auto-tag") && !cmd.Flags().Changed("urgent-threshold") {
				return fmt.Errorf("nothing to do: pass --auto-tag and/or --urgent-threshold")
			}
			if threshold < 0 || threshold > 1 {
				return fmt.Errorf("--urgent-threshold must be between 0 and 1")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			want := backend.Settings{
				AutoTagEnabled:      cfg.Sync.AutoTag,
				UrgentConfThreshold: cfg.Sync.UrgentConfThreshold,
			}
			if cmd.Flags().Changed("auto-tag") {
				want.AutoTagEnabled = autoTag
			}
			if cmd.Flags().Changed("urgent-threshold") {
				want.UrgentConfThreshold = threshold
			}

			sess, err := openSession(cfg, newLogger(cmd), sessionOptions{})
			if err != nil {
				return err
			}
			defer sess.Close()

			saved, err := sess.engine.SaveSettings(cmd.Context(), want)
			if err != nil {
				return err
			}

			// Keep the local defaults in line with what the backend accepted.
			fileCfg, err := config.Load()
			if err != nil {
				return err
			}
			fileCfg.Sync.AutoTag = saved.AutoTagEnabled
			fileCfg.Sync.UrgentConfThreshold = saved.UrgentConfThreshold
			if _, err := saveConfig(fileCfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Auto-tag: %t, urgent threshold: %.2f\n",
				saved.AutoTagEnabled, saved.UrgentConfThreshold)
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoTag, "auto-tag", true, "Enable background classification")
	cmd.Flags().Float64Var(&threshold, "urgent-threshold", 0.7, "Confidence needed to call a message urgent (0-1)")

	return cmd
}
