package cli

import (
	"fmt"
	"os"
	"os/exec"

	"inboxsync/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config management",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigEditCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return renderConfig(cmd, cfg, showSecrets)
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Show token and password in output")

	return cmd
}

func renderConfig(cmd *cobra.Command, cfg config.Config, showSecrets bool) error {
	if !showSecrets {
		cfg = config.Redact(cfg)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if path, err := config.ConfigPath(); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
	}
	if cfg.TokenSource != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# token from %s\n", cfg.TokenSource)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

func newConfigEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Open config file in $EDITOR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				// Start from the defaults so the editor shows every key.
				if _, err := config.Save(config.DefaultConfig()); err != nil {
					return err
				}
			}
			editor := os.Getenv("EDITOR")
			if editor == "" {
				return fmt.Errorf("EDITOR not set; config file is %s", path)
			}
			editCmd := exec.CommandContext(cmd.Context(), editor, path)
			editCmd.Stdout = os.Stdout
			editCmd.Stderr = os.Stderr
			editCmd.Stdin = os.Stdin
			return editCmd.Run()
		},
	}

	return cmd
}
