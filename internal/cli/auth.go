package cli

import (
	"errors"
	"fmt"

	"inboxsync/internal/config"
	"inboxsync/internal/secrets"

	"github.com/spf13/cobra"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Account and credential setup",
	}
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		email       string
		token       string
		backendKind string
		baseURL     string

		imapHost     string
		imapPort     int
		imapTLS      bool
		imapStartTLS bool
		imapInsecure bool
		username     string
		password     string
		archive      string

		noKeyring bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the account, backend settings and credentials",
		Long: `Store the account, backend settings and credentials.

Secrets go to the system keyring unless --no-keyring is given. Pass "-" as
--token or --password to be prompted without echo.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("email") {
				cfg.Account.Email = email
			}
			if cmd.Flags().Changed("backend") {
				cfg.Backend.Kind = backendKind
			}
			if cmd.Flags().Changed("base-url") {
				cfg.Backend.BaseURL = baseURL
			}

			if cmd.Flags().Changed("imap-host") {
				cfg.IMAP.Host = imapHost
			}
			if cmd.Flags().Changed("imap-port") {
				cfg.IMAP.Port = imapPort
			}
			if cmd.Flags().Changed("imap-tls") {
				cfg.IMAP.TLS = imapTLS
			}
			if cmd.Flags().Changed("imap-starttls") {
				cfg.IMAP.StartTLS = imapStartTLS
			}
			if cmd.Flags().Changed("imap-insecure") {
				cfg.IMAP.InsecureSkipVerify = imapInsecure
			}
			if cmd.Flags().Changed("username") {
				cfg.IMAP.Username = username
			}
			if cmd.Flags().Changed("archive-mailbox") {
				cfg.IMAP.ArchiveMailbox = archive
			}

			if cmd.Flags().Changed("token") {
				secret, err := readSecret(token, "Backend token")
				if err != nil {
					return err
				}
				if noKeyring {
					cfg.Account.Token = secret
				} else {
					if err := secrets.SetToken(cfg.Account.Email, secret); err != nil {
						return err
					}
					cfg.Account.Token = ""
				}
			}
			if cmd.Flags().Changed("password") {
				secret, err := readSecret(password, "IMAP password")
				if err != nil {
					return err
				}
				if noKeyring {
					cfg.IMAP.Password = secret
				} else {
					if err := secrets.SetIMAPPassword(cfg.IMAP.Username, secret); err != nil {
						return err
					}
					cfg.IMAP.Password = ""
				}
			}

			// Validate with the keyring secrets resolved, save without them.
			check := cfg
			if err := resolveIMAPPassword(&check); err != nil {
				return err
			}
			if err := config.Validate(check); err != nil {
				return err
			}

			path, err := saveConfig(cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&token, "token", "", `Backend API token ("-" to prompt)`)
	cmd.Flags().StringVar(&backendKind, "backend", "", "Backend kind: http or imap")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "HTTP backend base URL")

	cmd.Flags().StringVar(&imapHost, "imap-host", "", "IMAP host")
	cmd.Flags().IntVar(&imapPort, "imap-port", 0, "IMAP port")
	cmd.Flags().BoolVar(&imapTLS, "imap-tls", false, "Use IMAP TLS")
	cmd.Flags().BoolVar(&imapStartTLS, "imap-starttls", false, "Use IMAP STARTTLS")
	cmd.Flags().BoolVar(&imapInsecure, "imap-insecure", false, "Skip IMAP TLS verification")
	cmd.Flags().StringVar(&username, "username", "", "IMAP username")
	cmd.Flags().StringVar(&password, "password", "", `IMAP password or app password ("-" to prompt)`)
	cmd.Flags().StringVar(&archive, "archive-mailbox", "", "IMAP folder archived mail moves to")

	cmd.Flags().BoolVar(&noKeyring, "no-keyring", false, "Store secrets in the config file instead of the keyring")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget stored credentials and cached classifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Account.Email == "" {
				return fmt.Errorf("no account configured")
			}

			if err := secrets.DeleteToken(cfg.Account.Email); err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
				return err
			}
			if cfg.IMAP.Username != "" {
				if err := secrets.DeleteIMAPPassword(cfg.IMAP.Username); err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
					return err
				}
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
				if err := st.Clear(cmd.Context(), cfg.Account.Email); err != nil {
					return err
				}
			}

			cfg.Account.Token = ""
			cfg.IMAP.Password = ""
			if _, err := config.Save(cfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged out %s.\n", cfg.Account.Email)
			return nil
		},
	}
	return cmd
}
