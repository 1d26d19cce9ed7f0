package cli

import (
	"errors"
	"os"

	"inboxsync/internal/config"
	"inboxsync/internal/secrets"
)

const (
	tokenEnv        = "INBOXSYNC_ACCOUNT_TOKEN" //nolint:gosec // env var name, not a credential
	imapPasswordEnv = "INBOXSYNC_IMAP_PASSWORD" //nolint:gosec // env var name, not a credential
)

// loadConfig loads the config and fills in credentials from the keyring
// when neither the environment nor the file provides them.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	if err := resolveToken(&cfg); err != nil {
		return cfg, err
	}
	if err := resolveIMAPPassword(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func resolveToken(cfg *config.Config) error {
	if _, ok := os.LookupEnv(tokenEnv); ok {
		cfg.TokenSource = "env"
		return nil
	}
	if cfg.Account.Token != "" {
		cfg.TokenSource = "config"
		return nil
	}
	if cfg.Account.Email == "" || cfg.Backend.Kind == config.BackendIMAP {
		return nil
	}

	token, err := secrets.GetToken(cfg.Account.Email)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return nil
		}
		return err
	}
	cfg.Account.Token = token
	cfg.TokenSource = "keyring"
	return nil
}

func resolveIMAPPassword(cfg *config.Config) error {
	if cfg.Backend.Kind != config.BackendIMAP {
		return nil
	}
	if _, ok := os.LookupEnv(imapPasswordEnv); ok || cfg.IMAP.Password != "" {
		return nil
	}
	if cfg.IMAP.Username == "" {
		return nil
	}

	password, err := secrets.GetIMAPPassword(cfg.IMAP.Username)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return nil
		}
		return err
	}
	cfg.IMAP.Password = password
	return nil
}

// saveConfig writes cfg without secrets that only came from the
// environment.
func saveConfig(cfg config.Config) (string, error) {
	if _, ok := os.LookupEnv(tokenEnv); ok {
		cfg.Account.Token = ""
	}
	if _, ok := os.LookupEnv(imapPasswordEnv); ok {
		cfg.IMAP.Password = ""
	}
	return config.Save(cfg)
}
