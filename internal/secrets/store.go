// Package secrets keeps backend tokens and IMAP passwords in the OS keyring.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"inboxsync/internal/config"
)

const (
	keyringPasswordEnv = "INBOXSYNC_KEYRING_PASSWORD" //nolint:gosec // env var name, not a credential
	keyringBackendEnv  = "INBOXSYNC_KEYRING_BACKEND"  //nolint:gosec // env var name, not a credential
)

var (
	ErrSecretNotFound        = errors.New("secret not found")
	errMissingSecretKey      = errors.New("missing secret key")
	errMissingAccount        = errors.New("missing account")
	errMissingValue          = errors.New("missing secret value")
	errNoTTY                 = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidKeyringBackend = errors.New("invalid keyring backend")
	errKeyringTimeout        = errors.New("keyring connection timed out")
	openKeyringFunc          = openKeyring
	keyringOpenFunc          = keyring.Open
)

type KeyringBackendInfo struct {
	Value  string
	Source string
}

const (
	keyringBackendSourceEnv     = "env"
	keyringBackendSourceConfig  = "config"
	keyringBackendSourceDefault = "default"
	keyringBackendAuto          = "auto"
)

type keyringConfig struct {
	KeyringBackend string `yaml:"keyring_backend"`
}

func readKeyringConfig() (keyringConfig, error) {
	path, err := config.ConfigPath()
	if err != nil {
		return keyringConfig{}, err
	}

	b, err := os.ReadFile(path) //nolint:gosec // config path is trusted
	if err != nil {
		if os.IsNotExist(err) {
			return keyringConfig{}, nil
		}
		return keyringConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg keyringConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return keyringConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

func ResolveKeyringBackendInfo() (KeyringBackendInfo, error) {
	if v := normalize(os.Getenv(keyringBackendEnv)); v != "" {
		return KeyringBackendInfo{Value: v, Source: keyringBackendSourceEnv}, nil
	}

	cfg, err := readKeyringConfig()
	if err != nil {
		return KeyringBackendInfo{}, fmt.Errorf("resolve keyring backend: %w", err)
	}

	if v := normalize(cfg.KeyringBackend); v != "" {
		return KeyringBackendInfo{Value: v, Source: keyringBackendSourceConfig}, nil
	}

	return KeyringBackendInfo{Value: keyringBackendAuto, Source: keyringBackendSourceDefault}, nil
}

func allowedBackends(info KeyringBackendInfo) ([]keyring.BackendType, error) {
	switch info.Value {
	case "", keyringBackendAuto:
		return nil, nil
	case "keychain":
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case "secret-service":
		return []keyring.BackendType{keyring.SecretServiceBackend}, nil
	case "file":
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected %s, keychain, secret-service, or file)", errInvalidKeyringBackend, info.Value, keyringBackendAuto)
	}
}

func fileKeyringPasswordFuncFrom(password string, passwordSet bool, isTTY bool) keyring.PromptFunc {
	// An empty passphrase set on purpose is still a passphrase.
	if passwordSet {
		return keyring.FixedStringPrompt(password)
	}

	if isTTY {
		return keyring.TerminalPrompt
	}

	return func(_ string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func fileKeyringPasswordFunc() keyring.PromptFunc {
	password, passwordSet := os.LookupEnv(keyringPasswordEnv)
	return fileKeyringPasswordFuncFrom(password, passwordSet, term.IsTerminal(int(os.Stdin.Fd())))
}

// keyringOpenTimeout bounds keyring.Open on headless Linux, where D-Bus
// SecretService can hang if gnome-keyring is installed but not running.
const keyringOpenTimeout = 5 * time.Second

func shouldForceFileBackend(goos string, backendInfo KeyringBackendInfo, dbusAddr string) bool {
	return goos == "linux" && backendInfo.Value == keyringBackendAuto && dbusAddr == ""
}

func shouldUseKeyringTimeout(goos string, backendInfo KeyringBackendInfo, dbusAddr string) bool {
	return goos == "linux" && backendInfo.Value == keyringBackendAuto && dbusAddr != ""
}

func openKeyring() (keyring.Keyring, error) {
	keyringDir, err := config.KeyringDir()
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDir(keyringDir); err != nil {
		return nil, err
	}

	backendInfo, err := ResolveKeyringBackendInfo()
	if err != nil {
		return nil, err
	}

	backends, err := allowedBackends(backendInfo)
	if err != nil {
		return nil, err
	}

	dbusAddr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if shouldForceFileBackend(runtime.GOOS, backendInfo, dbusAddr) {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	cfg := keyring.Config{
		ServiceName:              config.AppName,
		KeychainTrustApplication: false,
		AllowedBackends:          backends,
		FileDir:                  keyringDir,
		FilePasswordFunc:         fileKeyringPasswordFunc(),
	}

	if shouldUseKeyringTimeout(runtime.GOOS, backendInfo, dbusAddr) {
		return openKeyringWithTimeout(cfg, keyringOpenTimeout)
	}

	ring, err := keyringOpenFunc(cfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}

	return ring, nil
}

type keyringResult struct {
	ring keyring.Keyring
	err  error
}

func openKeyringWithTimeout(cfg keyring.Config, timeout time.Duration) (keyring.Keyring, error) {
	ch := make(chan keyringResult, 1)

	go func() {
		ring, err := keyringOpenFunc(cfg)
		ch <- keyringResult{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("open keyring: %w", res.err)
		}
		return res.ring, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v (D-Bus SecretService may be unresponsive); "+
			"set %s=file and %s=<password> to use encrypted file storage instead",
			errKeyringTimeout, timeout, keyringBackendEnv, keyringPasswordEnv)
	}
}

func setSecret(key string, value []byte) error {
	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  value,
		Label: config.AppName,
	})
	if err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	return nil
}

func getSecret(key string) ([]byte, error) {
	ring, err := openKeyringFunc()
	if err != nil {
		return nil, err
	}

	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("read secret: %w", err)
	}

	return item.Data, nil
}

func removeSecret(key string) error {
	ring, err := openKeyringFunc()
	if err != nil {
		return err
	}

	if err := ring.Remove(key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return ErrSecretNotFound
		}
		return fmt.Errorf("remove secret: %w", err)
	}
	return nil
}

// SetToken stores the backend API token for an account email.
func SetToken(email, token string) error {
	key, err := tokenKey(email)
	if err != nil {
		return err
	}
	if token == "" {
		return errMissingValue
	}
	return setSecret(key, []byte(token))
}

func GetToken(email string) (string, error) {
	key, err := tokenKey(email)
	if err != nil {
		return "", err
	}
	data, err := getSecret(key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func DeleteToken(email string) error {
	key, err := tokenKey(email)
	if err != nil {
		return err
	}
	return removeSecret(key)
}

func SetIMAPPassword(username, password string) error {
	key, err := imapPasswordKey(username)
	if err != nil {
		return err
	}
	if password == "" {
		return errMissingValue
	}
	return setSecret(key, []byte(password))
}

func GetIMAPPassword(username string) (string, error) {
	key, err := imapPasswordKey(username)
	if err != nil {
		return "", err
	}
	data, err := getSecret(key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func DeleteIMAPPassword(username string) error {
	key, err := imapPasswordKey(username)
	if err != nil {
		return err
	}
	return removeSecret(key)
}

func tokenKey(email string) (string, error) {
	account := normalize(email)
	if account == "" {
		return "", errMissingAccount
	}
	return "backend:token:" + account, nil
}

func imapPasswordKey(username string) (string, error) {
	user := normalize(username)
	if user == "" {
		return "", errMissingSecretKey
	}
	return "imap:password:" + user, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
