package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const AppName = "inboxsync"

// DirEnv overrides the config directory.
const DirEnv = "INBOXSYNC_CONFIG_DIR"

const (
	BackendHTTP = "http"
	BackendIMAP = "imap"
)

type Config struct {
	Account AccountConfig `mapstructure:"account" yaml:"account"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	IMAP    IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`

	// KeyringBackend is read directly by the secrets package.
	KeyringBackend string `mapstructure:"keyring_backend" yaml:"keyring_backend,omitempty"`

	// TokenSource records where Account.Token came from (env, config, keyring).
	TokenSource string `mapstructure:"-" yaml:"-"`
}

type AccountConfig struct {
	Email string `mapstructure:"email" yaml:"email"`
	Token string `mapstructure:"token" yaml:"token,omitempty"`
}

type BackendConfig struct {
	Kind        string        `mapstructure:"kind" yaml:"kind"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ClassifyQPS float64       `mapstructure:"classify_qps" yaml:"classify_qps"`
}

type IMAPConfig struct {
	Host               string `mapstructure:"host" yaml:"host"`
	Port               int    `mapstructure:"port" yaml:"port"`
	TLS                bool   `mapstructure:"tls" yaml:"tls"`
	StartTLS           bool   `mapstructure:"starttls" yaml:"starttls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Username           string `mapstructure:"username" yaml:"username"`
	Password           string `mapstructure:"password" yaml:"password,omitempty"`
	ArchiveMailbox     string `mapstructure:"archive_mailbox" yaml:"archive_mailbox"`
}

type SyncConfig struct {
	Mailbox             string        `mapstructure:"mailbox" yaml:"mailbox"`
	PageSize            int           `mapstructure:"page_size" yaml:"page_size"`
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	BatchSize           int           `mapstructure:"batch_size" yaml:"batch_size"`
	Stagger             time.Duration `mapstructure:"stagger" yaml:"stagger"`
	AutoTag             bool          `mapstructure:"auto_tag" yaml:"auto_tag"`
	UrgentConfThreshold float64       `mapstructure:"urgent_conf_threshold" yaml:"urgent_conf_threshold"`
}

type CacheConfig struct {
	// Path of the SQLite classification cache. Empty disables persistence.
	Path string `mapstructure:"path" yaml:"path"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

func DefaultConfig() Config {
	cachePath := ""
	if dir, err := Dir(); err == nil {
		cachePath = filepath.Join(dir, "classifications.db")
	}
	return Config{
		Backend: BackendConfig{
			Kind:        BackendHTTP,
			Timeout:     30 * time.Second,
			ClassifyQPS: 4,
		},
		IMAP: IMAPConfig{
			Port:           993,
			TLS:            true,
			ArchiveMailbox: "Archive",
		},
		Sync: SyncConfig{
			Mailbox:             "INBOX",
			PageSize:            20,
			PollInterval:        30 * time.Second,
			BatchSize:           4,
			Stagger:             350 * time.Millisecond,
			AutoTag:             true,
			UrgentConfThreshold: 0.7,
		},
		Cache: CacheConfig{
			Path: cachePath,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8765",
		},
	}
}

// Dir is $INBOXSYNC_CONFIG_DIR when set, else ~/.config/inboxsync. It
// holds the config file, the classification cache and the file keyring.
func Dir() (string, error) {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home dir: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

func ConfigPath() (string, error) {
	return inDir("config.yaml")
}

// KeyringDir is where the keyring "file" backend stores encrypted entries.
func KeyringDir() (string, error) {
	return inDir("keyring")
}

func inDir(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// EnsureDir creates dir, readable by the owner only.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("INBOXSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

func Save(cfg Config) (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func Redact(cfg Config) Config {
	masked := cfg
	if masked.Account.Token != "" {
		masked.Account.Token = "****"
	}
	if masked.IMAP.Password != "" {
		masked.IMAP.Password = "****"
	}
	return masked
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("account.email", cfg.Account.Email)
	v.SetDefault("account.token", cfg.Account.Token)

	v.SetDefault("backend.kind", cfg.Backend.Kind)
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.timeout", cfg.Backend.Timeout)
	v.SetDefault("backend.classify_qps", cfg.Backend.ClassifyQPS)

	v.SetDefault("imap.host", cfg.IMAP.Host)
	v.SetDefault("imap.port", cfg.IMAP.Port)
	v.SetDefault("imap.tls", cfg.IMAP.TLS)
	v.SetDefault("imap.starttls", cfg.IMAP.StartTLS)
	v.SetDefault("imap.insecure_skip_verify", cfg.IMAP.InsecureSkipVerify)
	v.SetDefault("imap.username", cfg.IMAP.Username)
	v.SetDefault("imap.password", cfg.IMAP.Password)
	v.SetDefault("imap.archive_mailbox", cfg.IMAP.ArchiveMailbox)

	v.SetDefault("sync.mailbox", cfg.Sync.Mailbox)
	v.SetDefault("sync.page_size", cfg.Sync.PageSize)
	v.SetDefault("sync.poll_interval", cfg.Sync.PollInterval)
	v.SetDefault("sync.batch_size", cfg.Sync.BatchSize)
	v.SetDefault("sync.stagger", cfg.Sync.Stagger)
	v.SetDefault("sync.auto_tag", cfg.Sync.AutoTag)
	v.SetDefault("sync.urgent_conf_threshold", cfg.Sync.UrgentConfThreshold)

	v.SetDefault("cache.path", cfg.Cache.Path)
	v.SetDefault("server.addr", cfg.Server.Addr)
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Account.Email) == "" {
		return fmt.Errorf("account.email is required")
	}
	switch cfg.Backend.Kind {
	case BackendHTTP, "":
		return ValidateHTTP(cfg)
	case BackendIMAP:
		return ValidateIMAP(cfg)
	default:
		return fmt.Errorf("backend.kind must be %q or %q, got %q", BackendHTTP, BackendIMAP, cfg.Backend.Kind)
	}
}

func ValidateHTTP(cfg Config) error {
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	return nil
}

func ValidateIMAP(cfg Config) error {
	if cfg.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if cfg.IMAP.Username == "" {
		return fmt.Errorf("imap.username is required")
	}
	if cfg.IMAP.Password == "" {
		return fmt.Errorf("imap.password is required")
	}
	return nil
}
