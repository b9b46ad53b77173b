package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"clinsync/internal/domain/crdt"
)

const (
	defaultServerAddress = "localhost:8080"
	defaultAgentAddress  = "127.0.0.1:8090"
	defaultLogLevel      = "info"
	defaultEnv           = "local"
	defaultConfigDir     = ".clinsync"
)

// Document is a document the agent keeps in sync.
type Document struct {
	ID   string
	Kind crdt.Kind
}

type Config struct {
	Env           string
	ServerAddress string
	AgentAddress  string
	LogLevel      string
	ConfigDir     string
	EnableTLS     bool
	ReplicaID     string

	EditsPath string
	CachePath string
	StatePath string

	SyncInterval        time.Duration
	SyncMaxBackoff      time.Duration
	RequestTimeout      time.Duration
	OnlineCheckInterval time.Duration
	ReplayInterval      time.Duration
	SweepInterval       time.Duration
	CacheRetention      time.Duration
	MaxBacklog          int
	ShellVersion        string
	RoutesFile          string
	OfflinePage         string
	TombstonePolicy     crdt.Policy

	Documents []Document
}

// MustLoad is Load that panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// Load reads .env, the optional config file bound into viper and the
// environment, in that order of increasing priority.
func Load() (*Config, error) {
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = "../.env"
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Fprintf(os.Stderr, "load %s: %v\n", envPath, err)
		}
	}

	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	return FromViper(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", defaultEnv)
	v.SetDefault("SERVER_ADDRESS", defaultServerAddress)
	v.SetDefault("AGENT_ADDRESS", defaultAgentAddress)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("CONFIG_DIR", defaultConfigDir)
	v.SetDefault("ENABLE_TLS", false)
	v.SetDefault("SYNC_INTERVAL", 3*time.Second)
	v.SetDefault("SYNC_MAX_BACKOFF", time.Minute)
	v.SetDefault("REQUEST_TIMEOUT", 10*time.Second)
	v.SetDefault("ONLINE_CHECK_INTERVAL", 5*time.Second)
	v.SetDefault("REPLAY_INTERVAL", 30*time.Second)
	v.SetDefault("SWEEP_INTERVAL", time.Hour)
	v.SetDefault("CACHE_RETENTION", 7*24*time.Hour)
	v.SetDefault("MAX_BACKLOG", 1000)
	v.SetDefault("SHELL_VERSION", "dev")
	v.SetDefault("TOMBSTONE_POLICY", "visible-wins")
}

// FromViper builds a Config from v. Relative paths are resolved against
// the user's home directory.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	configDir := v.GetString("CONFIG_DIR")
	if configDir == defaultConfigDir {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		configDir = filepath.Join(homeDir, configDir)
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	policy, err := crdt.ParsePolicy(v.GetString("TOMBSTONE_POLICY"))
	if err != nil {
		return nil, err
	}
	docs, err := ParseDocuments(v.GetString("DOCUMENTS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:                 v.GetString("APP_ENV"),
		ServerAddress:       v.GetString("SERVER_ADDRESS"),
		AgentAddress:        v.GetString("AGENT_ADDRESS"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		ConfigDir:           configDir,
		EnableTLS:           v.GetBool("ENABLE_TLS"),
		ReplicaID:           v.GetString("REPLICA_ID"),
		EditsPath:           filepath.Join(configDir, "edits.db"),
		CachePath:           filepath.Join(configDir, "cache.db"),
		StatePath:           filepath.Join(configDir, "state.json"),
		SyncInterval:        v.GetDuration("SYNC_INTERVAL"),
		SyncMaxBackoff:      v.GetDuration("SYNC_MAX_BACKOFF"),
		RequestTimeout:      v.GetDuration("REQUEST_TIMEOUT"),
		OnlineCheckInterval: v.GetDuration("ONLINE_CHECK_INTERVAL"),
		ReplayInterval:      v.GetDuration("REPLAY_INTERVAL"),
		SweepInterval:       v.GetDuration("SWEEP_INTERVAL"),
		CacheRetention:      v.GetDuration("CACHE_RETENTION"),
		MaxBacklog:          v.GetInt("MAX_BACKLOG"),
		ShellVersion:        v.GetString("SHELL_VERSION"),
		RoutesFile:          v.GetString("ROUTES_FILE"),
		OfflinePage:         v.GetString("OFFLINE_PAGE"),
		TombstonePolicy:     policy,
		Documents:           docs,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server_address must not be empty")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive, got %s", c.SyncInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.MaxBacklog <= 0 {
		return fmt.Errorf("max_backlog must be positive, got %d", c.MaxBacklog)
	}
	return nil
}

// ParseDocuments parses "case-1:text,case-1-meta:json". A missing kind
// means text.
func ParseDocuments(s string) ([]Document, error) {
	var docs []Document
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, kind, found := strings.Cut(part, ":")
		doc := Document{ID: strings.TrimSpace(id), Kind: crdt.KindText}
		if found {
			k, err := crdt.ParseKind(kind)
			if err != nil {
				return nil, fmt.Errorf("documents: %s: %w", part, err)
			}
			doc.Kind = k
		}
		if doc.ID == "" {
			return nil, fmt.Errorf("documents: empty id in %q", part)
		}
		if seen[doc.ID] {
			return nil, fmt.Errorf("documents: %s listed twice", doc.ID)
		}
		seen[doc.ID] = true
		docs = append(docs, doc)
	}
	return docs, nil
}

// BaseURL is the server root including scheme.
func (c *Config) BaseURL() string {
	if c.EnableTLS {
		return "https://" + c.ServerAddress
	}
	return "http://" + c.ServerAddress
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == ""
}
