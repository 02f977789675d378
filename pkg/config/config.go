package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "30s"-style values
type Duration time.Duration

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML parses Go duration syntax
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back into Go syntax
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the full server configuration, loaded from YAML with defaults
// applied for anything left unset.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Blob      BlobConfig      `yaml:"blob"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	ListenAddr   string   `yaml:"listenAddr"`
	ApexDomain   string   `yaml:"apexDomain"`
	RootPod      string   `yaml:"rootPod"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
	IdleTimeout  Duration `yaml:"idleTimeout"`

	// RequestTimeout is the per-request deadline propagated via context
	RequestTimeout Duration `yaml:"requestTimeout"`

	// MaxRecordLimit clamps the list `limit` query parameter
	MaxRecordLimit     int `yaml:"maxRecordLimit"`
	DefaultRecordLimit int `yaml:"defaultRecordLimit"`

	// RedirectMaxAge is the Cache-Control max-age on blob redirects, seconds
	RedirectMaxAge int `yaml:"redirectMaxAge"`

	// RecordHeaderAllowlist lists the custom x-record-header-* keys that are
	// persisted into a record's headers map
	RecordHeaderAllowlist []string `yaml:"recordHeaderAllowlist"`

	// MaxBodyBytes caps accepted request bodies
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

// StorageConfig holds catalog persistence settings
type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

// BlobConfig holds external blob store settings
type BlobConfig struct {
	Root string `yaml:"root"`

	// URLTemplate builds redirect targets with {pod}, {stream_path} and
	// {record_name} placeholders
	URLTemplate string `yaml:"urlTemplate"`
}

// PoolConfig configures one cache pool
type PoolConfig struct {
	TTLSeconds         int   `yaml:"ttlSeconds"`
	MaxEntries         int   `yaml:"maxEntries"`
	MaxResultSizeBytes int64 `yaml:"maxResultSizeBytes"`
}

// CacheConfig configures the closed set of cache pools
type CacheConfig struct {
	Enabled       bool       `yaml:"enabled"`
	Pods          PoolConfig `yaml:"pods"`
	Streams       PoolConfig `yaml:"streams"`
	SingleRecords PoolConfig `yaml:"singleRecords"`
	RecordLists   PoolConfig `yaml:"recordLists"`
	RecordCounts  PoolConfig `yaml:"recordCounts"`
	Permissions   PoolConfig `yaml:"permissions"`
}

// RateLimitConfig holds per-action hourly limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled      bool `yaml:"enabled"`
	Read         int  `yaml:"read"`
	Write        int  `yaml:"write"`
	PodCreate    int  `yaml:"podCreate"`
	StreamCreate int  `yaml:"streamCreate"`
}

// AuthConfig holds bearer-token verification settings
type AuthConfig struct {
	// TokenKey is the HMAC key tokens are signed with
	TokenKey string   `yaml:"tokenKey"`
	Issuer   string   `yaml:"issuer"`
	TokenTTL Duration `yaml:"tokenTTL"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:         ":3000",
			ApexDomain:         "localhost",
			ReadTimeout:        Duration(30 * time.Second),
			WriteTimeout:       Duration(30 * time.Second),
			IdleTimeout:        Duration(120 * time.Second),
			RequestTimeout:     Duration(30 * time.Second),
			MaxRecordLimit:     1000,
			DefaultRecordLimit: 100,
			RedirectMaxAge:     3600,
			RecordHeaderAllowlist: []string{
				"cache-control",
				"content-disposition",
				"hello-world",
			},
			MaxBodyBytes: 10 << 20,
		},
		Storage: StorageConfig{
			DataDir: "/var/lib/webpods",
		},
		Blob: BlobConfig{
			Root:        "/var/lib/webpods/blobs",
			URLTemplate: "/{stream_path}/{record_name}",
		},
		Cache: CacheConfig{
			Enabled:       true,
			Pods:          PoolConfig{TTLSeconds: 300, MaxEntries: 1000, MaxResultSizeBytes: 64 << 10},
			Streams:       PoolConfig{TTLSeconds: 60, MaxEntries: 5000, MaxResultSizeBytes: 256 << 10},
			SingleRecords: PoolConfig{TTLSeconds: 60, MaxEntries: 10000, MaxResultSizeBytes: 1 << 20},
			RecordLists:   PoolConfig{TTLSeconds: 30, MaxEntries: 2000, MaxResultSizeBytes: 5 << 20},
			RecordCounts:  PoolConfig{TTLSeconds: 30, MaxEntries: 5000, MaxResultSizeBytes: 1 << 10},
			Permissions:   PoolConfig{TTLSeconds: 60, MaxEntries: 10000, MaxResultSizeBytes: 16 << 10},
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			Read:         10000,
			Write:        1000,
			PodCreate:    10,
			StreamCreate: 100,
		},
		Auth: AuthConfig{
			Issuer:   "webpods",
			TokenTTL: Duration(24 * time.Hour),
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks settings that have no sane fallback
func (c *Config) Validate() error {
	if c.Server.MaxRecordLimit <= 0 {
		return fmt.Errorf("server.maxRecordLimit must be positive")
	}
	if c.Server.DefaultRecordLimit <= 0 || c.Server.DefaultRecordLimit > c.Server.MaxRecordLimit {
		return fmt.Errorf("server.defaultRecordLimit must be in 1..maxRecordLimit")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.dataDir must be set")
	}
	if c.Blob.Root == "" {
		return fmt.Errorf("blob.root must be set")
	}
	return nil
}
