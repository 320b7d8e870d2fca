package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Job kinds.
const (
	KindEnrich   = "enrich"
	KindTransfer = "transfer"
)

// Title backends.
const (
	BackendHTTP    = "http"
	BackendBrowser = "browser"
)

// Object store backends. An empty value disables remote locations.
const (
	ObjectStoreGCS = "gcs"
	ObjectStoreS3  = "s3"
)

// JobConfig describes one dataset run. Jobs are listed under JOBS in config.yaml;
// without that list a single enrich job is built from the top-level keys.
type JobConfig struct {
	Name            string `mapstructure:"name"`
	Kind            string `mapstructure:"kind"`
	SourcePath      string `mapstructure:"source_path"`
	SourceBucket    string `mapstructure:"source_bucket"`
	TargetPath      string `mapstructure:"target_path"`
	TargetBucket    string `mapstructure:"target_bucket"`
	TargetRemoteKey string `mapstructure:"target_remote_key"`
	FixLegacy       bool   `mapstructure:"fix_legacy"`
}

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`

	SourcePath      string      `mapstructure:"SOURCE_PATH"`
	TargetPath      string      `mapstructure:"TARGET_PATH"`
	TargetBucket    string      `mapstructure:"TARGET_BUCKET"`
	TargetRemoteKey string      `mapstructure:"TARGET_REMOTE_KEY"`
	FixLegacy       bool        `mapstructure:"FIX_LEGACY"`
	Jobs            []JobConfig `mapstructure:"JOBS"`

	ChunkSize   int  `mapstructure:"CHUNK_SIZE"`
	WindowCount int  `mapstructure:"WINDOW_COUNT"` // 0 derives windows from the dataset length
	Concurrent  bool `mapstructure:"CONCURRENT"`
	MaxWorkers  int  `mapstructure:"MAX_WORKERS"` // <= 0 means one worker per record

	HTTPTimeout      time.Duration `mapstructure:"HTTP_TIMEOUT"`
	HTTPRetries      int           `mapstructure:"HTTP_RETRIES"`
	HTTPRetryBackoff time.Duration `mapstructure:"HTTP_RETRY_BACKOFF"`
	UserAgent        string        `mapstructure:"USER_AGENT"`
	TitleBackend     string        `mapstructure:"TITLE_BACKEND"`

	ObjectStore string `mapstructure:"OBJECT_STORE"`
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3UseSSL    bool   `mapstructure:"S3_USE_SSL"`

	CachePath string        `mapstructure:"CACHE_PATH"` // empty disables the resolution cache
	CacheTTL  time.Duration `mapstructure:"CACHE_TTL"`

	PGDSN   string `mapstructure:"PG_DSN"`
	PGTable string `mapstructure:"PG_TABLE"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `mapstructure:"TELEGRAM_CHAT_ID"`
}

// defaults doubles as the list of keys viper resolves from the environment.
var defaults = map[string]any{
	"LOG_LEVEL":          "info",
	"SOURCE_PATH":        "",
	"TARGET_PATH":        "",
	"TARGET_BUCKET":      "",
	"TARGET_REMOTE_KEY":  "",
	"FIX_LEGACY":         false,
	"CHUNK_SIZE":         500,
	"WINDOW_COUNT":       0,
	"CONCURRENT":         true,
	"MAX_WORKERS":        16,
	"HTTP_TIMEOUT":       "15s",
	"HTTP_RETRIES":       3,
	"HTTP_RETRY_BACKOFF": "500ms",
	"USER_AGENT":         "micro-dwh/1.0 (+https://github.com/smirnovkirilll/micro-dwh)",
	"TITLE_BACKEND":      BackendHTTP,
	"OBJECT_STORE":       "",
	"S3_ENDPOINT":        "",
	"S3_ACCESS_KEY":      "",
	"S3_SECRET_KEY":      "",
	"S3_REGION":          "",
	"S3_USE_SSL":         true,
	"CACHE_PATH":         "",
	"CACHE_TTL":          "720h",
	"PG_DSN":             "",
	"PG_TABLE":           "bookmarks",
	"TELEGRAM_BOT_TOKEN": "",
	"TELEGRAM_CHAT_ID":   0,
}

// LoadConfig reads configuration from path/config.yaml and the environment.
// A missing config file is fine as long as the environment provides a job.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if len(cfg.Jobs) == 0 && cfg.SourcePath != "" {
		cfg.Jobs = []JobConfig{{
			Name:            "default",
			Kind:            KindEnrich,
			SourcePath:      cfg.SourcePath,
			TargetPath:      cfg.TargetPath,
			TargetBucket:    cfg.TargetBucket,
			TargetRemoteKey: cfg.TargetRemoteKey,
			FixLegacy:       cfg.FixLegacy,
		}}
	}
	for i := range cfg.Jobs {
		j := &cfg.Jobs[i]
		j.Kind = strings.ToLower(strings.TrimSpace(j.Kind))
		if j.Kind == "" {
			j.Kind = KindEnrich
		}
		if j.Name == "" {
			j.Name = fmt.Sprintf("job-%d", i+1)
		}
	}
	cfg.TitleBackend = strings.ToLower(strings.TrimSpace(cfg.TitleBackend))
	cfg.ObjectStore = strings.ToLower(strings.TrimSpace(cfg.ObjectStore))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if len(c.Jobs) == 0 {
		return errors.New("no jobs configured: set SOURCE_PATH or JOBS")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.WindowCount < 0 {
		return fmt.Errorf("WINDOW_COUNT must not be negative, got %d", c.WindowCount)
	}
	if c.HTTPRetries < 0 {
		return fmt.Errorf("HTTP_RETRIES must not be negative, got %d", c.HTTPRetries)
	}
	switch c.TitleBackend {
	case BackendHTTP, BackendBrowser:
	default:
		return fmt.Errorf("TITLE_BACKEND must be %q or %q, got %q", BackendHTTP, BackendBrowser, c.TitleBackend)
	}
	switch c.ObjectStore {
	case "", ObjectStoreGCS:
	case ObjectStoreS3:
		if c.S3Endpoint == "" {
			return errors.New("S3_ENDPOINT is required when OBJECT_STORE=s3")
		}
	default:
		return fmt.Errorf("OBJECT_STORE must be empty, %q or %q, got %q", ObjectStoreGCS, ObjectStoreS3, c.ObjectStore)
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == 0 {
		return errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	names := map[string]bool{}
	for _, j := range c.Jobs {
		if names[j.Name] {
			return fmt.Errorf("duplicate job name %q", j.Name)
		}
		names[j.Name] = true
		if err := j.validate(); err != nil {
			return fmt.Errorf("job %q: %w", j.Name, err)
		}
		if (j.SourceBucket != "" || j.TargetBucket != "") && c.ObjectStore == "" {
			return fmt.Errorf("job %q: bucket locations need OBJECT_STORE", j.Name)
		}
	}
	return nil
}

func (j JobConfig) validate() error {
	if j.SourcePath == "" {
		return errors.New("source_path is required")
	}
	if (j.TargetBucket == "") != (j.TargetRemoteKey == "") {
		return errors.New("target_bucket and target_remote_key must be set together")
	}
	switch j.Kind {
	case KindEnrich:
		if j.SourceBucket != "" {
			return errors.New("enrich jobs read a local source file")
		}
		if j.TargetPath == "" {
			return errors.New("target_path is required")
		}
		if j.TargetPath == j.SourcePath {
			return errors.New("target_path must differ from source_path")
		}
	case KindTransfer:
		if j.TargetPath == "" && j.TargetBucket == "" {
			return errors.New("target_path or target_bucket is required")
		}
		if j.FixLegacy {
			return errors.New("fix_legacy only applies to enrich jobs")
		}
	default:
		return fmt.Errorf("unknown kind %q", j.Kind)
	}
	return nil
}
