package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort         = 8080
	defaultServerTimeout      = 30 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultMaxOpenConns       = 25
	defaultMaxIdleConns       = 10
	defaultConnMaxIdleTime    = 30 * time.Minute
	defaultCacheRetention     = 6 * time.Hour
	defaultCacheMaxTotalSize  = 2 * 1024 * 1024 * 1024 // 2GB
	defaultCacheMinFreeDisk   = 512 * 1024 * 1024      // 512MB
	defaultMaxConcurrentJobs  = 3
	defaultQueueLimit         = 100
	defaultProcessTimeout     = 5 * time.Minute
	defaultRetryDelay         = 5 * time.Second
	defaultJobRetention       = time.Hour
	defaultMaxSourceDuration  = 4 * time.Hour
	defaultMaxSnippetDuration = 30 * time.Minute
	defaultAudioBitrate       = "192k"
	defaultFFmpegThreads      = 2
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir     string `mapstructure:"base_dir"`
	ArtifactDir string `mapstructure:"artifact_dir"`
	TempDir     string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// CacheConfig holds extracted-artifact cache configuration.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Retention is how long a cached artifact may go unused before the
	// sweep removes it. Supports human-readable values like "6h", "2d".
	Retention Duration `mapstructure:"retention"`
	// MaxTotalSize caps the combined size of cached artifacts.
	// Supports human-readable values like "2GB" or raw byte counts.
	MaxTotalSize ByteSize `mapstructure:"max_total_size"`
	// MinFreeDisk triggers eviction when free space on the cache
	// filesystem drops below this value.
	MinFreeDisk ByteSize `mapstructure:"min_free_disk"`
	SweepCron   string   `mapstructure:"sweep_cron"` // 6-field cron expression
}

// ExtractorConfig holds job engine and process runner configuration.
type ExtractorConfig struct {
	MaxConcurrentJobs  int      `mapstructure:"max_concurrent_jobs"`
	QueueLimit         int      `mapstructure:"queue_limit"`
	ProcessTimeout     Duration `mapstructure:"process_timeout"`
	RetryDelay         Duration `mapstructure:"retry_delay"`
	JobRetention       Duration `mapstructure:"job_retention"`
	MaxSourceDuration  Duration `mapstructure:"max_source_duration"`
	MaxSnippetDuration Duration `mapstructure:"max_snippet_duration"`
	AudioBitrate       string   `mapstructure:"audio_bitrate"`
	FFmpegThreads      int      `mapstructure:"ffmpeg_threads"`
	YtdlpPath          string   `mapstructure:"ytdlp_path"`  // Path to yt-dlp binary (empty = auto-detect)
	FFmpegPath         string   `mapstructure:"ffmpeg_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProxyURL           string   `mapstructure:"proxy_url"`
	CookiesFile        string   `mapstructure:"cookies_file"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with SNIPD_ and use underscores for nesting.
// Example: SNIPD_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/snipd")
		v.AddConfigPath("$HOME/.snipd")
	}

	v.SetEnvPrefix("SNIPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	// The TextUnmarshaller hook lets Duration and ByteSize fields accept
	// human-readable strings like "2d" or "1.5GB".
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "snipd.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.artifact_dir", "artifacts")
	v.SetDefault("storage.temp_dir", "temp")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.retention", defaultCacheRetention)
	v.SetDefault("cache.max_total_size", defaultCacheMaxTotalSize)
	v.SetDefault("cache.min_free_disk", defaultCacheMinFreeDisk)
	v.SetDefault("cache.sweep_cron", "0 */10 * * * *") // Every 10 minutes (6-field cron)

	// Extractor defaults
	v.SetDefault("extractor.max_concurrent_jobs", defaultMaxConcurrentJobs)
	v.SetDefault("extractor.queue_limit", defaultQueueLimit)
	v.SetDefault("extractor.process_timeout", defaultProcessTimeout)
	v.SetDefault("extractor.retry_delay", defaultRetryDelay)
	v.SetDefault("extractor.job_retention", defaultJobRetention)
	v.SetDefault("extractor.max_source_duration", defaultMaxSourceDuration)
	v.SetDefault("extractor.max_snippet_duration", defaultMaxSnippetDuration)
	v.SetDefault("extractor.audio_bitrate", defaultAudioBitrate)
	v.SetDefault("extractor.ffmpeg_threads", defaultFFmpegThreads)
	v.SetDefault("extractor.ytdlp_path", "")
	v.SetDefault("extractor.ffmpeg_path", "")
	v.SetDefault("extractor.proxy_url", "")
	v.SetDefault("extractor.cookies_file", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Extractor.MaxConcurrentJobs < 1 {
		return fmt.Errorf("extractor.max_concurrent_jobs must be at least 1")
	}
	if c.Extractor.QueueLimit < 1 {
		return fmt.Errorf("extractor.queue_limit must be at least 1")
	}
	if c.Extractor.ProcessTimeout.Duration() <= 0 {
		return fmt.Errorf("extractor.process_timeout must be positive")
	}
	if c.Extractor.MaxSnippetDuration.Duration() <= 0 {
		return fmt.Errorf("extractor.max_snippet_duration must be positive")
	}

	if c.Cache.Enabled && c.Cache.Retention.Duration() <= 0 {
		return fmt.Errorf("cache.retention must be positive when the cache is enabled")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ArtifactPath returns the full path to the artifact directory.
func (c *StorageConfig) ArtifactPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.ArtifactDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}
