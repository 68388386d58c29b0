package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/Duke-GCB/DukeDSClient-sub000/internal/ddsapi"
	"github.com/Duke-GCB/DukeDSClient-sub000/internal/progress"
	"gopkg.in/yaml.v3"
)

// DefaultURL is the production data service API.
const DefaultURL = "https://api.dataservice.duke.edu/api/v1"

// GlobalConfigPath is read before the user config file.
const GlobalConfigPath = "/etc/ddsclient.conf"

// Config defines configuration for the ddsclient CLI.
type Config struct {
	URL                 string      `yaml:"url"`
	Auth                string      `yaml:"auth"`
	AgentKey            string      `yaml:"agent_key"`
	UserKey             string      `yaml:"user_key"`
	UploadBytesPerChunk int64       `yaml:"upload_bytes_per_chunk"`
	UploadWorkers       int         `yaml:"upload_workers"`
	DownloadWorkers     int         `yaml:"download_workers"`
	PageSize            int         `yaml:"page_size"`
	Debug               bool        `yaml:"debug"`
	Retry               RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior for the transfer engines.
type RetryConfig struct {
	ConnectionRetryTimes            int           `yaml:"connection_retry_times"`
	ConnectionRetryWait             time.Duration `yaml:"connection_retry_seconds"`
	ServiceDownWait                 time.Duration `yaml:"service_down_retry_seconds"`
	ResourceNotConsistentWait       time.Duration `yaml:"resource_not_consistent_retry_seconds"`
	ResourceNotConsistentMaxWait    time.Duration `yaml:"resource_not_consistent_max_wait"`
	SendExternalPutRetryTimes       int           `yaml:"send_external_put_retry_times"`
	SendExternalRetryWait           time.Duration `yaml:"send_external_retry_seconds"`
	SendExternalForbiddenRetryTimes int           `yaml:"send_external_forbidden_retry_times"`
	FetchExternalRetryTimes         int           `yaml:"fetch_external_retry_times"`
	FetchExternalRetryWait          time.Duration `yaml:"fetch_external_retry_seconds"`
	FetchExpiredURLRetryTimes       int           `yaml:"fetch_expired_url_retry_times"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	workers := defaultWorkers()
	return Config{
		URL:                 DefaultURL,
		UploadBytesPerChunk: 100 * 1024 * 1024, // 100MB
		UploadWorkers:       workers,
		DownloadWorkers:     (workers + 1) / 2,
		PageSize:            100,
		Retry: RetryConfig{
			ConnectionRetryTimes:            5,
			ConnectionRetryWait:             time.Second,
			ServiceDownWait:                 60 * time.Second,
			ResourceNotConsistentWait:       2 * time.Second,
			SendExternalPutRetryTimes:       4,
			SendExternalRetryWait:           20 * time.Second,
			SendExternalForbiddenRetryTimes: 2,
			FetchExternalRetryTimes:         5,
			FetchExternalRetryWait:          20 * time.Second,
			FetchExpiredURLRetryTimes:       5,
		},
	}
}

func defaultWorkers() int {
	return min(runtime.NumCPU(), 8)
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	URL                 string          `yaml:"url"`
	Auth                string          `yaml:"auth"`
	AgentKey            string          `yaml:"agent_key"`
	UserKey             string          `yaml:"user_key"`
	UploadBytesPerChunk string          `yaml:"upload_bytes_per_chunk"`
	UploadWorkers       int             `yaml:"upload_workers"`
	DownloadWorkers     int             `yaml:"download_workers"`
	PageSize            int             `yaml:"page_size"`
	Debug               bool            `yaml:"debug"`
	Retry               yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	ConnectionRetryTimes            int    `yaml:"connection_retry_times"`
	ConnectionRetryWait             string `yaml:"connection_retry_seconds"`
	ServiceDownWait                 string `yaml:"service_down_retry_seconds"`
	ResourceNotConsistentWait       string `yaml:"resource_not_consistent_retry_seconds"`
	ResourceNotConsistentMaxWait    string `yaml:"resource_not_consistent_max_wait"`
	SendExternalPutRetryTimes       int    `yaml:"send_external_put_retry_times"`
	SendExternalRetryWait           string `yaml:"send_external_retry_seconds"`
	SendExternalForbiddenRetryTimes int    `yaml:"send_external_forbidden_retry_times"`
	FetchExternalRetryTimes         int    `yaml:"fetch_external_retry_times"`
	FetchExternalRetryWait          string `yaml:"fetch_external_retry_seconds"`
	FetchExpiredURLRetryTimes       int    `yaml:"fetch_expired_url_retry_times"`
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (Config, error) {
	cfg := Default()
	if err := cfg.applyFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the global config file, then the user config file, then the
// environment. Missing files are skipped.
func Load() (Config, error) {
	cfg := Default()
	for _, path := range []string{GlobalConfigPath, UserConfigPath()} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UserConfigPath returns DDSCLIENT_CONF or ~/.ddsclient.
func UserConfigPath() string {
	if v := os.Getenv("DDSCLIENT_CONF"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ddsclient")
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if yc.URL != "" {
		c.URL = yc.URL
	}
	if yc.Auth != "" {
		c.Auth = yc.Auth
	}
	if yc.AgentKey != "" {
		c.AgentKey = yc.AgentKey
	}
	if yc.UserKey != "" {
		c.UserKey = yc.UserKey
	}
	if yc.UploadBytesPerChunk != "" {
		size, err := progress.ParseBytes(yc.UploadBytesPerChunk)
		if err != nil {
			return fmt.Errorf("parse upload_bytes_per_chunk: %w", err)
		}
		c.UploadBytesPerChunk = size
	}
	if yc.UploadWorkers != 0 {
		c.UploadWorkers = yc.UploadWorkers
	}
	if yc.DownloadWorkers != 0 {
		c.DownloadWorkers = yc.DownloadWorkers
	}
	if yc.PageSize != 0 {
		c.PageSize = yc.PageSize
	}
	if yc.Debug {
		c.Debug = true
	}

	r := &c.Retry
	setInt(&r.ConnectionRetryTimes, yc.Retry.ConnectionRetryTimes)
	setInt(&r.SendExternalPutRetryTimes, yc.Retry.SendExternalPutRetryTimes)
	setInt(&r.SendExternalForbiddenRetryTimes, yc.Retry.SendExternalForbiddenRetryTimes)
	setInt(&r.FetchExternalRetryTimes, yc.Retry.FetchExternalRetryTimes)
	setInt(&r.FetchExpiredURLRetryTimes, yc.Retry.FetchExpiredURLRetryTimes)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"retry.connection_retry_seconds", yc.Retry.ConnectionRetryWait, &r.ConnectionRetryWait},
		{"retry.service_down_retry_seconds", yc.Retry.ServiceDownWait, &r.ServiceDownWait},
		{"retry.resource_not_consistent_retry_seconds", yc.Retry.ResourceNotConsistentWait, &r.ResourceNotConsistentWait},
		{"retry.resource_not_consistent_max_wait", yc.Retry.ResourceNotConsistentMaxWait, &r.ResourceNotConsistentMaxWait},
		{"retry.send_external_retry_seconds", yc.Retry.SendExternalRetryWait, &r.SendExternalRetryWait},
		{"retry.fetch_external_retry_seconds", yc.Retry.FetchExternalRetryWait, &r.FetchExternalRetryWait},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := ParseSeconds(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	return nil
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// ParseSeconds parses a duration such as "500ms" or a bare number of seconds.
func ParseSeconds(s string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DDSCLIENT_ prefix; the auth token is read
// from DUKE_DATA_SERVICE_AUTH.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("DDSCLIENT_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv("DUKE_DATA_SERVICE_AUTH"); v != "" {
		c.Auth = v
	}
	if v := os.Getenv("DDSCLIENT_AGENT_KEY"); v != "" {
		c.AgentKey = v
	}
	if v := os.Getenv("DDSCLIENT_USER_KEY"); v != "" {
		c.UserKey = v
	}
	if v := os.Getenv("DDSCLIENT_UPLOAD_BYTES_PER_CHUNK"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse DDSCLIENT_UPLOAD_BYTES_PER_CHUNK: %w", err)
		}
		c.UploadBytesPerChunk = size
	}
	if v := os.Getenv("DDSCLIENT_UPLOAD_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DDSCLIENT_UPLOAD_WORKERS: %w", err)
		}
		c.UploadWorkers = n
	}
	if v := os.Getenv("DDSCLIENT_DOWNLOAD_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DDSCLIENT_DOWNLOAD_WORKERS: %w", err)
		}
		c.DownloadWorkers = n
	}
	if v := os.Getenv("DDSCLIENT_DEBUG"); v != "" {
		c.Debug = v == "true" || v == "1"
	}
	if v := os.Getenv("DDSCLIENT_RESOURCE_NOT_CONSISTENT_MAX_WAIT"); v != "" {
		d, err := ParseSeconds(v)
		if err != nil {
			return fmt.Errorf("parse DDSCLIENT_RESOURCE_NOT_CONSISTENT_MAX_WAIT: %w", err)
		}
		c.Retry.ResourceNotConsistentMaxWait = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("config: url is required")
	}
	if c.UploadWorkers <= 0 || c.DownloadWorkers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.UploadBytesPerChunk <= 0 {
		return errors.New("config: upload_bytes_per_chunk must be positive")
	}
	if c.Retry.SendExternalPutRetryTimes < 1 || c.Retry.FetchExternalRetryTimes < 1 {
		return errors.New("config: retry times must be at least 1")
	}
	if c.Retry.ResourceNotConsistentMaxWait < 0 {
		return errors.New("config: resource_not_consistent_max_wait must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.URL != "" {
		c.URL = override.URL
	}
	if override.Auth != "" {
		c.Auth = override.Auth
	}
	if override.AgentKey != "" {
		c.AgentKey = override.AgentKey
	}
	if override.UserKey != "" {
		c.UserKey = override.UserKey
	}
	if override.UploadBytesPerChunk != 0 {
		c.UploadBytesPerChunk = override.UploadBytesPerChunk
	}
	if override.UploadWorkers != 0 {
		c.UploadWorkers = override.UploadWorkers
	}
	if override.DownloadWorkers != 0 {
		c.DownloadWorkers = override.DownloadWorkers
	}
	if override.PageSize != 0 {
		c.PageSize = override.PageSize
	}
	if override.Debug {
		c.Debug = true
	}
	if override.Retry.ResourceNotConsistentMaxWait != 0 {
		c.Retry.ResourceNotConsistentMaxWait = override.Retry.ResourceNotConsistentMaxWait
	}
	return c
}

// Connection returns the connection parameters for the data service.
func (c *Config) Connection() ddsapi.Connection {
	conn := ddsapi.DefaultConnection(c.URL, c.Auth)
	conn.ConnectionRetryTimes = c.Retry.ConnectionRetryTimes
	conn.ConnectionRetryWait = c.Retry.ConnectionRetryWait
	conn.ServiceDownWait = c.Retry.ServiceDownWait
	conn.SendPutRetryTimes = c.Retry.SendExternalPutRetryTimes
	conn.SendRetryWait = c.Retry.SendExternalRetryWait
	return conn
}
