// Package config loads the tiered cache and search engine's configuration
// tree from a base file, an environment overlay, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MemoryCacheConfig configures the in-memory LRU+TTL tier.
type MemoryCacheConfig struct {
	MaxSize          int           `mapstructure:"max_size"`
	MemoryLimitBytes int64         `mapstructure:"memory_limit_bytes"`
	TTL              time.Duration `mapstructure:"ttl_ms"`
}

// PersistentCacheConfig configures the disk-backed tier: sizing, default
// TTL, and background sync/cleanup intervals. Enabled is not consulted by
// the tiered cache: the persistent tier is always in use. CompressionEnabled
// and EncryptionKey are accepted but not applied; values are stored
// uncompressed and unencrypted.
type PersistentCacheConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxSize            int           `mapstructure:"max_size"`
	TTL                time.Duration `mapstructure:"ttl_ms"`
	SyncInterval       time.Duration `mapstructure:"sync_interval_ms"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval_ms"`
	CompressionEnabled bool          `mapstructure:"compression_enabled"`
	EncryptionKey      string        `mapstructure:"encryption_key"`
}

// PerformanceTargets sets the per-tier response-time SLAs the SLA monitor
// checks against.
type PerformanceTargets struct {
	MaxMemoryResponseTime     time.Duration `mapstructure:"max_memory_response_time_ms"`
	MaxPersistentResponseTime time.Duration `mapstructure:"max_persistent_response_time_ms"`
	MinCacheHitRate           float64       `mapstructure:"min_cache_hit_rate"`
	MaxMemoryUsageBytes       int64         `mapstructure:"max_memory_usage_bytes"`
}

// SLAMonitoringConfig tunes the rolling-window violation monitor.
type SLAMonitoringConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	ViolationThreshold int          `mapstructure:"violation_threshold"`
	MonitoringWindow  time.Duration `mapstructure:"monitoring_window_ms"`
}

// StorageConfig configures the Storage Adapter's dialect and connection.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"` // "sqlite3" or "postgres"
	DSN             string        `mapstructure:"dsn"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout_ms"`
	CacheSizeKB     int           `mapstructure:"cache_size_kb"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown_ms"`
}

// Config is the root configuration tree recognized by the Tiered Cache.
type Config struct {
	MemoryCache        MemoryCacheConfig     `mapstructure:"memory_cache"`
	PersistentCache    PersistentCacheConfig `mapstructure:"persistent_cache"`
	PerformanceTargets PerformanceTargets    `mapstructure:"performance_targets"`
	SLAMonitoring      SLAMonitoringConfig   `mapstructure:"sla_monitoring"`
	Storage            StorageConfig         `mapstructure:"storage"`
}

// Default returns the configuration tree's documented defaults.
func Default() *Config {
	return &Config{
		MemoryCache: MemoryCacheConfig{
			MaxSize:          10_000,
			MemoryLimitBytes: 52_428_800,
			TTL:              5 * time.Minute,
		},
		PersistentCache: PersistentCacheConfig{
			Enabled:         true,
			MaxSize:         50_000,
			TTL:             24 * time.Hour,
			SyncInterval:    30 * time.Second,
			CleanupInterval: 5 * time.Minute,
		},
		PerformanceTargets: PerformanceTargets{
			MaxMemoryResponseTime:     30 * time.Millisecond,
			MaxPersistentResponseTime: 100 * time.Millisecond,
			MinCacheHitRate:           80,
			MaxMemoryUsageBytes:       52_428_800,
		},
		SLAMonitoring: SLAMonitoringConfig{
			Enabled:            true,
			ViolationThreshold: 5,
			MonitoringWindow:   60 * time.Second,
		},
		Storage: StorageConfig{
			Driver:          "sqlite3",
			DSN:             "file:standards.db?_journal=WAL",
			BusyTimeout:     5 * time.Second,
			CacheSizeKB:     8192,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
	}
}

// Loader loads and merges YAML configuration files with environment
// overrides.
type Loader struct {
	configDir string
	viper     *viper.Viper
}

// NewLoader creates a Loader rooted at configDir.
func NewLoader(configDir string) *Loader {
	return &Loader{configDir: configDir, viper: viper.New()}
}

// Load reads config.base.yaml, overlays config.<env>.yaml and
// config.<env>.local.yaml when present, applies STANDARDS_CACHE_-prefixed
// environment variables, and unmarshals into a Config seeded with defaults.
func (l *Loader) Load(env string) (*Config, error) {
	l.viper.SetConfigType("yaml")
	l.viper.SetEnvPrefix("STANDARDS_CACHE")
	l.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.viper.AutomaticEnv()

	applyDefaults(l.viper, Default())

	base := filepath.Join(l.configDir, "config.base.yaml")
	if err := l.loadFile(base, false); err != nil {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	if env == "" {
		env = "development"
	}

	envFile := filepath.Join(l.configDir, fmt.Sprintf("config.%s.yaml", env))
	if _, err := os.Stat(envFile); err == nil {
		if err := l.loadFile(envFile, true); err != nil {
			return nil, fmt.Errorf("failed to load environment config: %w", err)
		}
	}

	localFile := filepath.Join(l.configDir, fmt.Sprintf("config.%s.local.yaml", env))
	if _, err := os.Stat(localFile); err == nil {
		if err := l.loadFile(localFile, true); err != nil {
			return nil, fmt.Errorf("failed to load local config: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func (l *Loader) loadFile(path string, merge bool) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	l.viper.SetConfigFile(path)
	if merge {
		return l.viper.MergeInConfig()
	}
	return l.viper.ReadInConfig()
}

func applyDefaults(v *viper.Viper, defaults *Config) {
	v.SetDefault("memory_cache.max_size", defaults.MemoryCache.MaxSize)
	v.SetDefault("memory_cache.memory_limit_bytes", defaults.MemoryCache.MemoryLimitBytes)
	v.SetDefault("memory_cache.ttl_ms", defaults.MemoryCache.TTL)
	v.SetDefault("persistent_cache.enabled", defaults.PersistentCache.Enabled)
	v.SetDefault("persistent_cache.max_size", defaults.PersistentCache.MaxSize)
	v.SetDefault("persistent_cache.ttl_ms", defaults.PersistentCache.TTL)
	v.SetDefault("persistent_cache.sync_interval_ms", defaults.PersistentCache.SyncInterval)
	v.SetDefault("persistent_cache.cleanup_interval_ms", defaults.PersistentCache.CleanupInterval)
	v.SetDefault("persistent_cache.compression_enabled", defaults.PersistentCache.CompressionEnabled)
	v.SetDefault("performance_targets.max_memory_response_time_ms", defaults.PerformanceTargets.MaxMemoryResponseTime)
	v.SetDefault("performance_targets.max_persistent_response_time_ms", defaults.PerformanceTargets.MaxPersistentResponseTime)
	v.SetDefault("performance_targets.min_cache_hit_rate", defaults.PerformanceTargets.MinCacheHitRate)
	v.SetDefault("performance_targets.max_memory_usage_bytes", defaults.PerformanceTargets.MaxMemoryUsageBytes)
	v.SetDefault("sla_monitoring.enabled", defaults.SLAMonitoring.Enabled)
	v.SetDefault("sla_monitoring.violation_threshold", defaults.SLAMonitoring.ViolationThreshold)
	v.SetDefault("sla_monitoring.monitoring_window_ms", defaults.SLAMonitoring.MonitoringWindow)
	v.SetDefault("storage.driver", defaults.Storage.Driver)
	v.SetDefault("storage.dsn", defaults.Storage.DSN)
	v.SetDefault("storage.busy_timeout_ms", defaults.Storage.BusyTimeout)
	v.SetDefault("storage.cache_size_kb", defaults.Storage.CacheSizeKB)
	v.SetDefault("storage.breaker_failures", defaults.Storage.BreakerFailures)
	v.SetDefault("storage.breaker_cooldown_ms", defaults.Storage.BreakerCooldown)
}
