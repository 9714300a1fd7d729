package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Job framework configuration
	Jobs JobsConfig `yaml:"jobs" json:"jobs"`

	// Scan job configuration
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Thumbnail generation configuration
	Thumbnails ThumbnailConfig `yaml:"thumbnails" json:"thumbnails"`

	// Source directory watcher configuration
	Watcher WatcherConfig `yaml:"watcher" json:"watcher"`

	// Auto-tagging configuration
	Tagging TaggingConfig `yaml:"tagging" json:"tagging"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"LUMINA_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" json:"port" env:"LUMINA_PORT" default:"8000"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"LUMINA_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"LUMINA_WRITE_TIMEOUT" default:"30s"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors" env:"LUMINA_ENABLE_CORS" default:"true"`
}

// DatabaseConfig holds catalog store configuration
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port            int           `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username        string        `yaml:"username" json:"username" env:"POSTGRES_USER" default:"lumina"`
	Password        string        `yaml:"password" json:"password" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"POSTGRES_DB" default:"lumina"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"LUMINA_DATA_DIR" default:"./lumina-data"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"LUMINA_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"50"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"2h"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// JobsConfig holds job controller and batch manager configuration
type JobsConfig struct {
	MaxConcurrent     int           `yaml:"max_concurrent" json:"max_concurrent" env:"LUMINA_MAX_JOB_WORKERS" default:"2"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval" env:"LUMINA_JOB_HEARTBEAT" default:"5s"`
	ReclaimAfter      time.Duration `yaml:"reclaim_after" json:"reclaim_after" env:"LUMINA_JOB_RECLAIM_AFTER" default:"60s"`
	HistoryLimit      int           `yaml:"history_limit" json:"history_limit" env:"LUMINA_JOB_HISTORY_LIMIT" default:"100"`
	AdaptiveWorkers   bool          `yaml:"adaptive_workers" json:"adaptive_workers" env:"LUMINA_ADAPTIVE_WORKERS" default:"true"`
}

// ScannerConfig holds scan job configuration
type ScannerConfig struct {
	WorkerCount    int      `yaml:"worker_count" json:"worker_count" env:"LUMINA_SCAN_WORKERS" default:"0"`
	BatchSize      int      `yaml:"batch_size" json:"batch_size" env:"LUMINA_SCAN_BATCH_SIZE" default:"500"`
	MaxFileSize    int64    `yaml:"max_file_size" json:"max_file_size" env:"LUMINA_MAX_SCAN_FILE_SIZE" default:"10737418240"`
	IgnorePatterns []string `yaml:"ignore_patterns" json:"ignore_patterns" env:"LUMINA_IGNORE_PATTERNS"`
}

// ThumbnailConfig holds thumbnail generation configuration
type ThumbnailConfig struct {
	Dir     string `yaml:"dir" json:"dir" env:"LUMINA_THUMBNAIL_DIR"`
	SizePx  int    `yaml:"size_px" json:"size_px" env:"LUMINA_THUMBNAIL_SIZE" default:"256"`
	Quality int    `yaml:"quality" json:"quality" env:"LUMINA_THUMBNAIL_QUALITY" default:"85"`
}

// WatcherConfig holds source directory watcher configuration
type WatcherConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled" env:"LUMINA_WATCHER_ENABLED" default:"false"`
	QuietPeriod time.Duration `yaml:"quiet_period" json:"quiet_period" env:"LUMINA_WATCHER_QUIET_PERIOD" default:"30s"`
}

// TaggingConfig holds auto-tagging configuration
type TaggingConfig struct {
	MaxTags   int     `yaml:"max_tags" json:"max_tags" env:"LUMINA_TAG_MAX" default:"10"`
	Threshold float64 `yaml:"threshold" json:"threshold" env:"LUMINA_TAG_THRESHOLD" default:"0.25"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT" default:"text"`
}

// ConfigManager manages application configuration with file and env sources
type ConfigManager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
}

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultConfig(),
	}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:            "sqlite",
			Host:            "localhost",
			Port:            5432,
			Username:        "lumina",
			Database:        "lumina",
			DataDir:         "./lumina-data",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 2 * time.Hour,
		},
		Jobs: JobsConfig{
			MaxConcurrent:     2,
			HeartbeatInterval: 5 * time.Second,
			ReclaimAfter:      60 * time.Second,
			HistoryLimit:      100,
			AdaptiveWorkers:   true,
		},
		Scanner: ScannerConfig{
			WorkerCount:    0, // Auto-detect
			BatchSize:      500,
			MaxFileSize:    10 * 1024 * 1024 * 1024, // 10GB
			IgnorePatterns: []string{".*", "Thumbs.db", ".DS_Store"},
		},
		Thumbnails: ThumbnailConfig{
			SizePx:  256,
			Quality: 85,
		},
		Watcher: WatcherConfig{
			Enabled:     false,
			QuietPeriod: 30 * time.Second,
		},
		Tagging: TaggingConfig{
			MaxTags:   10,
			Threshold: 0.25,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from file and environment
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.configPath = configPath

	// Start with default configuration
	newConfig := DefaultConfig()

	// Load from file if it exists
	if configPath != "" && fileExists(configPath) {
		if err := cm.loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
		log.Printf("Configuration loaded from file: %s", configPath)
	}

	// Override with environment variables
	if err := cm.loadFromEnv(newConfig); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cm.validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Apply derived configurations
	cm.applyDerivedConfig(newConfig)

	cm.config = newConfig
	return nil
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Return a copy to prevent external modifications
	configCopy := *cm.config
	return &configCopy
}

func (cm *ConfigManager) loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func (cm *ConfigManager) loadFromEnv(config *Config) error {
	return loadStructFromEnv(reflect.ValueOf(config).Elem())
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		// Handle nested structs recursively
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func (cm *ConfigManager) validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}
	if config.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("jobs.max_concurrent must be at least 1")
	}
	if config.Scanner.BatchSize < 1 {
		return fmt.Errorf("scanner.batch_size must be at least 1")
	}
	if config.Thumbnails.Quality < 1 || config.Thumbnails.Quality > 100 {
		return fmt.Errorf("thumbnails.quality must be in [1, 100]")
	}
	return nil
}

func (cm *ConfigManager) applyDerivedConfig(config *Config) {
	if config.Database.DatabasePath == "" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "lumina.db")
	}
	if config.Thumbnails.Dir == "" {
		config.Thumbnails.Dir = filepath.Join(config.Database.DataDir, "thumbnails")
	}
	if config.Scanner.WorkerCount <= 0 {
		config.Scanner.WorkerCount = min(runtime.NumCPU(), 8)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Convenience functions for global access

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration into the global manager
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}
