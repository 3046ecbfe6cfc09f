package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "configs/config.yaml"
	DefaultPort       = 3000
)

type Config struct {
	Server struct {
		Port              int      `yaml:"port"`
		AllowedOrigins    []string `yaml:"allowed_origins"`
		BookRatePerSecond float64  `yaml:"book_rate_per_second"`
		BookBurst         int      `yaml:"book_burst"`
		TrustProxy        bool     `yaml:"trust_proxy"`
	} `yaml:"server"`

	Queue struct {
		AutoResetOnDrain  *bool `yaml:"auto_reset_on_drain"`
		RestoreOnStart    *bool `yaml:"restore_on_start"`
		MinutesPerPatient int   `yaml:"minutes_per_patient"`
	} `yaml:"queue"`

	Storage struct {
		Backend string `yaml:"backend"` // file or redis
		Path    string `yaml:"path"`
		Async   *bool  `yaml:"async"`

		// FallbackToFile keeps writing to Path while Redis is unreachable.
		FallbackToFile bool `yaml:"fallback_to_file"`
	} `yaml:"storage"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Key      string `yaml:"key"`
	} `yaml:"redis"`

	Archive struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"archive"`

	Backup BackupConfig `yaml:"backup"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console or json
	} `yaml:"log"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads the YAML config at path. A missing file yields defaults, so the
// server can run from environment variables alone. PORT overrides server.port.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		// Support ${ENV_VAR} placeholders in YAML config.
		data = []byte(os.ExpandEnv(string(data)))
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	if p := os.Getenv("PORT"); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.New("PORT must be a number")
		}
		cfg.Server.Port = port
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.BookRatePerSecond <= 0 {
		c.Server.BookRatePerSecond = 5
	}
	if c.Server.BookBurst <= 0 {
		c.Server.BookBurst = 20
	}
	if c.Queue.MinutesPerPatient <= 0 {
		c.Queue.MinutesPerPatient = 5
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/queue.json"
	}
	if c.Archive.Path == "" {
		c.Archive.Path = "data/archive.db"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) AutoResetOnDrain() bool {
	return c.Queue.AutoResetOnDrain == nil || *c.Queue.AutoResetOnDrain
}

func (c *Config) RestoreOnStart() bool {
	return c.Queue.RestoreOnStart == nil || *c.Queue.RestoreOnStart
}

func (c *Config) AsyncPersistence() bool {
	return c.Storage.Async == nil || *c.Storage.Async
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) NotifierEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != 0
}
