package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	AI      AIConfig      `yaml:"ai"`
	History HistoryConfig `yaml:"history"`
	Themes  ThemesConfig  `yaml:"themes"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxConnections int           `yaml:"max_connections"`
	ReconnectGrace time.Duration `yaml:"reconnect_grace"`
	TurnLimit      int           `yaml:"turn_limit"`
	TurnWindow     time.Duration `yaml:"turn_window"`
}

type StorageConfig struct {
	DataDir string      `yaml:"data_dir"`
	MySQL   MySQLConfig `yaml:"mysql"`
	Redis   RedisConfig `yaml:"redis"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type AIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	SummaryModel      string        `yaml:"summary_model"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float64       `yaml:"temperature"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
}

type HistoryConfig struct {
	MaxEntries int `yaml:"max_entries"`
	KeepTail   int `yaml:"keep_tail"`
}

type ThemesConfig struct {
	CatalogFile string        `yaml:"catalog_file"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.AI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.AI.BaseURL = baseURL
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 256
	}
	if c.Server.ReconnectGrace == 0 {
		c.Server.ReconnectGrace = 2 * time.Minute
	}
	if c.Server.TurnLimit == 0 {
		c.Server.TurnLimit = 10
	}
	if c.Server.TurnWindow == 0 {
		c.Server.TurnWindow = time.Minute
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data/adventures"
	}
	if c.AI.GenerationTimeout == 0 {
		c.AI.GenerationTimeout = 90 * time.Second
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = 2000
	}
	if c.History.MaxEntries == 0 {
		c.History.MaxEntries = 200
	}
	if c.History.KeepTail == 0 {
		c.History.KeepTail = 40
	}
	if c.Themes.CacheTTL == 0 {
		c.Themes.CacheTTL = 24 * time.Hour
	}
}
