// Package config loads, validates and persists the mori configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mori-project/mori/internal/session"
	"github.com/mori-project/mori/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 3000
	DefaultServerPort = 17091
)

// Config is the root configuration.
type Config struct {
	mu   sync.RWMutex
	path string

	Server     ServerConfig       `json:"server" yaml:"server"`
	Items      ItemsConfig        `json:"items" yaml:"items"`
	Automation session.Automation `json:"automation" yaml:"automation"`
	Delays     session.Delays     `json:"delays" yaml:"delays"`
	API        APIConfig          `json:"api" yaml:"api"`
	MQTT       MQTTConfig         `json:"mqtt" yaml:"mqtt"`
	Logging    util.LogConfig     `json:"logging" yaml:"logging"`
	Storage    StorageConfig      `json:"storage" yaml:"storage"`
	Health     HealthConfig       `json:"health" yaml:"health"`
	Notify     NotifyConfig       `json:"notify" yaml:"notify"`
	Bots       []BotConfig        `json:"bots" yaml:"bots"`
}

// ServerConfig is the game server every new bot connects to first.
type ServerConfig struct {
	Host          string `json:"host" yaml:"host" env:"MORI_SERVER_HOST" validate:"required"`
	Port          int    `json:"port" yaml:"port" env:"MORI_SERVER_PORT" validate:"min=1,max=65535"`
	ServerDataURL string `json:"server_data_url" yaml:"server_data_url"`
	UseHTTPS      bool   `json:"use_https" yaml:"use_https"`
	// SkipLoginURL connects straight to Host:Port instead of asking the
	// server-data endpoint for the address.
	SkipLoginURL bool `json:"skip_login_url" yaml:"skip_login_url"`
}

// DataURL is the server-data endpoint.
func (s ServerConfig) DataURL() string {
	scheme := "http"
	if s.UseHTTPS {
		scheme = "https"
	}
	host := s.ServerDataURL
	if host == "" {
		host = s.Host
	}
	return fmt.Sprintf("%s://%s/growtopia/server_data.php", scheme, host)
}

// ItemsConfig locates the item database.
type ItemsConfig struct {
	Path string `json:"path" yaml:"path" env:"MORI_ITEMS_PATH"`
	// CatalogFile optionally seeds the SQLite item catalog at startup.
	CatalogFile string `json:"catalog_file" yaml:"catalog_file"`
}

// APIConfig configures the HTTP front end.
type APIConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Port           int      `json:"port" yaml:"port" env:"MORI_API_PORT" validate:"min=1,max=65535"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	// Token, when set, is required as a bearer token on every /api route.
	Token string `json:"token" yaml:"token" env:"MORI_API_TOKEN"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	BrokerURL   string `json:"broker_url" yaml:"broker_url" env:"MORI_MQTT_BROKER"`
	Port        int    `json:"port" yaml:"port"`
	UseTLS      bool   `json:"use_tls" yaml:"use_tls"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `json:"path" yaml:"path" env:"MORI_DB_PATH"`
	// LogRetention is how many persisted log lines are kept per bot.
	LogRetention int `json:"log_retention" yaml:"log_retention"`
	// RetentionDays drops persisted log lines older than this many days in
	// the daily cleanup run at CleanupTime (HH:MM, local time). Zero keeps
	// lines forever.
	RetentionDays int    `json:"retention_days" yaml:"retention_days" validate:"min=0"`
	CleanupTime   string `json:"cleanup_time" yaml:"cleanup_time"`
}

// HealthConfig tunes the periodic bot and host checks. Intervals are in
// seconds; zero disables a check.
type HealthConfig struct {
	CheckInterval     int     `json:"check_interval" yaml:"check_interval" validate:"min=0"`
	HeartbeatInterval int     `json:"heartbeat_interval" yaml:"heartbeat_interval" validate:"min=0"`
	DiskInterval      int     `json:"disk_interval" yaml:"disk_interval" validate:"min=0"`
	HighPingMillis    uint32  `json:"high_ping_ms" yaml:"high_ping_ms"`
	StuckAfter        int     `json:"stuck_after" yaml:"stuck_after" validate:"min=0"`
	DiskWarnPercent   float64 `json:"disk_warn_percent" yaml:"disk_warn_percent" validate:"min=0,max=100"`
}

// BotConfig is a bot created at startup.
type BotConfig struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	GrowID   string `json:"growid" yaml:"growid"`
	Password string `json:"password" yaml:"password" validate:"required_with=GrowID"`
	// Script is a Lua file started once the bot is created.
	Script      string `json:"script" yaml:"script"`
	AutoConnect bool   `json:"auto_connect" yaml:"auto_connect"`
}

// Credentials returns the session credentials for b.
func (b BotConfig) Credentials() session.Credentials {
	return session.Credentials{GrowID: b.GrowID, Password: b.Password}
}

// NotifyConfig configures webhook alerts. An empty WebhookURL disables them.
type NotifyConfig struct {
	WebhookURL   string `json:"webhook_url" yaml:"webhook_url" env:"MORI_WEBHOOK_URL" validate:"omitempty,url"`
	OnHealth     bool   `json:"on_health" yaml:"on_health"`
	OnDisconnect bool   `json:"on_disconnect" yaml:"on_disconnect"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         DefaultServerPort,
			SkipLoginURL: true,
		},
		Items:      ItemsConfig{Path: "items.dat"},
		Automation: session.DefaultAutomation(),
		Delays:     session.DefaultDelays(),
		API: APIConfig{
			Enabled:        true,
			Port:           DefaultAPIPort,
			AllowedOrigins: []string{"*"},
			RateLimitRPS:   50,
		},
		MQTT: MQTTConfig{
			Port:        1883,
			ClientID:    "mori",
			TopicPrefix: "mori",
		},
		Logging: util.DefaultLogConfig(),
		Storage: StorageConfig{
			Path:          "data/mori.db",
			LogRetention:  2000,
			RetentionDays: 14,
			CleanupTime:   "04:00",
		},
		Health: HealthConfig{
			CheckInterval:     30,
			HeartbeatInterval: 60,
			DiskInterval:      600,
			HighPingMillis:    500,
			StuckAfter:        120,
			DiskWarnPercent:   90,
		},
		Notify: NotifyConfig{OnHealth: true, OnDisconnect: true},
	}
}

// DefaultPath is the configuration file used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultConfigDir, DefaultConfigFile)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads the configuration at path over the defaults, writing a default
// file when none exists. Environment variables are applied last and are not
// persisted.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info().Str("path", path).Msg("config file not found, creating default")
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("configuration loaded")

		// Persist fields added since the file was written.
		if err := cfg.Save(); err != nil {
			log.Warn().Err(err).Msg("failed to re-save config with updated defaults")
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	if isYAML(c.path) {
		return yaml.Unmarshal(data, c)
	}
	return json.Unmarshal(data, c)
}

// Save writes the configuration to its file in the format its extension names.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(c.path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// GetBots returns a copy of the configured bots.
func (c *Config) GetBots() []BotConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]BotConfig(nil), c.Bots...)
}

// AddBot appends b, replacing any bot of the same name.
func (c *Config) AddBot(b BotConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Bots {
		if c.Bots[i].Name == b.Name {
			c.Bots[i] = b
			return
		}
	}
	c.Bots = append(c.Bots, b)
}

// RemoveBot drops the bot named name and reports whether it existed.
func (c *Config) RemoveBot(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Bots {
		if c.Bots[i].Name == name {
			c.Bots = append(c.Bots[:i], c.Bots[i+1:]...)
			return true
		}
	}
	return false
}

// IsFirstRun reports whether no bot has been configured yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Bots) == 0
}
