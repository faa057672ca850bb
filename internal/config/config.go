package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Battle   BattleConfig   `mapstructure:"battle"`
	Events   EventsConfig   `mapstructure:"events"`
}

// ServerConfig holds the listener addresses for both hosting shells.
type ServerConfig struct {
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// WebSocketConfig configures the PvP socket listener.
type WebSocketConfig struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// HTTPConfig configures the stateless PvE listener.
type HTTPConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig configures the pgx connection pool.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// DSN builds a pgx connection string from the configured fields.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// LoggingConfig controls zap logger construction.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BattleConfig carries the battle rule constants shared by both shells.
type BattleConfig struct {
	DeckSize        int           `mapstructure:"deck_size"`
	HandSize        int           `mapstructure:"hand_size"`
	BenchSize       int           `mapstructure:"bench_size"`
	KnockoutTarget  int           `mapstructure:"knockout_target"`
	DrawInterval    int           `mapstructure:"draw_interval"`
	SelectionTimer  time.Duration `mapstructure:"selection_timer"`
	CleanupGrace    time.Duration `mapstructure:"cleanup_grace"`
	CardIndexPath   string        `mapstructure:"card_index_path"`
	UseCardIndex    bool          `mapstructure:"use_card_index"`
	MaxEnergyOnCard int           `mapstructure:"max_energy_on_card"`
}

// EventsConfig configures the optional NATS publisher.
type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

// Load reads configuration from the given YAML file, applying defaults
// and BATTLESERVER_* environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BATTLESERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file falls back to defaults; a malformed file does not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.websocket.address", ":4000")
	v.SetDefault("server.websocket.path", "/ws")
	v.SetDefault("server.http.address", ":8080")
	v.SetDefault("server.http.read_timeout", 15*time.Second)
	v.SetDefault("server.http.write_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "battle")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "battle")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("battle.deck_size", 15)
	v.SetDefault("battle.hand_size", 5)
	v.SetDefault("battle.bench_size", 3)
	v.SetDefault("battle.knockout_target", 3)
	v.SetDefault("battle.draw_interval", 3)
	v.SetDefault("battle.selection_timer", 60*time.Second)
	v.SetDefault("battle.cleanup_grace", 60*time.Second)
	v.SetDefault("battle.card_index_path", "config/cards.json")
	v.SetDefault("battle.use_card_index", false)
	v.SetDefault("battle.max_energy_on_card", 10)

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject", "battles.completed")
}

func (c *Config) validate() error {
	if c.Battle.DeckSize <= 0 {
		return fmt.Errorf("battle.deck_size must be positive, got %d", c.Battle.DeckSize)
	}
	if c.Battle.HandSize < 0 || c.Battle.HandSize > c.Battle.DeckSize {
		return fmt.Errorf("battle.hand_size must be within [0, deck_size], got %d", c.Battle.HandSize)
	}
	if c.Battle.BenchSize <= 0 {
		return fmt.Errorf("battle.bench_size must be positive, got %d", c.Battle.BenchSize)
	}
	if c.Battle.KnockoutTarget <= 0 {
		return fmt.Errorf("battle.knockout_target must be positive, got %d", c.Battle.KnockoutTarget)
	}
	if c.Battle.DrawInterval <= 0 {
		return fmt.Errorf("battle.draw_interval must be positive, got %d", c.Battle.DrawInterval)
	}
	return nil
}
