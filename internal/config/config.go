package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

type Config struct {
	Port    int           `mapstructure:"port"`
	Log     LogConfig     `mapstructure:"log"`
	Songs   SongsConfig   `mapstructure:"songs"`
	Scoring ScoringConfig `mapstructure:"scoring"`
	Hub     HubConfig     `mapstructure:"hub"`
	Lobby   LobbyConfig   `mapstructure:"lobby"`
	WS      WSConfig      `mapstructure:"ws"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SongsConfig struct {
	Dir            string        `mapstructure:"dir"`
	AudioDir       string        `mapstructure:"audio_dir"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"` // 0 disables reloads
}

type ScoringConfig struct {
	Tick time.Duration `mapstructure:"tick"`
}

type HubConfig struct {
	LivenessInterval time.Duration `mapstructure:"liveness_interval"`
	SendQueueSize    int           `mapstructure:"send_queue_size"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	InboundRate      float64       `mapstructure:"inbound_rate"`
	InboundBurst     int           `mapstructure:"inbound_burst"`
}

type LobbyConfig struct {
	MaxPlayersCap int `mapstructure:"max_players_cap"`
}

type WSConfig struct {
	AllowedOrigins string `mapstructure:"allowed_origins"` // comma separated
}

// Origins splits the configured origin patterns.
func (c WSConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

var bindings = []struct {
	key, env string
	def      any
}{
	{"port", "PORT", 3000},
	{"log.level", "LOG_LEVEL", "info"},
	{"log.format", "LOG_FORMAT", "json"},
	{"songs.dir", "SONGS_DIR", ""},
	{"songs.audio_dir", "AUDIO_DIR", "./audio"},
	{"songs.reload_interval", "CATALOG_RELOAD_INTERVAL", "0s"},
	{"scoring.tick", "SCORING_TICK", "500ms"},
	{"hub.liveness_interval", "LIVENESS_INTERVAL", "30s"},
	{"hub.send_queue_size", "SEND_QUEUE_SIZE", 64},
	{"hub.write_timeout", "WRITE_TIMEOUT", "5s"},
	{"hub.inbound_rate", "INBOUND_RATE", 60.0},
	{"hub.inbound_burst", "INBOUND_BURST", 120},
	{"lobby.max_players_cap", "MAX_PLAYERS_CAP", 8},
	{"ws.allowed_origins", "ALLOWED_ORIGINS", ""},
}

// Load reads an optional dotenv file, then binds the environment over the
// defaults. A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var err error
	if c.Port <= 0 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.Scoring.Tick <= 0 {
		err = multierr.Append(err, errors.New("SCORING_TICK must be positive"))
	}
	if c.Hub.LivenessInterval <= 0 {
		err = multierr.Append(err, errors.New("LIVENESS_INTERVAL must be positive"))
	}
	if c.Hub.SendQueueSize <= 0 {
		err = multierr.Append(err, errors.New("SEND_QUEUE_SIZE must be positive"))
	}
	if c.Hub.WriteTimeout <= 0 {
		err = multierr.Append(err, errors.New("WRITE_TIMEOUT must be positive"))
	}
	if c.Songs.ReloadInterval < 0 {
		err = multierr.Append(err, errors.New("CATALOG_RELOAD_INTERVAL must not be negative"))
	}
	if c.Lobby.MaxPlayersCap < 1 {
		err = multierr.Append(err, errors.New("MAX_PLAYERS_CAP must be at least 1"))
	}
	return err
}

func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
