package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICE struct {
	Servers             []string      `mapstructure:"servers"`
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout"`
	KeepaliveInterval   time.Duration `mapstructure:"keepalive_interval"`
	IncludeLoopback     bool          `mapstructure:"include_loopback"`
}

type Sync struct {
	Interval       time.Duration `mapstructure:"interval"`
	DriftThreshold time.Duration `mapstructure:"drift_threshold"`
}

type Capture struct {
	SampleRate int `mapstructure:"sample_rate"`
	ChunkSize  int `mapstructure:"chunk_size"`
}

type Audio struct {
	VolumeRamp time.Duration `mapstructure:"volume_ramp"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	DBPath     string        `mapstructure:"db_path"`
	RelayURL   string        `mapstructure:"relay_url"`

	ICE     ICE     `mapstructure:"ice"`
	Sync    Sync    `mapstructure:"sync"`
	Capture Capture `mapstructure:"capture"`
	Audio   Audio   `mapstructure:"audio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8000)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("secret", "audiosync-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_path", "audiosync.db")
	v.SetDefault("relay_url", "ws://localhost:8000")

	v.SetDefault("ice.servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.disconnected_timeout", "5s")
	v.SetDefault("ice.failed_timeout", "10s")
	v.SetDefault("ice.keepalive_interval", "2s")
	v.SetDefault("ice.include_loopback", false)

	v.SetDefault("sync.interval", "100ms")
	v.SetDefault("sync.drift_threshold", "50ms")
	v.SetDefault("capture.sample_rate", 44100)
	v.SetDefault("capture.chunk_size", 4096)
	v.SetDefault("audio.volume_ramp", "30ms")
}

// New returns a viper instance with defaults, env overrides and the
// environment's yaml file (if any) applied. Callers may bind flags to it
// before calling Decode.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("AUDIOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
	return v
}

func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func Load() (*Config, error) {
	cfg, err := Decode(New())
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return cfg, nil
}

// ApplyLogLevel sets the global zerolog level; unknown names keep info.
func (c *Config) ApplyLogLevel() {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
