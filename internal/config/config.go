package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/dkeye/televisit/internal/domain"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Relay RelayConfig `mapstructure:"relay"`
	Dial  DialConfig  `mapstructure:"dial"`
	Agent AgentConfig `mapstructure:"agent"`
}

// RelayConfig covers both sides of the credential service: the servers
// the signaling server hands out, and where an agent fetches them from.
type RelayConfig struct {
	Servers  []domain.RelayServer `mapstructure:"servers"`
	Endpoint string               `mapstructure:"endpoint"`
	Timeout  time.Duration        `mapstructure:"timeout"`
	Fallback []domain.RelayServer `mapstructure:"fallback"`
}

// DialConfig paces outbound dialing: Interval is the agent's dial loop
// period, RateBurst and RateInterval bound dials per address at the
// switchboard.
type DialConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	RateBurst    int           `mapstructure:"rate_burst"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type AgentConfig struct {
	Session        string `mapstructure:"session"`
	Role           string `mapstructure:"role"`
	Name           string `mapstructure:"name"`
	RemoteName     string `mapstructure:"remote_name"`
	SignalURL      string `mapstructure:"signal_url"`
	AppointmentURL string `mapstructure:"appointment_url"`
	StatusAddr     string `mapstructure:"status_addr"`
	// Loopback lets both participants run on one host.
	Loopback bool `mapstructure:"loopback"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"session":         "agent.session",
	"role":            "agent.role",
	"name":            "agent.name",
	"remote-name":     "agent.remote_name",
	"signal-url":      "agent.signal_url",
	"relay-url":       "relay.endpoint",
	"appointment-url": "agent.appointment_url",
	"status-addr":     "agent.status_addr",
	"loopback":        "agent.loopback",
	"log-level":       "log_level",
	"port":            "port",
}

// LoadEnv loads ENV_FILE (default .env) into the environment. A missing
// file is not an error.
func LoadEnv() error {
	envfile := os.Getenv("ENV_FILE")
	var err error
	if envfile == "" {
		err = godotenv.Load()
	} else {
		err = godotenv.Load(envfile)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads config/config.<CONFIG_ENV>.yaml, then TELEVISIT_* environment
// variables, then any flags in flags that were set explicitly.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("televisit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("relay.timeout", "3s")
	v.SetDefault("dial.interval", "3s")
	v.SetDefault("dial.rate_burst", 5)
	v.SetDefault("dial.rate_interval", "1s")
	v.SetDefault("agent.status_addr", "127.0.0.1:8090")
	v.SetDefault("agent.signal_url", "ws://127.0.0.1:8080/api/ws/signal")
	v.SetDefault("agent.role", "Doctor")
	v.SetDefault("agent.loopback", false)
	// Keys must be known to viper for env overrides to reach Unmarshal.
	for _, key := range []string{"secret", "relay.endpoint", "agent.session", "agent.name", "agent.remote_name", "agent.appointment_url"} {
		v.SetDefault(key, "")
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}
