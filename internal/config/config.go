package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

type Config struct {
	SignalURL  string `mapstructure:"signal_url"`
	Token      string `mapstructure:"token"`
	UserID     string `mapstructure:"user_id"`
	BrokerAddr string `mapstructure:"broker_addr"`
	Mode       string `mapstructure:"mode"`

	// RPC timeouts by operation weight.
	RPCTimeout  time.Duration `mapstructure:"rpc_timeout"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`

	// Retry policy for join, transport-connect and track production.
	MaxJoinAttempts  int           `mapstructure:"max_join_attempts"`
	MaxTrackAttempts int           `mapstructure:"max_track_attempts"`
	// Audio gets its own cap: audio is essential, so it may be raised
	// independently, but it is never unbounded.
	MaxAudioAttempts int           `mapstructure:"max_audio_attempts"`
	RetryInitial     time.Duration `mapstructure:"retry_initial"`
	RetryMax         time.Duration `mapstructure:"retry_max"`
	RetryMultiplier  float64       `mapstructure:"retry_multiplier"`

	// Delay before a failed transport is recreated.
	RecoveryDelay time.Duration `mapstructure:"recovery_delay"`

	STUNServers []string `mapstructure:"stun_servers"`
}

func Load() (*Config, error) {
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

	v.SetDefault("mode", "release")
	v.SetDefault("rpc_timeout", "5s")
	v.SetDefault("join_timeout", "15s")
	v.SetDefault("max_join_attempts", 5)
	v.SetDefault("max_track_attempts", 5)
	v.SetDefault("max_audio_attempts", 5)
	v.SetDefault("retry_initial", "500ms")
	v.SetDefault("retry_max", "3s")
	v.SetDefault("retry_multiplier", 1.5)
	v.SetDefault("recovery_delay", "2s")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetEnvPrefix("BONDCALL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Identity returns the authenticated identity this context runs as.
// Missing pieces are a hard precondition failure for any session.
func (c *Config) Identity() (domain.Identity, error) {
	id := domain.Identity{UserID: domain.UserID(c.UserID), Token: c.Token}
	if err := id.Validate(); err != nil {
		return domain.Identity{}, err
	}
	if c.SignalURL == "" {
		return domain.Identity{}, fmt.Errorf("signal_url missing")
	}
	return id, nil
}
