package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the consistency core.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	JWTSecret         string
	EventChannelBase  string
	HeartbeatInterval time.Duration
	LeaseExpiry       time.Duration
	DetectorAnnounce  time.Duration
	DetectorProbe     time.Duration
	DetectorGrace     time.Duration
	RollupCacheTTL    time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PROVEX")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Provex API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel_base", "provex")
	v.SetDefault("lease.heartbeat_interval", "10s")
	v.SetDefault("lease.expiry", "")
	v.SetDefault("detector.announce_interval", "500ms")
	v.SetDefault("detector.probe_interval", "1s")
	v.SetDefault("detector.grace_window", "3s")
	v.SetDefault("rollup.cache_ttl", "5m")

	heartbeat, err := parseDuration(v, "lease.heartbeat_interval", 10*time.Second)
	if err != nil {
		return Config{}, err
	}

	// Expiry defaults to three heartbeat intervals, inside the
	// recommended 2-5x band.
	expiry := 3 * heartbeat
	if raw := v.GetString("lease.expiry"); raw != "" {
		expiry, err = time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid lease expiry: %w", err)
		}
	}

	announce, err := parseDuration(v, "detector.announce_interval", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	probe, err := parseDuration(v, "detector.probe_interval", time.Second)
	if err != nil {
		return Config{}, err
	}
	grace, err := parseDuration(v, "detector.grace_window", 3*time.Second)
	if err != nil {
		return Config{}, err
	}
	rollupTTL, err := parseDuration(v, "rollup.cache_ttl", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		JWTSecret:         v.GetString("jwt.secret"),
		EventChannelBase:  v.GetString("events.channel_base"),
		HeartbeatInterval: heartbeat,
		LeaseExpiry:       expiry,
		DetectorAnnounce:  announce,
		DetectorProbe:     probe,
		DetectorGrace:     grace,
		RollupCacheTTL:    rollupTTL,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.LeaseExpiry < cfg.HeartbeatInterval {
		return Config{}, fmt.Errorf("lease expiry must not be shorter than the heartbeat interval")
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return parsed, nil
}
