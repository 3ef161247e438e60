package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls invite API behavior and abuse limits.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// InviteMaxTTL caps expires_in_seconds on create.
	InviteMaxTTL time.Duration

	RedeemRateEvents int
	RedeemRateWindow time.Duration
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:       envBool("BACKSTAGE_TRUST_PROXY", false),
		MaxBodyBytes:     envInt64("BACKSTAGE_API_MAX_BODY_BYTES", 64<<10),
		InviteMaxTTL:     envDuration("BACKSTAGE_INVITE_MAX_TTL", 90*24*time.Hour),
		RedeemRateEvents: envInt("BACKSTAGE_REDEEM_RATE_EVENTS", 30),
		RedeemRateWindow: envDuration("BACKSTAGE_REDEEM_RATE_WINDOW", time.Minute),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
	if c.InviteMaxTTL <= 0 {
		c.InviteMaxTTL = 90 * 24 * time.Hour
	}
	if c.RedeemRateWindow <= 0 {
		c.RedeemRateWindow = time.Minute
	}
	return c
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// envInt accepts 0 so operators can disable the redeem throttle.
func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
