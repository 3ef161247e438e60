package app

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable with BACKSTAGE_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	// Store is one of memory, postgres or redis.
	Store string

	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	DBSchema       string
	DBAutoMigrate  bool
	RedisURL       string
	RedisKeyPrefix string

	// If true, /readyz returns 503 when the store is in-memory.
	ReadinessRequireStore bool

	AdminJWTSecret string
	AdminRoles     []string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WSOriginRequired   bool
	WSAllowedOrigins   []string
	WSDevInsecure      bool
	WSSendQueueSize    int
	WSHeartbeatEvery   time.Duration
	WSHeartbeatTimeout time.Duration

	// If true, BACKSTAGE_LOG_HMAC_KEY MUST be set (>= 32 bytes) so logged code fingerprints are keyed.
	RequireLogHMAC bool
}

// LoadDotEnv loads .env files into the process environment.
// Variables that are already set win; a missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return err
		}
	}
	return nil
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	cfg := Config{
		HTTPAddr:  EnvString("BACKSTAGE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BACKSTAGE_LOG_LEVEL", "info"),
		LogFormat: EnvString("BACKSTAGE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BACKSTAGE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BACKSTAGE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BACKSTAGE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BACKSTAGE_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("BACKSTAGE_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("BACKSTAGE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:    EnvString("BACKSTAGE_DATABASE_URL", ""),
		DBMaxConns:     EnvInt32("BACKSTAGE_DB_MAX_CONNS", 10),
		DBMinConns:     EnvInt32("BACKSTAGE_DB_MIN_CONNS", 0),
		DBSchema:       EnvString("BACKSTAGE_DB_SCHEMA", "backstage"),
		DBAutoMigrate:  EnvBool("BACKSTAGE_DB_AUTO_MIGRATE", false),
		RedisURL:       EnvString("BACKSTAGE_REDIS_URL", ""),
		RedisKeyPrefix: EnvString("BACKSTAGE_REDIS_PREFIX", "backstage:invite:"),

		ReadinessRequireStore: EnvBool("BACKSTAGE_READINESS_REQUIRE_STORE", false),

		AdminJWTSecret: EnvString("BACKSTAGE_ADMIN_JWT_SECRET", ""),
		AdminRoles:     EnvCSV("BACKSTAGE_ADMIN_ROLES", []string{"service_role", "admin"}),

		CORSAllowedOrigins:   EnvCSV("BACKSTAGE_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("BACKSTAGE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("BACKSTAGE_CORS_MAX_AGE_SECONDS", 600),

		WSOriginRequired:   EnvBool("BACKSTAGE_WS_ORIGIN_REQUIRED", true),
		WSAllowedOrigins:   EnvCSV("BACKSTAGE_WS_ALLOWED_ORIGINS", []string{"http://localhost", "http://127.0.0.1"}),
		WSDevInsecure:      EnvBool("BACKSTAGE_WS_DEV_INSECURE", false),
		WSSendQueueSize:    EnvInt("BACKSTAGE_WS_SEND_QUEUE_SIZE", 256),
		WSHeartbeatEvery:   EnvDuration("BACKSTAGE_WS_HEARTBEAT_EVERY", 25*time.Second),
		WSHeartbeatTimeout: EnvDuration("BACKSTAGE_WS_HEARTBEAT_TIMEOUT", 5*time.Second),

		RequireLogHMAC: EnvBool("BACKSTAGE_REQUIRE_LOG_HMAC", false),
	}
	cfg.Store = resolveStore(EnvString("BACKSTAGE_STORE", ""), cfg.DatabaseURL)
	return cfg
}

// resolveStore defaults to postgres when a database URL is present.
func resolveStore(raw, databaseURL string) string {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case StoreMemory, StorePostgres, StoreRedis:
		return s
	case "":
		if databaseURL != "" {
			return StorePostgres
		}
		return StoreMemory
	default:
		return s
	}
}
