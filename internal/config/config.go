package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pws/pws/internal/platform/db"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"ENV"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	DBMaxConnIdleTime   time.Duration `mapstructure:"DB_MAX_CONN_IDLE_TIME"`
	DBHealthCheckPeriod time.Duration `mapstructure:"DB_HEALTH_CHECK_PERIOD"`

	JWTSecret        string        `mapstructure:"JWT_SECRET"`
	RefreshJWTSecret string        `mapstructure:"REFRESH_JWT_SECRET"`
	JWTIssuer        string        `mapstructure:"JWT_ISSUER"`
	AccessTokenTTL   time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL  time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`
	CookieSecure     bool          `mapstructure:"COOKIE_SECURE"`
	CookieSameSite   string        `mapstructure:"COOKIE_SAMESITE"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`

	// TrustedProxies lists proxy addresses or CIDRs allowed to set
	// X-Forwarded-For. Empty means the peer address is the client.
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES"`

	RedisURL string        `mapstructure:"REDIS_URL"`
	CacheTTL time.Duration `mapstructure:"CACHE_TTL"`
	AMQPURL  string        `mapstructure:"AMQP_URL"`

	AuditQueueSize     int           `mapstructure:"AUDIT_QUEUE_SIZE"`
	AuditMaxAttempts   int           `mapstructure:"AUDIT_MAX_ATTEMPTS"`
	AuditRetentionDays int           `mapstructure:"AUDIT_RETENTION_DAYS"`
	AuditSweepInterval time.Duration `mapstructure:"AUDIT_SWEEP_INTERVAL"`

	AllowDoctorProfileUpdate           bool `mapstructure:"ALLOW_DOCTOR_PROFILE_UPDATE"`
	AllowDoctorAppointmentStatusUpdate bool `mapstructure:"ALLOW_DOCTOR_APPOINTMENT_STATUS_UPDATE"`
	AllowAdminMedicalRecordWrite       bool `mapstructure:"ALLOW_ADMIN_MEDICAL_RECORD_WRITE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"DB_MAX_CONN_IDLE_TIME", "DB_HEALTH_CHECK_PERIOD",
	"JWT_SECRET", "REFRESH_JWT_SECRET", "JWT_ISSUER", "ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL",
	"COOKIE_SECURE", "COOKIE_SAMESITE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "TRUSTED_PROXIES",
	"REDIS_URL", "CACHE_TTL", "AMQP_URL",
	"AUDIT_QUEUE_SIZE", "AUDIT_MAX_ATTEMPTS", "AUDIT_RETENTION_DAYS", "AUDIT_SWEEP_INTERVAL",
	"ALLOW_DOCTOR_PROFILE_UPDATE", "ALLOW_DOCTOR_APPOINTMENT_STATUS_UPDATE", "ALLOW_ADMIN_MEDICAL_RECORD_WRITE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("DB_MAX_CONN_IDLE_TIME", "30m")
	v.SetDefault("DB_HEALTH_CHECK_PERIOD", "1m")
	v.SetDefault("JWT_ISSUER", "pws")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h")
	v.SetDefault("COOKIE_SAMESITE", "lax")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("AUDIT_QUEUE_SIZE", 1024)
	v.SetDefault("AUDIT_MAX_ATTEMPTS", 3)
	v.SetDefault("AUDIT_RETENTION_DAYS", 90)
	v.SetDefault("AUDIT_SWEEP_INTERVAL", "24h")
	v.SetDefault("ALLOW_DOCTOR_PROFILE_UPDATE", true)
	v.SetDefault("ALLOW_DOCTOR_APPOINTMENT_STATUS_UPDATE", true)
	v.SetDefault("ALLOW_ADMIN_MEDICAL_RECORD_WRITE", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.TrustedProxies = splitList(v.GetString("TRUSTED_PROXIES"))

	// Secure cookies unless explicitly disabled; development defaults to plain HTTP.
	if !v.IsSet("COOKIE_SECURE") || v.GetString("COOKIE_SECURE") == "" {
		cfg.CookieSecure = !cfg.IsDev()
	}
	cfg.CookieSameSite = strings.ToLower(cfg.CookieSameSite)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// PoolConfig returns the database pool settings.
func (c *Config) PoolConfig() db.PoolConfig {
	return db.PoolConfig{
		URL:               c.DatabaseURL,
		MaxConns:          c.DBMaxConns,
		MinConns:          c.DBMinConns,
		MaxConnIdleTime:   c.DBMaxConnIdleTime,
		HealthCheckPeriod: c.DBHealthCheckPeriod,
		ApplicationName:   "pws-server",
	}
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// both token secrets must be set and must differ.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
		}
		if c.RefreshJWTSecret == "" {
			return fmt.Errorf("REFRESH_JWT_SECRET is required when ENV=%q", c.Env)
		}
		if c.JWTSecret == c.RefreshJWTSecret {
			return fmt.Errorf("JWT_SECRET and REFRESH_JWT_SECRET must differ")
		}
	}

	if c.IsProduction() && !c.CookieSecure {
		return fmt.Errorf("COOKIE_SECURE cannot be disabled when ENV=production")
	}

	for _, p := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", p)
		}
	}

	switch c.CookieSameSite {
	case "lax", "strict":
	default:
		return fmt.Errorf("COOKIE_SAMESITE must be \"lax\" or \"strict\", got %q", c.CookieSameSite)
	}

	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL and REFRESH_TOKEN_TTL must be positive")
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}

	if c.AuditQueueSize <= 0 {
		return fmt.Errorf("AUDIT_QUEUE_SIZE must be positive, got %d", c.AuditQueueSize)
	}
	if c.AuditMaxAttempts <= 0 {
		return fmt.Errorf("AUDIT_MAX_ATTEMPTS must be positive, got %d", c.AuditMaxAttempts)
	}
	if c.AuditRetentionDays <= 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be positive, got %d", c.AuditRetentionDays)
	}

	return nil
}
