package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Redis      RedisConfig               `mapstructure:"redis"`
	JWT        JWTConfig                 `mapstructure:"jwt"`
	Admin      AdminConfig               `mapstructure:"admin"`
	Security   SecurityConfig            `mapstructure:"security"`
	Platforms  map[string]PlatformConfig `mapstructure:"platforms"`
	Processing ProcessingConfig          `mapstructure:"processing"`
	Alerts     AlertsConfig              `mapstructure:"alerts"`
	Health     HealthConfig              `mapstructure:"health"`
	Retention  RetentionConfig           `mapstructure:"retention"`
	Logging    LoggingConfig             `mapstructure:"logging"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	TrustProxyHeaders bool          `mapstructure:"trust_proxy_headers"`
}

type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver         string `mapstructure:"driver"`
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type RedisConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`
	KeyPrefix  string   `mapstructure:"key_prefix"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	// LoginRateLimit is token requests per minute per client IP.
	LoginRateLimit int `mapstructure:"login_rate_limit"`
}

type SecurityConfig struct {
	MaxPayloadBytes       int64         `mapstructure:"max_payload_bytes"`
	AllowedIPs            []string      `mapstructure:"allowed_ips"`
	RateLimitWindow       time.Duration `mapstructure:"rate_limit_window"`
	DefaultRateLimit      int           `mapstructure:"default_rate_limit"`
	TimestampTolerance    time.Duration `mapstructure:"timestamp_tolerance"`
	ViolationTTL          time.Duration `mapstructure:"violation_ttl"`
	SignatureFailureAlert int           `mapstructure:"signature_failure_alert"`
	ViolationAlert        int           `mapstructure:"violation_alert"`
	AutoBlockThreshold    int           `mapstructure:"auto_block_threshold"`
	AutoBlockTTL          time.Duration `mapstructure:"auto_block_ttl"`
}

type PlatformConfig struct {
	AppSecret   string `mapstructure:"app_secret"`
	VerifyToken string `mapstructure:"verify_token"`
	RateLimit   int    `mapstructure:"rate_limit"`
	BodyOnly    bool   `mapstructure:"body_only"`
}

type ProcessingConfig struct {
	Workers        int             `mapstructure:"workers"`
	MaxRetries     int             `mapstructure:"max_retries"`
	Backoff        []time.Duration `mapstructure:"backoff"`
	JobTimeout     time.Duration   `mapstructure:"job_timeout"`
	PollInterval   time.Duration   `mapstructure:"poll_interval"`
	LeaseDuration  time.Duration   `mapstructure:"lease_duration"`
	Embedded       bool            `mapstructure:"embedded"`
	BreakerTimeout time.Duration   `mapstructure:"breaker_timeout"`
	// StaleAfter is how long an event may sit in processing before the
	// recovery loop fails it.
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	RecoverInterval time.Duration `mapstructure:"recover_interval"`
}

type AlertsConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	// SigningSecret signs alert deliveries as X-Hookgate-Signature.
	SigningSecret string        `mapstructure:"signing_secret"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type HealthConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	SnapshotTTL           time.Duration `mapstructure:"snapshot_ttl"`
	Window                time.Duration `mapstructure:"window"`
	FailureRatioWarning   float64       `mapstructure:"failure_ratio_warning"`
	FailureRatioCritical  float64       `mapstructure:"failure_ratio_critical"`
	MinSamples            int           `mapstructure:"min_samples"`
	SignatureFailuresWarn int           `mapstructure:"signature_failures_warning"`
}

type RetentionConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Events   time.Duration `mapstructure:"events"`
	Attempts time.Duration `mapstructure:"attempts"`
	Metrics  time.Duration `mapstructure:"metrics"`
	Audit    time.Duration `mapstructure:"audit"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// Platform returns the settings for a platform, or the zero value when unset.
func (c *Config) Platform(name string) PlatformConfig {
	if c.Platforms == nil {
		return PlatformConfig{}
	}
	return c.Platforms[strings.ToLower(name)]
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.url", "file:data/hookgate.db")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("redis.key_prefix", "hookgate:")

	v.SetDefault("jwt.access_token_ttl", time.Hour)
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.login_rate_limit", 10)

	v.SetDefault("security.max_payload_bytes", 1<<20)
	v.SetDefault("security.rate_limit_window", time.Minute)
	v.SetDefault("security.default_rate_limit", 30)
	v.SetDefault("security.timestamp_tolerance", 300*time.Second)
	v.SetDefault("security.violation_ttl", time.Hour)
	v.SetDefault("security.signature_failure_alert", 10)
	v.SetDefault("security.violation_alert", 50)
	v.SetDefault("security.auto_block_threshold", 20)
	v.SetDefault("security.auto_block_ttl", time.Hour)

	v.SetDefault("platforms.facebook.rate_limit", 100)
	v.SetDefault("platforms.instagram.rate_limit", 100)
	v.SetDefault("platforms.twitter.rate_limit", 60)
	v.SetDefault("platforms.linkedin.rate_limit", 50)

	v.SetDefault("processing.workers", 4)
	v.SetDefault("processing.max_retries", 3)
	v.SetDefault("processing.backoff", []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second})
	v.SetDefault("processing.job_timeout", 30*time.Second)
	v.SetDefault("processing.poll_interval", time.Second)
	v.SetDefault("processing.lease_duration", 2*time.Minute)
	v.SetDefault("processing.breaker_timeout", 15*time.Second)
	v.SetDefault("processing.stale_after", 5*time.Minute)
	v.SetDefault("processing.recover_interval", time.Minute)

	v.SetDefault("alerts.cooldown", 5*time.Minute)
	v.SetDefault("alerts.timeout", 5*time.Second)

	v.SetDefault("health.interval", time.Minute)
	v.SetDefault("health.snapshot_ttl", 30*time.Second)
	v.SetDefault("health.window", 15*time.Minute)
	v.SetDefault("health.failure_ratio_warning", 0.1)
	v.SetDefault("health.failure_ratio_critical", 0.25)
	v.SetDefault("health.min_samples", 20)
	v.SetDefault("health.signature_failures_warning", 5)

	v.SetDefault("retention.interval", time.Hour)
	v.SetDefault("retention.events", 30*24*time.Hour)
	v.SetDefault("retention.attempts", 14*24*time.Hour)
	v.SetDefault("retention.metrics", 365*24*time.Hour)
	v.SetDefault("retention.audit", 90*24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Load reads the YAML file at path (optional when it does not exist) and
// layers HOOKGATE_* environment variables and .env files on top.
func Load(path string) (*Config, error) {
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("HOOKGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
