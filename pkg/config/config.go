package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// MinSecretLength is the minimum accepted length of SERVER_SECRET in bytes.
	MinSecretLength = 32
	// MaxPreviousSecrets bounds the verify-only keys of the token ring.
	MaxPreviousSecrets = 2
	// MaxTokenTTL bounds the lifetime of a QR token.
	MaxTokenTTL = time.Hour
	// MaxSchedulerRetries bounds commit retries on Conflict/Unavailable.
	MaxSchedulerRetries = 3
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Token    TokenConfig
	Engine   EngineConfig
	Board    BoardConfig
	Sweeper  SweeperConfig
	Events   EventsConfig
}

type DatabaseConfig struct {
	URL          string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig verifies principals minted by the identity edge.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TokenConfig configures the QR token codec and its key ring.
type TokenConfig struct {
	Secret          string
	PreviousSecrets []string
	TTL             time.Duration
	ClockSkew       time.Duration
}

// EngineConfig tunes transactional behaviour of the scheduling and check-in engine.
type EngineConfig struct {
	MaxRetries         int
	RetryBaseDelay     time.Duration
	CheckInEarlyWindow time.Duration
	RequestTimeout     time.Duration
}

// BoardConfig governs venue board caching.
type BoardConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// SweeperConfig schedules the background no-show sweep. An empty Cron disables it.
type SweeperConfig struct {
	Cron string
}

// EventsConfig sizes the asynchronous event fan-out.
type EventsConfig struct {
	Workers int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		URL:          v.GetString("DB_URL"),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET"), Issuer: v.GetString("JWT_ISSUER")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Token = TokenConfig{
		Secret:          v.GetString("SERVER_SECRET"),
		PreviousSecrets: splitAndTrim(v.GetString("SERVER_SECRET_PREVIOUS")),
		TTL:             time.Duration(v.GetInt("TOKEN_TTL_SECONDS")) * time.Second,
		ClockSkew:       parseDuration(v.GetString("TOKEN_CLOCK_SKEW"), 30*time.Second),
	}

	cfg.Engine = EngineConfig{
		MaxRetries:         v.GetInt("SCHEDULER_MAX_RETRIES"),
		RetryBaseDelay:     parseDuration(v.GetString("RETRY_BASE_DELAY"), 20*time.Millisecond),
		CheckInEarlyWindow: parseDuration(v.GetString("CHECKIN_EARLY_WINDOW"), 30*time.Minute),
		RequestTimeout:     parseDuration(v.GetString("REQUEST_TIMEOUT"), 10*time.Second),
	}

	cfg.Board = BoardConfig{
		CacheEnabled: v.GetBool("ENABLE_BOARD_CACHE"),
		CacheTTL:     parseDuration(v.GetString("BOARD_CACHE_TTL"), 5*time.Second),
	}

	cfg.Sweeper = SweeperConfig{Cron: strings.TrimSpace(v.GetString("NO_SHOW_SWEEP_CRON"))}
	if strings.EqualFold(cfg.Sweeper.Cron, "off") {
		cfg.Sweeper.Cron = ""
	}
	cfg.Events = EventsConfig{Workers: v.GetInt("EVENT_WORKERS")}
	if cfg.Events.Workers <= 0 {
		cfg.Events.Workers = 1
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine must not start with.
func (c *Config) Validate() error {
	var problems []string
	if len(c.Token.Secret) < MinSecretLength {
		problems = append(problems, fmt.Sprintf("SERVER_SECRET must be at least %d bytes", MinSecretLength))
	}
	if len(c.Token.PreviousSecrets) > MaxPreviousSecrets {
		problems = append(problems, fmt.Sprintf("SERVER_SECRET_PREVIOUS accepts at most %d secrets", MaxPreviousSecrets))
	}
	for i, prev := range c.Token.PreviousSecrets {
		if len(prev) < MinSecretLength {
			problems = append(problems, fmt.Sprintf("SERVER_SECRET_PREVIOUS[%d] must be at least %d bytes", i, MinSecretLength))
		}
	}
	if c.Token.TTL <= 0 || c.Token.TTL > MaxTokenTTL {
		problems = append(problems, "TOKEN_TTL_SECONDS must be within 1..3600")
	}
	if c.Token.ClockSkew < 0 {
		problems = append(problems, "TOKEN_CLOCK_SKEW must not be negative")
	}
	if c.Engine.MaxRetries < 1 || c.Engine.MaxRetries > MaxSchedulerRetries {
		problems = append(problems, "SCHEDULER_MAX_RETRIES must be within 1..3")
	}
	if c.Database.URL == "" && c.Database.Host == "" {
		problems = append(problems, "DB_URL or DB_HOST is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DSN returns DB_URL when set, otherwise a key/value DSN built from the parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_URL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "dronexam")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SERVER_SECRET", "")
	v.SetDefault("SERVER_SECRET_PREVIOUS", "")
	v.SetDefault("TOKEN_TTL_SECONDS", 3600)
	v.SetDefault("TOKEN_CLOCK_SKEW", "30s")

	v.SetDefault("SCHEDULER_MAX_RETRIES", 3)
	v.SetDefault("RETRY_BASE_DELAY", "20ms")
	v.SetDefault("CHECKIN_EARLY_WINDOW", "30m")
	v.SetDefault("REQUEST_TIMEOUT", "10s")

	v.SetDefault("ENABLE_BOARD_CACHE", false)
	v.SetDefault("BOARD_CACHE_TTL", "5s")

	v.SetDefault("NO_SHOW_SWEEP_CRON", "@every 5m")
	v.SetDefault("EVENT_WORKERS", 2)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
