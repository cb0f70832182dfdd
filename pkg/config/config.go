package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
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
	Guardian GuardianConfig
	Delivery DeliveryConfig
	Exports  ExportsConfig
	Tasks    TasksConfig
}

type DatabaseConfig struct {
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

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GuardianConfig bounds guardian rosters and default contact policy.
type GuardianConfig struct {
	MaxPerStudent        int
	MaxPrimaryPerStudent int
	DefaultWeeklyCap     int
	DefaultQuietStart    int
	DefaultQuietEnd      int
}

// DeliveryConfig tunes the delivery orchestrator. Channel priority lists are
// comma-separated channel names; the emergency list intentionally differs
// from the general one (SMS reaches dumb phones fastest).
type DeliveryConfig struct {
	ChannelPriority          []string
	EmergencyChannelPriority []string
	WorkerConcurrency        int
	SendTimeout              time.Duration
	RetryTick                time.Duration
	OfflineQueueDir          string
	ManualSendCategories     []string
}

// ExportsConfig controls consent-register export generation.
type ExportsConfig struct {
	Enabled         bool
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
	WorkerRetries   int
}

// TasksConfig tunes follow-up task fan-out.
type TasksConfig struct {
	Workers    int
	BufferSize int
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
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

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Guardian = GuardianConfig{
		MaxPerStudent:        v.GetInt("GUARDIAN_MAX_PER_STUDENT"),
		MaxPrimaryPerStudent: v.GetInt("GUARDIAN_MAX_PRIMARY_PER_STUDENT"),
		DefaultWeeklyCap:     v.GetInt("GUARDIAN_DEFAULT_WEEKLY_CAP"),
		DefaultQuietStart:    v.GetInt("GUARDIAN_DEFAULT_QUIET_START"),
		DefaultQuietEnd:      v.GetInt("GUARDIAN_DEFAULT_QUIET_END"),
	}

	cfg.Delivery = DeliveryConfig{
		ChannelPriority:          splitAndTrim(v.GetString("DELIVERY_CHANNEL_PRIORITY")),
		EmergencyChannelPriority: splitAndTrim(v.GetString("DELIVERY_EMERGENCY_CHANNEL_PRIORITY")),
		WorkerConcurrency:        v.GetInt("DELIVERY_WORKER_CONCURRENCY"),
		SendTimeout:              parseDuration(v.GetString("DELIVERY_SEND_TIMEOUT"), 15*time.Second),
		RetryTick:                parseDuration(v.GetString("DELIVERY_RETRY_TICK"), time.Second),
		OfflineQueueDir:          v.GetString("DELIVERY_OFFLINE_QUEUE_DIR"),
		ManualSendCategories:     splitAndTrim(v.GetString("DELIVERY_MANUAL_SEND_CATEGORIES")),
	}

	cfg.Exports = ExportsConfig{
		Enabled:         v.GetBool("ENABLE_EXPORTS"),
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerRetries:   v.GetInt("EXPORTS_WORKER_RETRIES"),
	}

	cfg.Tasks = TasksConfig{
		Workers:    v.GetInt("TASKS_WORKERS"),
		BufferSize: v.GetInt("TASKS_BUFFER_SIZE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "guardian_notify")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GUARDIAN_MAX_PER_STUDENT", 4)
	v.SetDefault("GUARDIAN_MAX_PRIMARY_PER_STUDENT", 2)
	v.SetDefault("GUARDIAN_DEFAULT_WEEKLY_CAP", 10)
	v.SetDefault("GUARDIAN_DEFAULT_QUIET_START", 21)
	v.SetDefault("GUARDIAN_DEFAULT_QUIET_END", 7)

	v.SetDefault("DELIVERY_CHANNEL_PRIORITY", "whatsapp,sms,email")
	v.SetDefault("DELIVERY_EMERGENCY_CHANNEL_PRIORITY", "sms,whatsapp,email")
	v.SetDefault("DELIVERY_WORKER_CONCURRENCY", 4)
	v.SetDefault("DELIVERY_SEND_TIMEOUT", "15s")
	v.SetDefault("DELIVERY_RETRY_TICK", "1s")
	v.SetDefault("DELIVERY_OFFLINE_QUEUE_DIR", "./offline-queue")
	v.SetDefault("DELIVERY_MANUAL_SEND_CATEGORIES", "academic_updates,school_announcements,event_invitations")

	v.SetDefault("ENABLE_EXPORTS", false)
	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("EXPORTS_WORKER_RETRIES", 3)

	v.SetDefault("TASKS_WORKERS", 2)
	v.SetDefault("TASKS_BUFFER_SIZE", 32)
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
