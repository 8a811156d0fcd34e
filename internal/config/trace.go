package config

import (
	"fmt"
	"os"
	"time"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultPublicBaseURL   = "http://localhost:8080"
	defaultMigrationsPath  = "migrations/trace"
	defaultUploadDir       = "uploads"
	defaultShutdownTimeout = 10 * time.Second

	defaultDBMaxOpenConns    = 25
	defaultDBMaxIdleConns    = 5
	defaultDBConnMaxLifetime = 5 * time.Minute
	defaultDBPingTimeout     = 5 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultStorageOpTimeout  = 3 * time.Second
	defaultCacheTTL          = 5 * time.Minute
)

type Trace struct {
	DatabaseURL       string
	RabbitMQURL       string
	RedisURL          string
	AdminKey          string
	PublicBaseURL     string
	HTTPAddr          string
	MigrationsPath    string
	UploadDir         string
	ShutdownTimeout   time.Duration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBPingTimeout     time.Duration
	ReadHeaderTimeout time.Duration
	StorageOpTimeout  time.Duration
	CacheTTL          time.Duration
}

func LoadTrace() (Trace, error) {
	cfg := Trace{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RabbitMQURL:       getEnv("RABBITMQ_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		AdminKey:          getEnv("ADMIN_KEY", ""),
		PublicBaseURL:     getEnv("PUBLIC_BASE_URL", defaultPublicBaseURL),
		HTTPAddr:          getEnv("HTTP_ADDR", defaultHTTPAddr),
		MigrationsPath:    getEnv("MIGRATIONS_PATH", defaultMigrationsPath),
		UploadDir:         getEnv("UPLOAD_DIR", defaultUploadDir),
		ShutdownTimeout:   defaultShutdownTimeout,
		DBMaxOpenConns:    defaultDBMaxOpenConns,
		DBMaxIdleConns:    defaultDBMaxIdleConns,
		DBConnMaxLifetime: defaultDBConnMaxLifetime,
		DBPingTimeout:     defaultDBPingTimeout,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		StorageOpTimeout:  defaultStorageOpTimeout,
		CacheTTL:          defaultCacheTTL,
	}

	if cfg.DatabaseURL == "" {
		return Trace{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RabbitMQURL == "" {
		return Trace{}, fmt.Errorf("RABBITMQ_URL is required")
	}
	if cfg.AdminKey == "" {
		return Trace{}, fmt.Errorf("ADMIN_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
