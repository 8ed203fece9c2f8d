package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	HTTPAddr      string
	AuthJWTSecret string
	NodeID        int64

	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Blob     BlobConfig
	Queue    QueueConfig
	Lock     LockConfig
	Settings SettingsConfig
}

// BlobConfig selects where report bodies are stored.
type BlobConfig struct {
	Type       string
	Dir        string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
	GCSBucket  string
	GCSPrefix  string
}

// QueueConfig selects the dispatch queue backend.
type QueueConfig struct {
	Type            string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisKeyPrefix  string
	PubSubProjectID string
	ELRProcessQueue string
}

type LockConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTLSeconds    int
}

// ObservabilityConfig drives logging, tracing and metrics export.
type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string
	OTLPEndpoint      string
	OTLPProtocol      string
	OtelEnabled       bool
	OtelSamplingRatio float64
	SlowQueryMillis   int
}

type SettingsConfig struct {
	Name  string
	Paths []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "primerouter"),
		AppVersion:    getenv("SERVICE_VERSION", getenv("APP_VERSION", "0.1.0")),
		Environment:   getenv("DEPLOYMENT_ENV", getenv("ENVIRONMENT", "development")),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		NodeID:        getenvInt64("SNOWFLAKE_NODE_ID", 1),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "prime"),
		DBUser:            getenv("DATABASE_USER", "prime"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "primerouter.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		Blob: BlobConfig{
			Type:       strings.ToLower(getenv("BLOB_STORAGE_TYPE", "fs")),
			Dir:        getenv("BLOB_DIR", "data/blobs"),
			S3Bucket:   strings.TrimSpace(getenv("BLOB_S3_BUCKET", "")),
			S3Region:   getenv("BLOB_S3_REGION", getenv("AWS_REGION", "us-east-1")),
			S3Endpoint: strings.TrimSpace(getenv("BLOB_S3_ENDPOINT", "")),
			S3Prefix:   getenv("BLOB_S3_PREFIX", "reports/"),
			GCSBucket:  strings.TrimSpace(getenv("BLOB_GCS_BUCKET", "")),
			GCSPrefix:  getenv("BLOB_GCS_PREFIX", "reports/"),
		},
		Queue: QueueConfig{
			Type:            strings.ToLower(getenv("QUEUE_TYPE", "memory")),
			RedisAddr:       strings.TrimSpace(getenv("QUEUE_REDIS_ADDR", "localhost:6379")),
			RedisPassword:   strings.TrimSpace(getenv("QUEUE_REDIS_PASSWORD", "")),
			RedisDB:         getenvInt("QUEUE_REDIS_DB", 0),
			RedisKeyPrefix:  getenv("QUEUE_REDIS_PREFIX", "queue:"),
			PubSubProjectID: getenv("PUBSUB_PROJECT_ID", getenv("GOOGLE_CLOUD_PROJECT", "")),
			ELRProcessQueue: getenv("ELR_PROCESS_QUEUE", "elr-fhir-convert"),
		},
		Lock: LockConfig{
			Enabled:       getenvBool("INGEST_LOCK_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("INGEST_LOCK_REDIS_ADDR", "localhost:6379")),
			RedisPassword: strings.TrimSpace(getenv("INGEST_LOCK_REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("INGEST_LOCK_REDIS_DB", 0),
			TTLSeconds:    getenvInt("INGEST_LOCK_TTL_SECONDS", 30),
		},
		Observability: ObservabilityConfig{
			LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OTLPEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
			OTLPProtocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))),
			OtelEnabled:       getenvBool("OTEL_ENABLED", true),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			SlowQueryMillis:   getenvInt("DATABASE_SLOW_QUERY_MS", 200),
		},
		Settings: SettingsConfig{
			Name:  getenv("SETTINGS_NAME", "settings"),
			Paths: parseList(getenv("SETTINGS_PATHS", "/etc/primerouter,.")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
