package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort      string
	SessionSecret []byte
	Database      DatabaseConfig
	Redis         RedisConfig
	Processing    ProcessingConfig
	Upload        UploadConfig
	RateLimit     RateLimitConfig
	Plans         PlansConfig
	AuditSink     AuditSinkConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ProcessingConfig holds settings for the document-processing pipeline:
// the admission ceiling for external rasterizer jobs, the reservation
// TTL, and the external binaries the pipeline shells out to.
type ProcessingConfig struct {
	Concurrency     int
	ReservationTTL  time.Duration
	SweepInterval   time.Duration // 0 disables the maintenance sweeper
	CommandTimeout  time.Duration
	GhostscriptBin  string
	PdfinfoBin      string
	MutoolBin       string
	LogQueueTimings bool
	LogStageTimings bool
	Grayscale       GrayscaleConfig
}

// GrayscaleConfig holds the production-mode black handling controls.
type GrayscaleConfig struct {
	ForceBlackText   bool
	ForceBlackVector bool
	BlackThresholdL  *float64
	BlackThresholdC  *float64
}

// UploadConfig caps multipart PDF uploads per route class.
type UploadConfig struct {
	PreflightMaxBytes int64
	ProcessMaxBytes   int64
}

// RateLimitConfig holds the sliding-window limits applied at the edge.
type RateLimitConfig struct {
	Window     time.Duration
	TestLimit  int  // unauthenticated demo preflight, per client IP
	APILimit   int  // API-key processing routes, per account
	TrustProxy bool // honor X-Forwarded-For/X-Real-IP for client identity
}

// PlansConfig points at an optional YAML plan catalog override.
type PlansConfig struct {
	File string
}

// AuditSinkConfig holds configuration for the S3-based processing audit sink
type AuditSinkConfig struct {
	Enabled       bool
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

func getEnvFloatPtr(key string) *float64 {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	floatVal, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return nil
	}
	return &floatVal
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port := getEnvString("HTTP_PORT", "9001")
	sessionSecret := []byte(getEnvString("SESSION_SECRET", "supersecretkey"))

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:      port,
		SessionSecret: sessionSecret,
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:      getEnvBool("REDIS_ENABLED", true),
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Processing: ProcessingConfig{
			Concurrency:     getEnvInt("PROCESSING_CONCURRENCY", 3),
			ReservationTTL:  getEnvDuration("RESERVATION_TTL", 10*time.Minute),
			SweepInterval:   getEnvDuration("RESERVATION_SWEEP_INTERVAL", 0),
			CommandTimeout:  getEnvDuration("COMMAND_TIMEOUT", 2*time.Minute),
			GhostscriptBin:  getEnvString("GHOSTSCRIPT_BIN", "gs"),
			PdfinfoBin:      getEnvString("PDFINFO_BIN", "pdfinfo"),
			MutoolBin:       getEnvString("MUTOOL_BIN", "mutool"),
			LogQueueTimings: getEnvBool("LOG_QUEUE_TIMINGS", false),
			LogStageTimings: getEnvBool("LOG_STAGE_TIMINGS", false),
			Grayscale: GrayscaleConfig{
				ForceBlackText:   getEnvBool("GRAYSCALE_FORCE_BLACK_TEXT", true),
				ForceBlackVector: getEnvBool("GRAYSCALE_FORCE_BLACK_VECTOR", true),
				BlackThresholdL:  getEnvFloatPtr("GRAYSCALE_BLACK_THRESHOLD_L"),
				BlackThresholdC:  getEnvFloatPtr("GRAYSCALE_BLACK_THRESHOLD_C"),
			},
		},
		Upload: UploadConfig{
			PreflightMaxBytes: getEnvInt64("UPLOAD_PREFLIGHT_MAX_BYTES", 5*1024*1024),
			ProcessMaxBytes:   getEnvInt64("UPLOAD_PROCESS_MAX_BYTES", 20*1024*1024),
		},
		RateLimit: RateLimitConfig{
			Window:     getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			TestLimit:  getEnvInt("RATE_LIMIT_TEST", 5),
			APILimit:   getEnvInt("RATE_LIMIT_API", 100),
			TrustProxy: getEnvBool("RATE_LIMIT_TRUST_PROXY", false),
		},
		Plans: PlansConfig{
			File: getEnvString("PLANS_FILE", ""),
		},
		AuditSink: AuditSinkConfig{
			Enabled:       getEnvBool("AUDIT_SINK_ENABLED", false),
			BufferSize:    getEnvInt("AUDIT_SINK_BUFFER_SIZE", 1000),
			FlushSize:     getEnvInt("AUDIT_SINK_FLUSH_SIZE", 100),
			FlushInterval: getEnvDuration("AUDIT_SINK_FLUSH_INTERVAL", 30*time.Second),
			S3Bucket:      getEnvString("AUDIT_SINK_S3_BUCKET", ""),
			S3Region:      getEnvString("AUDIT_SINK_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("AUDIT_SINK_S3_PREFIX", "audit/"),
			PodName:       getEnvString("POD_NAME", "gateway-0"),
		},
	}

	if cfg.AuditSink.Enabled && cfg.AuditSink.S3Bucket == "" {
		return nil, fmt.Errorf("AUDIT_SINK_S3_BUCKET is required when the audit sink is enabled")
	}

	return cfg, nil
}
