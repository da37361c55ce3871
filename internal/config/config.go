// Package config loads the orchestrator's tunables from the environment,
// following the teacher's convention of env-var configuration with logged
// defaults rather than a config file.
package config

import (
	"time"

	"github.com/boardflow/orchestrator/internal/platform/envutil"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

type Config struct {
	// Process topology
	RunServer bool
	RunWorker bool
	HTTPPort  string

	// Postgres
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresName     string
	SQLiteDSN        string
	UseSQLite        bool

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Board webhook
	BoardWebhookSecret string
	BoardReadyColumnID string
	JWTSigningKey      string
	AdminBearerToken   string

	// Outbound adapters (C7)
	BoardAPIBaseURL    string
	BoardServiceKey    string
	CodeHostAPIBaseURL string
	CodeHostToken      string
	LLMBaseURL         string
	LLMAPIKey          string
	LLMModel           string
	LLMMaxRetries      int
	AdapterTimeout     time.Duration

	// Reactivation analyzer's own author, so its replies never re-trigger
	// themselves
	SystemAuthorID string

	// Concurrency / scheduling
	MaxConcurrentRuns      int
	WorkerPoolSize         int
	WorkflowTimeout        time.Duration
	ValidationTimeout      time.Duration
	ValidationPollInterval time.Duration
	MaxRejections          int
	MaxDebugAttempts       int

	// Reactivation
	ReactivationConfidenceThreshold float64
	QueueRecoveryWindow             time.Duration

	// Tracing
	OTLPEndpoint   string
	ServiceName    string
	TracingEnabled bool

	LogMode string
}

func Load(log *logger.Logger) *Config {
	return &Config{
		RunServer: envutil.GetEnvAsBool("RUN_SERVER", true, log),
		RunWorker: envutil.GetEnvAsBool("RUN_WORKER", true, log),
		HTTPPort:  envutil.GetEnv("HTTP_PORT", "8080", log),

		PostgresHost:     envutil.GetEnv("POSTGRES_HOST", "localhost", log),
		PostgresPort:     envutil.GetEnv("POSTGRES_PORT", "5432", log),
		PostgresUser:     envutil.GetEnv("POSTGRES_USER", "postgres", log),
		PostgresPassword: envutil.GetEnv("POSTGRES_PASSWORD", "", log),
		PostgresName:     envutil.GetEnv("POSTGRES_NAME", "boardflow", log),
		SQLiteDSN:        envutil.GetEnv("SQLITE_DSN", "boardflow.db", log),
		UseSQLite:        envutil.GetEnvAsBool("USE_SQLITE", false, log),

		RedisAddr:     envutil.GetEnv("REDIS_ADDR", "localhost:6379", log),
		RedisPassword: envutil.GetEnv("REDIS_PASSWORD", "", log),
		RedisDB:       envutil.GetEnvAsInt("REDIS_DB", 0, log),

		BoardWebhookSecret: envutil.GetEnv("BOARD_WEBHOOK_SECRET", "", log),
		BoardReadyColumnID: envutil.GetEnv("BOARD_READY_COLUMN_ID", "", log),
		JWTSigningKey:      envutil.GetEnv("JWT_SIGNING_KEY", "", log),
		AdminBearerToken:   envutil.GetEnv("ADMIN_BEARER_TOKEN", "", log),

		BoardAPIBaseURL:    envutil.GetEnv("BOARD_API_BASE_URL", "", log),
		BoardServiceKey:    envutil.GetEnv("BOARD_SERVICE_KEY", "", log),
		CodeHostAPIBaseURL: envutil.GetEnv("CODE_HOST_API_BASE_URL", "", log),
		CodeHostToken:      envutil.GetEnv("CODE_HOST_TOKEN", "", log),
		LLMBaseURL:         envutil.GetEnv("LLM_BASE_URL", "", log),
		LLMAPIKey:          envutil.GetEnv("LLM_API_KEY", "", log),
		LLMModel:           envutil.GetEnv("LLM_MODEL", "gpt-4o-mini", log),
		LLMMaxRetries:      envutil.GetEnvAsInt("LLM_MAX_RETRIES", 3, log),
		AdapterTimeout:     envutil.GetEnvAsSeconds("ADAPTER_TIMEOUT_SECONDS", 30*time.Second, log),

		SystemAuthorID: envutil.GetEnv("SYSTEM_AUTHOR_ID", "boardflow-bot", log),

		MaxConcurrentRuns:      envutil.GetEnvAsInt("MAX_CONCURRENT_RUNS", 5, log),
		WorkerPoolSize:         envutil.GetEnvAsInt("WORKER_POOL_SIZE", 5, log),
		WorkflowTimeout:        envutil.GetEnvAsSeconds("WORKFLOW_TIMEOUT_SECONDS", 3600*time.Second, log),
		ValidationTimeout:      envutil.GetEnvAsSeconds("VALIDATION_TIMEOUT_SECONDS", 86400*time.Second, log),
		ValidationPollInterval: envutil.GetEnvAsSeconds("VALIDATION_POLL_INTERVAL_SECONDS", 30*time.Second, log),
		MaxRejections:          envutil.GetEnvAsInt("MAX_REJECTIONS", 3, log),
		MaxDebugAttempts:       envutil.GetEnvAsInt("MAX_DEBUG_ATTEMPTS", 3, log),

		ReactivationConfidenceThreshold: float64(envutil.GetEnvAsInt("REACTIVATION_CONFIDENCE_THRESHOLD_PCT", 70, log)) / 100.0,
		QueueRecoveryWindow:             time.Duration(envutil.GetEnvAsInt("QUEUE_RECOVERY_WINDOW_HOURS", 24, log)) * time.Hour,

		OTLPEndpoint:   envutil.GetEnv("OTLP_ENDPOINT", "", log),
		ServiceName:    envutil.GetEnv("SERVICE_NAME", "boardflow-orchestrator", log),
		TracingEnabled: envutil.GetEnvAsBool("TRACING_ENABLED", false, log),

		LogMode: envutil.GetEnv("LOG_MODE", "development", log),
	}
}
