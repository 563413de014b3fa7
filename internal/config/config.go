package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Rabbit    RabbitConfig
	Worker    WorkerConfig
	Scheduler SchedulerConfig
	Reconcile ReconcileConfig
	Metrics   MetricsConfig
	Plan      PlanConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
}

type RabbitConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	Queue    string
	// DeadLetterQueue receives deliveries rejected without requeue.
	DeadLetterQueue string
	Exchange        string
	Prefetch        int
	Workers         int
	// MaxRedeliveries bounds how often an event failing with an internal
	// error is requeued before it is dead-lettered.
	MaxRedeliveries int
}

// URL is the AMQP connection string.
func (c RabbitConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   c.VHost,
	}
	return u.String()
}

// WorkerConfig bounds a single event's unit of work.
type WorkerConfig struct {
	EventTimeout   time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type SchedulerConfig struct {
	Timezone            string
	MonthlyGenerateSpec string
	MonthlyProcessSpec  string
	ClubBonusSpec       string
	RankSweepSpec       string
	BatchSize           int
}

type ReconcileConfig struct {
	Interval  time.Duration
	BatchSize int
}

type MetricsConfig struct {
	Addr string
}

type PlanConfig struct {
	Path string
}

type LogConfig struct {
	Level string
}

// Load reads the configuration from the environment. A .env file in the
// working directory, when present, is loaded first and never overrides
// variables that are already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Database: DatabaseConfig{
			Driver:       getenv("DB_DRIVER", "postgres"),
			Host:         getenv("DB_HOST", "localhost"),
			Port:         intFromEnv("DB_PORT", 5432),
			User:         getenv("DB_USER", getenv("DB_USERNAME", "postgres")),
			Password:     getenv("DB_PASSWORD", "postgres"),
			DBName:       getenv("DB_NAME", getenv("DB_DATABASE", "compensation")),
			SSLMode:      getenv("DB_SSLMODE", "disable"),
			MaxOpenConns: intFromEnv("DB_MAX_OPEN_CONNS", 50),
		},
		Rabbit: RabbitConfig{
			Host:            getenv("RABBITMQ_HOST", "localhost"),
			Port:            intFromEnv("RABBITMQ_PORT", 5672),
			User:            getenv("RABBITMQ_USER", "guest"),
			Password:        getenv("RABBITMQ_PASSWORD", "guest"),
			VHost:           getenv("RABBITMQ_VHOST", "/"),
			Queue:           getenv("RABBITMQ_QUEUE", "compensation_events"),
			DeadLetterQueue: getenv("RABBITMQ_DEAD_LETTER_QUEUE", "compensation_events.dead"),
			Exchange:        getenv("RABBITMQ_EXCHANGE", "compensation_facts"),
			Prefetch:        intFromEnv("RABBITMQ_PREFETCH", 50),
			Workers:         clamp(intFromEnv("RABBITMQ_WORKERS", 5), 1, 32),
			MaxRedeliveries: clamp(intFromEnv("RABBITMQ_MAX_REDELIVERIES", 5), 0, 100),
		},
		Worker: WorkerConfig{
			EventTimeout:   durationFromEnv("EVENT_TIMEOUT", 10*time.Second),
			MaxRetries:     clamp(intFromEnv("EVENT_MAX_RETRIES", 5), 0, 20),
			InitialBackoff: durationFromEnv("EVENT_INITIAL_BACKOFF", 100*time.Millisecond),
			MaxBackoff:     durationFromEnv("EVENT_MAX_BACKOFF", 5*time.Second),
		},
		Scheduler: SchedulerConfig{
			Timezone:            getenv("SCHEDULER_TIMEZONE", "Asia/Kolkata"),
			MonthlyGenerateSpec: getenv("SCHEDULER_MONTHLY_GENERATE", "0 1 1 * *"),
			MonthlyProcessSpec:  getenv("SCHEDULER_MONTHLY_PROCESS", "30 1 1 * *"),
			ClubBonusSpec:       getenv("SCHEDULER_CLUB_BONUS", "0 4 1 * *"),
			RankSweepSpec:       getenv("SCHEDULER_RANK_SWEEP", "0 2 * * *"),
			BatchSize:           intFromEnv("SCHEDULER_BATCH_SIZE", 500),
		},
		Reconcile: ReconcileConfig{
			Interval:  time.Duration(intFromEnv("RECONCILE_INTERVAL_SECONDS", 300)) * time.Second,
			BatchSize: intFromEnv("RECONCILE_BATCH_SIZE", 1000),
		},
		Metrics: MetricsConfig{
			Addr: getenv("METRICS_ADDR", ":9090"),
		},
		Plan: PlanConfig{
			Path: getenv("PLAN_PATH", ""),
		},
		Log: LogConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},
	}
}

func getenv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return def
}

func intFromEnv(key string, def int) int {
	val := getenv(key, "")
	if val == "" {
		return def
	}

	if parsed, err := strconv.Atoi(val); err == nil {
		return parsed
	}

	return def
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	val := getenv(key, "")
	if val == "" {
		return def
	}

	if parsed, err := time.ParseDuration(val); err == nil {
		return parsed
	}

	return def
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
