package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	BackendNone   = "none"
	BackendPubsub = "pubsub"
	BackendKafka  = "kafka"
)

type Config struct {
	HTTPPort int
	LogLevel string

	InitialDelay              time.Duration
	Period                    time.Duration
	LineItemExpiryHorizon     time.Duration
	HostActiveWindow          time.Duration
	PlanFreshnessWindow       time.Duration
	NonAdjustableSharePercent float64
	BatchSize                 int

	StatsRefreshPeriod time.Duration
	StatsRetention     time.Duration
	LineItemsFile      string

	FeedbackBackend string

	GoogleProjectID      string
	FeedbackSubscription string
	PlanEventsTopic      string
	CredentialsFile      string

	KafkaBrokers         []string
	KafkaFeedbackTopic   string
	KafkaGroupID         string
	KafkaPlanEventsTopic string
}

func Load() *Config {
	cfg := &Config{
		HTTPPort: getEnvInt("PLANNER_HTTP_PORT", 8080),
		LogLevel: strings.TrimSpace(getEnv("LOG_LEVEL", "info")),

		InitialDelay:              getEnvDuration("REALLOCATION_INITIAL_DELAY", 10*time.Second),
		Period:                    getEnvDuration("REALLOCATION_PERIOD", time.Minute),
		LineItemExpiryHorizon:     getEnvDuration("LINE_ITEM_EXPIRY_HORIZON", 0),
		HostActiveWindow:          getEnvDuration("HOST_ACTIVE_WINDOW", 2*time.Minute),
		PlanFreshnessWindow:       getEnvDuration("PLAN_FRESHNESS_WINDOW", time.Hour),
		NonAdjustableSharePercent: clampPercent(getEnvFloat("NON_ADJUSTABLE_SHARE_PERCENT", 80)),
		BatchSize:                 getEnvInt("REALLOCATION_BATCH_SIZE", 100),

		StatsRefreshPeriod: getEnvDuration("STATS_REFRESH_PERIOD", 30*time.Second),
		StatsRetention:     getEnvDuration("STATS_RETENTION", 10*time.Minute),
		LineItemsFile:      strings.TrimSpace(getEnv("LINE_ITEMS_FILE", "")),

		FeedbackBackend: strings.ToLower(strings.TrimSpace(getEnv("FEEDBACK_BACKEND", BackendNone))),

		GoogleProjectID:      strings.TrimSpace(firstNonEmpty(os.Getenv("GOOGLE_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT"))),
		FeedbackSubscription: strings.TrimSpace(getEnv("FEEDBACK_SUBSCRIPTION", "")),
		PlanEventsTopic:      strings.TrimSpace(getEnv("PLAN_EVENTS_TOPIC", "")),
		CredentialsFile:      strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),

		KafkaBrokers:         getEnvList("KAFKA_BROKERS"),
		KafkaFeedbackTopic:   strings.TrimSpace(getEnv("KAFKA_FEEDBACK_TOPIC", "planner.feedback")),
		KafkaGroupID:         strings.TrimSpace(getEnv("KAFKA_GROUP_ID", "token-reallocator")),
		KafkaPlanEventsTopic: strings.TrimSpace(getEnv("KAFKA_PLAN_EVENTS_TOPIC", "")),
	}

	if cfg.BatchSize <= 0 {
		log.Warn().Int("batchSize", cfg.BatchSize).Msg("REALLOCATION_BATCH_SIZE must be positive; using 100")
		cfg.BatchSize = 100
	}
	if cfg.Period <= 0 {
		log.Warn().Msg("REALLOCATION_PERIOD must be positive; using 1m")
		cfg.Period = time.Minute
	}
	if cfg.StatsRefreshPeriod <= 0 {
		log.Warn().Msg("STATS_REFRESH_PERIOD must be positive; using 30s")
		cfg.StatsRefreshPeriod = 30 * time.Second
	}
	switch cfg.FeedbackBackend {
	case BackendPubsub:
		if cfg.GoogleProjectID == "" {
			log.Warn().Msg("Google project ID not set; set GOOGLE_PROJECT_ID or GOOGLE_CLOUD_PROJECT")
		}
		if cfg.FeedbackSubscription == "" {
			log.Warn().Msg("Pub/Sub feedback subscription not set; set FEEDBACK_SUBSCRIPTION")
		}
	case BackendKafka:
		if len(cfg.KafkaBrokers) == 0 {
			log.Warn().Msg("Kafka brokers not set; set KAFKA_BROKERS")
		}
	case BackendNone:
	default:
		log.Warn().Str("backend", cfg.FeedbackBackend).Msg("unknown FEEDBACK_BACKEND; feedback accepted over HTTP only")
		cfg.FeedbackBackend = BackendNone
	}
	return cfg
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.HTTPPort))
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"httpPort":                  c.HTTPPort,
		"logLevel":                  c.LogLevel,
		"initialDelay":              c.InitialDelay.String(),
		"period":                    c.Period.String(),
		"lineItemExpiryHorizon":     c.LineItemExpiryHorizon.String(),
		"hostActiveWindow":          c.HostActiveWindow.String(),
		"planFreshnessWindow":       c.PlanFreshnessWindow.String(),
		"nonAdjustableSharePercent": c.NonAdjustableSharePercent,
		"batchSize":                 c.BatchSize,
		"statsRefreshPeriod":        c.StatsRefreshPeriod.String(),
		"statsRetention":            c.StatsRetention.String(),
		"lineItemsFile":             c.LineItemsFile,
		"feedbackBackend":           c.FeedbackBackend,
		"projectID":                 c.GoogleProjectID,
		"feedbackSubscription":      c.FeedbackSubscription,
		"planEventsTopic":           c.PlanEventsTopic,
		"credentialsProvided":       c.CredentialsFile != "",
		"kafkaBrokers":              strings.Join(c.KafkaBrokers, ","),
		"kafkaFeedbackTopic":        c.KafkaFeedbackTopic,
		"kafkaGroupID":              c.KafkaGroupID,
		"kafkaPlanEventsTopic":      c.KafkaPlanEventsTopic,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		iv, err := strconv.Atoi(v)
		if err == nil {
			return iv
		}
		fmt.Printf("invalid int for %s: %s\n", key, v)
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		fv, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return fv
		}
		fmt.Printf("invalid float for %s: %s\n", key, v)
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err == nil && d >= 0 {
			return d
		}
		fmt.Printf("invalid duration for %s: %s\n", key, v)
	}
	return def
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
