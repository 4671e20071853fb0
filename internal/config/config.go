package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Gateway    GatewayConfig
	Expiration ExpirationConfig
	Schedule   ScheduleConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers  []string
	GroupID  string
	Topics   TopicConfig
	Enabled  bool
	MockMode bool
}

type TopicConfig struct {
	TransactionEvents string
	ChargebackEvents  string
}

type GatewayConfig struct {
	BaseURL        string
	HPPBaseURL     string
	MerchantID     string
	HMACSecret     string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// Payment methods whose chargeback notifications signal a failed debit
	// rather than a dispute (certain direct-debit rails).
	DebitFailureMethods []string
}

// ExpirationConfig maps a payment-method identifier to the maximum time a
// transaction may stay pending before the sweeper cancels it. ThreeDSecure
// pending authorizations use their own, shorter window.
type ExpirationConfig struct {
	Default      time.Duration
	ThreeDSecure time.Duration
	PerMethod    map[string]time.Duration
}

// Window returns the pending window for a payment method, falling back to the
// default when the method has no dedicated policy.
func (e ExpirationConfig) Window(paymentMethod string) time.Duration {
	if d, ok := e.PerMethod[paymentMethod]; ok {
		return d
	}
	return e.Default
}

type ScheduleConfig struct {
	PollInterval   time.Duration
	ChallengeDelay time.Duration
	LeaderLockTTL  time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "recon_user"),
			Password:     getEnv("DB_PASSWORD", "recon_pass"),
			Database:     getEnv("DB_NAME", "payment_recon"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers:  []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			GroupID:  getEnv("KAFKA_GROUP_ID", "payment-recon-group"),
			Enabled:  getEnvBool("KAFKA_ENABLED", true),
			MockMode: getEnvBool("KAFKA_MOCK_MODE", false),
			Topics: TopicConfig{
				TransactionEvents: getEnv("KAFKA_TOPIC_TRANSACTIONS", "transaction-events"),
				ChargebackEvents:  getEnv("KAFKA_TOPIC_CHARGEBACKS", "chargeback-events"),
			},
		},
		Gateway: GatewayConfig{
			BaseURL:             getEnv("GATEWAY_BASE_URL", "https://pal-test.gateway.example.com/pal/servlet"),
			HPPBaseURL:          getEnv("GATEWAY_HPP_BASE_URL", "https://test.gateway.example.com/hpp/pay.shtml"),
			MerchantID:          getEnv("GATEWAY_MERCHANT_ID", ""),
			HMACSecret:          getEnv("GATEWAY_HMAC_SECRET", ""),
			ConnectTimeout:      getEnvDuration("GATEWAY_CONNECT_TIMEOUT_SECONDS", 10*time.Second),
			ReadTimeout:         getEnvDuration("GATEWAY_READ_TIMEOUT_SECONDS", 60*time.Second),
			DebitFailureMethods: getEnvList("GATEWAY_DEBIT_FAILURE_METHODS", []string{"sepadirectdebit", "ach"}),
		},
		Expiration: ExpirationConfig{
			Default:      getEnvDuration("EXPIRY_DEFAULT_SECONDS", 3*24*time.Hour),
			ThreeDSecure: getEnvDuration("EXPIRY_3DS_SECONDS", 3*time.Hour),
			PerMethod:    parseMethodWindows(getEnv("EXPIRY_PER_METHOD", "")),
		},
		Schedule: ScheduleConfig{
			PollInterval:   getEnvDuration("SCHEDULE_POLL_SECONDS", 10*time.Second),
			ChallengeDelay: getEnvDuration("SCHEDULE_CHALLENGE_DELAY_SECONDS", 20*time.Minute),
			LeaderLockTTL:  getEnvDuration("SCHEDULE_LEADER_TTL_SECONDS", 30*time.Second),
		},
	}
}

// parseMethodWindows parses "method=seconds,method=seconds" pairs.
func parseMethodWindows(raw string) map[string]time.Duration {
	windows := make(map[string]time.Duration)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		secs, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		windows[parts[0]] = time.Duration(secs) * time.Second
	}
	return windows
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
