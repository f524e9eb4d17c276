// Package config loads the core's runtime configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything main needs to wire the core.
type Config struct {
	// APIBaseURL is the REST side of the messaging backend.
	APIBaseURL string
	// SocketURL is the websocket endpoint of the shared channel.
	SocketURL string
	// Token is the bearer credential issued by the external session store.
	Token string

	PollInterval    time.Duration
	PollJitter      time.Duration
	PollMaxFailures int

	ReconnectInitial    time.Duration
	ReconnectMax        time.Duration
	ReconnectMaxRetries uint64

	// OpsAddr serves /metrics and /debug/state.
	OpsAddr string

	AMQPURL      string
	AMQPExchange string

	OTLPEndpoint string
	Environment  string
}

// Load reads the configuration. A missing .env file is not an error.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: skipping .env: %v", err)
	}

	return Config{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		SocketURL:  getEnv("SOCKET_URL", "ws://localhost:8080/socket"),
		Token:      getEnv("SESSION_TOKEN", ""),

		PollInterval:    getDuration("POLL_INTERVAL", 4*time.Second),
		PollJitter:      getDuration("POLL_JITTER", 500*time.Millisecond),
		PollMaxFailures: getInt("POLL_MAX_FAILURES", 0),

		ReconnectInitial:    getDuration("RECONNECT_INITIAL", 500*time.Millisecond),
		ReconnectMax:        getDuration("RECONNECT_MAX", 30*time.Second),
		ReconnectMaxRetries: getUint("RECONNECT_MAX_RETRIES", 10),

		OpsAddr: getEnv("OPS_ADDR", ":8093"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "messaging.events"),

		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
		Environment:  getEnv("ENVIRONMENT", "development"),
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, val, fallback)
		return fallback
	}
	return parsed
}

func getUint(key string, fallback uint64) uint64 {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, val, fallback)
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %s", key, val, fallback)
		return fallback
	}
	return parsed
}
