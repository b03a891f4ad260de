package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// CircuitBreakerConfig represents env-tunable settings for one backend
type CircuitBreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// GetRedisConfig returns Redis circuit breaker configuration (CB_REDIS_*)
func GetRedisConfig() CircuitBreakerConfig {
	return fromEnv("CB_REDIS", CircuitBreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// GetDatabaseConfig returns PostgreSQL circuit breaker configuration (CB_DB_*)
func GetDatabaseConfig() CircuitBreakerConfig {
	return fromEnv("CB_DB", CircuitBreakerConfig{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

// GetGraphConfig returns Neo4j circuit breaker configuration (CB_GRAPH_*)
func GetGraphConfig() CircuitBreakerConfig {
	return fromEnv("CB_GRAPH", CircuitBreakerConfig{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

// GetLLMConfig returns LLM provider circuit breaker configuration (CB_LLM_*)
func GetLLMConfig() CircuitBreakerConfig {
	return fromEnv("CB_LLM", CircuitBreakerConfig{
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
	})
}

// ToConfig converts CircuitBreakerConfig to circuit breaker Config
func (cbc CircuitBreakerConfig) ToConfig() Config {
	return Config{
		MaxRequests:      cbc.MaxRequests,
		Interval:         cbc.Interval,
		Timeout:          cbc.Timeout,
		FailureThreshold: cbc.FailureThreshold,
		SuccessThreshold: cbc.SuccessThreshold,
	}
}

func fromEnv(prefix string, def CircuitBreakerConfig) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:      getEnvUint32(prefix+"_MAX_REQUESTS", def.MaxRequests),
		Interval:         getEnvDuration(prefix+"_INTERVAL", def.Interval),
		Timeout:          getEnvDuration(prefix+"_TIMEOUT", def.Timeout),
		FailureThreshold: getEnvUint32(prefix+"_FAILURE_THRESHOLD", def.FailureThreshold),
		SuccessThreshold: getEnvUint32(prefix+"_SUCCESS_THRESHOLD", def.SuccessThreshold),
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
