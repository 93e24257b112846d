package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/speedrun-hq/bridge-harness/pkg/logger"
)

const (
	// DefaultPollTimeout is how long a reconciliation wait may take, in seconds
	DefaultPollTimeout = 300

	// DefaultPollInterval is the pause between reconciliation reads, in seconds
	DefaultPollInterval = 5

	// DefaultDepositPollInterval is the pause between reads while deposit credit propagates, in seconds
	DefaultDepositPollInterval = 3

	// DefaultConfirmations is the block depth a transaction must reach
	DefaultConfirmations = 3

	// DefaultWorkerCount defines how many scenarios run at once
	DefaultWorkerCount = 4

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of RPC failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 3

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker, in seconds
	DefaultCircuitBreakerWindow = 60

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker, in seconds
	DefaultCircuitBreakerReset = 120

	// DefaultChains are the devnet ledgers of the local compose setup
	DefaultChains = "bnb,eth"

	// DefaultKafkaTopic receives one message per scenario result
	DefaultKafkaTopic = "bridge-harness.results"
)

func positiveSeconds(name string, def int) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return time.Duration(def) * time.Second, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", name, raw)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return time.Duration(v) * time.Second, nil
}

// GetEnvPollTimeout returns the reconciliation deadline from environment variables
func GetEnvPollTimeout() (time.Duration, error) {
	return positiveSeconds("POLL_TIMEOUT", DefaultPollTimeout)
}

// GetEnvPollInterval returns the reconciliation poll interval from environment variables
func GetEnvPollInterval() (time.Duration, error) {
	return positiveSeconds("POLL_INTERVAL", DefaultPollInterval)
}

// GetEnvDepositPollInterval returns the poll interval used while deposit credit propagates
func GetEnvDepositPollInterval() (time.Duration, error) {
	return positiveSeconds("DEPOSIT_POLL_INTERVAL", DefaultDepositPollInterval)
}

// GetEnvConfirmations returns the confirmation depth from environment variables
func GetEnvConfirmations() (uint64, error) {
	confirmations := os.Getenv("CONFIRMATIONS")
	if confirmations == "" {
		return DefaultConfirmations, nil
	}

	depth, err := strconv.ParseUint(confirmations, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid CONFIRMATIONS value: %s, must be a non-negative integer", confirmations)
	}
	return depth, nil
}

// GetEnvWorkerCount returns the number of workers from environment variables
func GetEnvWorkerCount() (int, error) {
	workerCount := os.Getenv("WORKER_COUNT")
	if workerCount == "" {
		return DefaultWorkerCount, nil
	}

	count, err := strconv.Atoi(workerCount)
	if err != nil {
		return 0, fmt.Errorf("invalid WORKER_COUNT value: %s, must be an integer", workerCount)
	}
	if count <= 0 {
		return 0, fmt.Errorf("WORKER_COUNT must be greater than 0")
	}
	return count, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %w", err)
	}
	return level, nil
}

// GetEnvLogColoring returns whether log chain prefixes are colored
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	switch coloring {
	case "", "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

// GetEnvChainNames returns the upper-cased chain names listed in CHAINS
func GetEnvChainNames() ([]string, error) {
	raw := os.Getenv("CHAINS")
	if raw == "" {
		raw = DefaultChains
	}
	var names []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToUpper(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("invalid CHAINS value: %s listed twice", name)
		}
		seen[name] = true
		names = append(names, name)
	}
	if len(names) < 2 {
		return nil, fmt.Errorf("CHAINS must list at least two chains, got %q", raw)
	}
	return names, nil
}

// GetEnvKafkaBrokers returns the broker list for the kafka sink
func GetEnvKafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// GetEnvKafkaTopic returns the topic scenario results are published to
func GetEnvKafkaTopic() string {
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		return topic
	}
	return DefaultKafkaTopic
}
