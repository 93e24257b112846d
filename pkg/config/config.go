package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/speedrun-hq/bridge-harness/pkg/circuitbreaker"
	"github.com/speedrun-hq/bridge-harness/pkg/logger"
	"github.com/speedrun-hq/bridge-harness/pkg/results"
)

// Config holds the configuration for a harness run
type Config struct {
	PollTimeout         time.Duration
	PollInterval        time.Duration
	DepositPollInterval time.Duration
	Confirmations       uint64
	WorkerCount         int
	MetricsPort         string
	MetricsAPIKey       string
	Chains              []ChainConfig
	CircuitBreaker      circuitbreaker.Config
	LoggerConfig        LoggerConfig
	Results             results.Config
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only
func FromEnv() (*Config, error) {
	pollTimeout, err := GetEnvPollTimeout()
	if err != nil {
		return nil, err
	}

	pollInterval, err := GetEnvPollInterval()
	if err != nil {
		return nil, err
	}

	depositInterval, err := GetEnvDepositPollInterval()
	if err != nil {
		return nil, err
	}

	confirmations, err := GetEnvConfirmations()
	if err != nil {
		return nil, err
	}

	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	drivers, err := results.ParseDrivers(os.Getenv("RESULT_SINKS"))
	if err != nil {
		return nil, err
	}

	names, err := GetEnvChainNames()
	if err != nil {
		return nil, err
	}
	chains := make([]ChainConfig, 0, len(names))
	for _, name := range names {
		chain, err := GetEnvChainConfig(name)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}

	return &Config{
		PollTimeout:         pollTimeout,
		PollInterval:        pollInterval,
		DepositPollInterval: depositInterval,
		Confirmations:       confirmations,
		WorkerCount:         workerCount,
		MetricsPort:         metricsPort,
		MetricsAPIKey:       os.Getenv("METRICS_API_KEY"),
		Chains:              chains,
		CircuitBreaker: circuitbreaker.Config{
			Enabled:       cbEnabled,
			Threshold:     cbThreshold,
			FailureWindow: cbWindow,
			ResetTimeout:  cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
		Results: results.Config{
			Drivers:      drivers,
			DatabaseURL:  os.Getenv("DATABASE_URL"),
			KafkaBrokers: GetEnvKafkaBrokers(),
			KafkaTopic:   GetEnvKafkaTopic(),
			S3Bucket:     os.Getenv("S3_BUCKET"),
			S3Prefix:     os.Getenv("S3_PREFIX"),
		},
	}, nil
}
