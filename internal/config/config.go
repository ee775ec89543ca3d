// Package config loads the process-wide runtime configuration. The platform
// sets the function identity variables exactly once before the bootstrap
// starts; everything here is read at cold start and never again.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// RuntimeConfig is the function identity and bootstrap configuration,
// computed once per execution environment.
type RuntimeConfig struct {
	// Control plane endpoint, host:port, plain HTTP on localhost.
	RuntimeAPI string

	// Handler configuration string, e.g. "handler.ps1::Invoke-Handler".
	Handler string

	// Root directory of the unpacked function package.
	TaskRoot string

	FunctionName    string
	FunctionVersion string
	MemoryLimitMB   int
	LogGroupName    string
	LogStreamName   string

	// Bootstrap-local settings, not part of the platform contract.
	LogLevel        string
	LogFormat       string
	MetricsAddr     string
	TracingEndpoint string
	TracingSample   float64
}

// DefaultConfig returns a RuntimeConfig with bootstrap-local defaults.
// Platform-sourced fields are left empty until LoadFromEnv runs.
func DefaultConfig() *RuntimeConfig {
	return &RuntimeConfig{
		TaskRoot:      "/var/task",
		LogLevel:      "info",
		LogFormat:     "text",
		TracingSample: 1.0,
	}
}

// LoadFromEnv applies the platform environment to the config.
func LoadFromEnv(cfg *RuntimeConfig) {
	if v := os.Getenv("AWS_LAMBDA_RUNTIME_API"); v != "" {
		cfg.RuntimeAPI = v
	}
	if v := os.Getenv("_HANDLER"); v != "" {
		cfg.Handler = v
	}
	if v := os.Getenv("LAMBDA_TASK_ROOT"); v != "" {
		cfg.TaskRoot = v
	}
	if v := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); v != "" {
		cfg.FunctionName = v
	}
	if v := os.Getenv("AWS_LAMBDA_FUNCTION_VERSION"); v != "" {
		cfg.FunctionVersion = v
	}
	if v := os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE"); v != "" {
		if mb, err := strconv.Atoi(v); err == nil {
			cfg.MemoryLimitMB = mb
		}
	}
	if v := os.Getenv("AWS_LAMBDA_LOG_GROUP_NAME"); v != "" {
		cfg.LogGroupName = v
	}
	if v := os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME"); v != "" {
		cfg.LogStreamName = v
	}
	if v := os.Getenv("PULSAR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PULSAR_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("PULSAR_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("PULSAR_TRACING_ENDPOINT"); v != "" {
		cfg.TracingEndpoint = v
	}
	if v := os.Getenv("PULSAR_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TracingSample = f
		}
	}
}

// Validate checks the fields the bootstrap cannot run without.
func (cfg *RuntimeConfig) Validate() error {
	if cfg.RuntimeAPI == "" {
		return fmt.Errorf("AWS_LAMBDA_RUNTIME_API is not set")
	}
	if cfg.Handler == "" {
		return fmt.Errorf("_HANDLER is not set")
	}
	return nil
}
