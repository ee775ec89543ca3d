package config

import "testing"

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "127.0.0.1:9001")
	t.Setenv("_HANDLER", "handler.ps1")
	t.Setenv("LAMBDA_TASK_ROOT", "/var/task")
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "my-function")
	t.Setenv("AWS_LAMBDA_FUNCTION_VERSION", "$LATEST")
	t.Setenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE", "256")
	t.Setenv("PULSAR_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.RuntimeAPI != "127.0.0.1:9001" || cfg.Handler != "handler.ps1" {
		t.Fatalf("platform env not loaded: %+v", cfg)
	}
	if cfg.MemoryLimitMB != 256 {
		t.Fatalf("memory size not parsed: %d", cfg.MemoryLimitMB)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level override not applied: %s", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestLoadFromEnv_BadMemorySizeIgnored(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE", "lots")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	if cfg.MemoryLimitMB != 0 {
		t.Fatalf("unparseable memory size should be ignored, got %d", cfg.MemoryLimitMB)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RuntimeAPI = ""
	cfg.Handler = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure without a runtime API endpoint")
	}

	cfg.RuntimeAPI = "127.0.0.1:9001"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure without a handler string")
	}
}
