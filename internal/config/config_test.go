package config

import (
	"context"
	"os"
	"testing"
)

var configEnvVars = []string{
	"ENVIRONMENT", "LOG_LEVEL", "BIND_HOST", "BIND_PORT", "GCP_PROJECT",
	"API_VERSION", "API_VERSION_STRICTNESS", "DEFAULT_CURRENCY",
	"SESSION_TTL_SECONDS", "IDEMPOTENCY_TTL_SECONDS",
	"RATE_LIMIT_RPM", "RATE_LIMIT_BURST", "STORE_BACKEND",
	"API_KEYS", "SIGNATURE_SECRET", "SIGNATURE_VENDOR", "SIGNATURE_TOLERANCE_SECONDS",
	"CONFIG_FILE",
}

func withCleanEnv(t *testing.T, set map[string]string) {
	t.Helper()
	saved := make(map[string]string)
	for _, k := range configEnvVars {
		saved[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	for k, v := range set {
		os.Setenv(k, v)
	}
	t.Cleanup(func() {
		for k, v := range saved {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	withCleanEnv(t, map[string]string{"ENVIRONMENT": "development"})

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BindPort != "8080" {
		t.Errorf("BindPort = %q, want 8080", cfg.BindPort)
	}
	if cfg.DefaultCurrency != "usd" {
		t.Errorf("DefaultCurrency = %q, want usd", cfg.DefaultCurrency)
	}
	if cfg.SessionTTLSeconds != 3600 {
		t.Errorf("SessionTTLSeconds = %d, want 3600", cfg.SessionTTLSeconds)
	}
	if cfg.RateLimitRPM != 100 {
		t.Errorf("RateLimitRPM = %d, want 100", cfg.RateLimitRPM)
	}
	if cfg.StoreBackend != StoreBackendMemory {
		t.Errorf("StoreBackend = %q, want memory", cfg.StoreBackend)
	}
	if cfg.SignatureToleranceSeconds != 300 {
		t.Errorf("SignatureToleranceSeconds = %d, want 300", cfg.SignatureToleranceSeconds)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	withCleanEnv(t, map[string]string{
		"ENVIRONMENT":      "development",
		"BIND_PORT":        "9090",
		"LOG_LEVEL":        "debug",
		"DEFAULT_CURRENCY": "eur",
		"RATE_LIMIT_RPM":   "50",
		"API_KEYS":         `[{"key":"sk_test","merchant_id":"m1","scopes":["checkout"]}]`,
	})

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BindPort != "9090" {
		t.Errorf("BindPort = %q, want 9090", cfg.BindPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.DefaultCurrency != "eur" {
		t.Errorf("DefaultCurrency = %q, want eur", cfg.DefaultCurrency)
	}
	if cfg.RateLimitRPM != 50 {
		t.Errorf("RateLimitRPM = %d, want 50", cfg.RateLimitRPM)
	}
	if len(cfg.APIKeys) != 1 || cfg.APIKeys[0].Key != "sk_test" {
		t.Errorf("APIKeys = %+v, want one key sk_test", cfg.APIKeys)
	}
}

func TestLoad_ProductionRequiresGCPProject(t *testing.T) {
	withCleanEnv(t, map[string]string{"ENVIRONMENT": "production"})

	_, err := Load(context.Background())
	if err == nil {
		t.Fatal("Load() in production without GCP_PROJECT = nil error, want error")
	}
}

func TestLoad_InvalidStoreBackendRejected(t *testing.T) {
	withCleanEnv(t, map[string]string{
		"ENVIRONMENT":   "development",
		"STORE_BACKEND": "postgres",
	})

	_, err := Load(context.Background())
	if err == nil {
		t.Fatal("Load() with invalid store_backend = nil error, want error")
	}
}

func TestLoad_InvalidAPIVersionStrictnessRejected(t *testing.T) {
	withCleanEnv(t, map[string]string{
		"ENVIRONMENT":            "development",
		"API_VERSION_STRICTNESS": "sometimes",
	})

	_, err := Load(context.Background())
	if err == nil {
		t.Fatal("Load() with invalid api_version_strictness = nil error, want error")
	}
}

func TestLoad_FromConfigFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.WriteString(`{
		"api_keys": [{"key": "sk_file", "merchant_id": "m1", "scopes": ["checkout"]}],
		"signature_secret": "topsecret"
	}`)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	withCleanEnv(t, map[string]string{
		"ENVIRONMENT": "development",
		"CONFIG_FILE": f.Name(),
	})

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.APIKeys) != 1 || cfg.APIKeys[0].Key != "sk_file" {
		t.Errorf("APIKeys = %+v, want one key sk_file", cfg.APIKeys)
	}
	if cfg.SignatureSecret != "topsecret" {
		t.Errorf("SignatureSecret = %q, want topsecret", cfg.SignatureSecret)
	}
}
