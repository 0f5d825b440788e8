// Package config handles loading and validation of service configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// StoreBackend selects the persistence implementation for sessions, vault
// tokens, and idempotency records.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendRedis  StoreBackend = "redis"
)

// APIKey binds a bearer credential to a merchant and a set of scopes (§6.5).
type APIKey struct {
	Key        string   `json:"key"`
	MerchantID string   `json:"merchant_id"`
	Scopes     []string `json:"scopes,omitempty"`
}

// CollaboratorEndpoint is the address and timeout budget for one external
// collaborator client (§6.3).
type CollaboratorEndpoint struct {
	BaseURL        string        `json:"base_url"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	TotalTimeout   time.Duration `json:"total_timeout"`
}

// CollaboratorConfig groups the five external contracts the orchestrator
// depends on.
type CollaboratorConfig struct {
	Catalog   CollaboratorEndpoint `json:"catalog"`
	Tax       CollaboratorEndpoint `json:"tax"`
	Shipping  CollaboratorEndpoint `json:"shipping"`
	Inventory CollaboratorEndpoint `json:"inventory"`
	PSP       CollaboratorEndpoint `json:"psp"`
}

// Config holds all service configuration, enumerated per §6.5. It is
// assembled once at startup and injected into the orchestrator; nothing in
// this package is read as global mutable state after Load returns.
type Config struct {
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	BindHost string
	BindPort string

	GCPProject string

	APIVersion            string
	APIVersionStrictness  string // "warn" or "reject"
	DefaultCurrency       string
	SessionTTLSeconds     int
	IdempotencyTTLSeconds int

	RateLimitRPM   int
	RateLimitBurst int

	APIKeys []APIKey

	SignatureSecret           string
	SignatureVendor           string
	SignatureToleranceSeconds int

	StoreBackend StoreBackend

	Collaborators CollaboratorConfig
}

// secretPayload is the JSON shape expected from Secret Manager or
// CONFIG_FILE — everything that should not live directly in plain env vars.
type secretPayload struct {
	APIKeys                   []APIKey           `json:"api_keys"`
	SignatureSecret           string             `json:"signature_secret"`
	SignatureVendor           string             `json:"signature_vendor"`
	SignatureToleranceSeconds int                `json:"signature_tolerance_seconds"`
	Collaborators             CollaboratorConfig `json:"collaborators"`
}

// Load reads configuration from environment variables, resolving the
// sensitive secretPayload portion from CONFIG_FILE (development) or GCP
// Secret Manager (production), mirroring the pack's two-tier loading.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Environment:           envOrDefault("ENVIRONMENT", "development"),
		LogLevel:              envOrDefault("LOG_LEVEL", "info"),
		BindHost:              envOrDefault("BIND_HOST", "0.0.0.0"),
		BindPort:              envOrDefault("BIND_PORT", "8080"),
		GCPProject:            os.Getenv("GCP_PROJECT"),
		APIVersion:            envOrDefault("API_VERSION", "2025-09-29"),
		APIVersionStrictness:  envOrDefault("API_VERSION_STRICTNESS", "warn"),
		DefaultCurrency:       envOrDefault("DEFAULT_CURRENCY", "usd"),
		SessionTTLSeconds:     envIntOrDefault("SESSION_TTL_SECONDS", 3600),
		IdempotencyTTLSeconds: envIntOrDefault("IDEMPOTENCY_TTL_SECONDS", 86400),
		RateLimitRPM:          envIntOrDefault("RATE_LIMIT_RPM", 100),
		RateLimitBurst:        envIntOrDefault("RATE_LIMIT_BURST", 20),
		StoreBackend:          StoreBackend(envOrDefault("STORE_BACKEND", string(StoreBackendMemory))),
	}

	var payload secretPayload
	var err error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		payload, err = loadSecretsFromFile(path)
	} else if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT environment variable required in production")
		}
		payload, err = loadSecretsFromSecretManager(ctx, cfg.GCPProject)
	} else {
		payload, err = loadSecretsFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading secrets: %w", err)
	}

	cfg.APIKeys = payload.APIKeys
	cfg.SignatureSecret = payload.SignatureSecret
	cfg.SignatureVendor = payload.SignatureVendor
	cfg.SignatureToleranceSeconds = payload.SignatureToleranceSeconds
	if cfg.SignatureToleranceSeconds == 0 {
		cfg.SignatureToleranceSeconds = 300
	}
	cfg.Collaborators = payload.Collaborators

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecretsFromFile(path string) (secretPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return secretPayload{}, fmt.Errorf("reading config file: %w", err)
	}
	var payload secretPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return secretPayload{}, fmt.Errorf("parsing config file: %w", err)
	}
	return payload, nil
}

// loadSecretsFromSecretManager fetches the secret payload from GCP Secret
// Manager. Secret name format: projects/{project}/secrets/checkout-server/versions/latest.
func loadSecretsFromSecretManager(ctx context.Context, project string) (secretPayload, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return secretPayload{}, fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/checkout-server/versions/latest", project)
	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: secretName})
	if err != nil {
		return secretPayload{}, fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	var payload secretPayload
	if err := json.Unmarshal(result.Payload.Data, &payload); err != nil {
		return secretPayload{}, fmt.Errorf("parsing secret JSON: %w", err)
	}
	return payload, nil
}

// loadSecretsFromEnv reads the secret payload from individual environment
// variables, for local development without Secret Manager access.
func loadSecretsFromEnv() (secretPayload, error) {
	var payload secretPayload
	if keysJSON := os.Getenv("API_KEYS"); keysJSON != "" {
		if err := json.Unmarshal([]byte(keysJSON), &payload.APIKeys); err != nil {
			return secretPayload{}, fmt.Errorf("parsing API_KEYS JSON: %w", err)
		}
	}
	payload.SignatureSecret = os.Getenv("SIGNATURE_SECRET")
	payload.SignatureVendor = envOrDefault("SIGNATURE_VENDOR", "Checkout")
	payload.SignatureToleranceSeconds = envIntOrDefault("SIGNATURE_TOLERANCE_SECONDS", 300)

	payload.Collaborators = CollaboratorConfig{
		Catalog:   collaboratorEndpointFromEnv("CATALOG"),
		Tax:       collaboratorEndpointFromEnv("TAX"),
		Shipping:  collaboratorEndpointFromEnv("SHIPPING"),
		Inventory: collaboratorEndpointFromEnv("INVENTORY"),
		PSP:       collaboratorEndpointFromEnv("PSP"),
	}
	return payload, nil
}

func collaboratorEndpointFromEnv(prefix string) CollaboratorEndpoint {
	return CollaboratorEndpoint{
		BaseURL:        os.Getenv(prefix + "_BASE_URL"),
		ConnectTimeout: time.Duration(envIntOrDefault(prefix+"_CONNECT_TIMEOUT_MS", 5000)) * time.Millisecond,
		TotalTimeout:   time.Duration(envIntOrDefault(prefix+"_TOTAL_TIMEOUT_MS", 15000)) * time.Millisecond,
	}
}

// validate checks that all required configuration fields are present and
// well-formed.
func (c *Config) validate() error {
	if c.StoreBackend != StoreBackendMemory && c.StoreBackend != StoreBackendRedis {
		return fmt.Errorf("store_backend must be %q or %q, got %q", StoreBackendMemory, StoreBackendRedis, c.StoreBackend)
	}
	if c.APIVersionStrictness != "warn" && c.APIVersionStrictness != "reject" {
		return fmt.Errorf("api_version_strictness must be %q or %q, got %q", "warn", "reject", c.APIVersionStrictness)
	}
	if c.Environment == "production" && len(c.APIKeys) == 0 {
		return fmt.Errorf("at least one api key is required in production")
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
