package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"dispatch-ai/internal/domain"
)

// envPrefix is prepended to every environment override.
const envPrefix = "DISPATCHAI_"

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "config.yaml"

// KeyEnv holds the passphrase for "enc:" values.
const KeyEnv = envPrefix + "CONFIG_KEY"

// Config is the top-level application configuration.
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Server      ServerConfig      `yaml:"server"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
	Catalog     *CatalogConfig    `yaml:"catalog,omitempty"` // nil = built-in catalog
	Includes    []string          `yaml:"includes,omitempty"`
}

// CredentialsConfig holds upstream credentials. Values may be "enc:"-prefixed.
type CredentialsConfig struct {
	ReadToken  string `yaml:"read_token"`   // control-protocol bearer, inference fallback
	APIKey     string `yaml:"api_key"`      // generic-inference bearer
	ChatAPIKey string `yaml:"chat_api_key"` // chat-generative query key
}

// ProvidersConfig holds per-protocol endpoint settings.
type ProvidersConfig struct {
	Inference EndpointConfig `yaml:"inference"`
	Chat      EndpointConfig `yaml:"chat"`
	Control   ControlConfig  `yaml:"control"`
}

// EndpointConfig holds transport settings for one upstream API.
type EndpointConfig struct {
	BaseURL     string        `yaml:"base_url"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// ControlConfig holds control-protocol server settings.
type ControlConfig struct {
	EndpointConfig `yaml:",inline"`

	Enabled       bool          `yaml:"enabled"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	ProbeSchedule string        `yaml:"probe_schedule"` // cron spec for the reachability monitor
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// GatewayConfig holds orchestration settings.
type GatewayConfig struct {
	BatchSize      int                  `yaml:"batch_size"`
	MaxRetryWait   time.Duration        `yaml:"max_retry_wait"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds per-model circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds HTTP API authentication settings.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single API bearer token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig holds per-client token bucket settings.
type RateLimitConfig struct {
	Rate           float64  `yaml:"rate"` // requests per second
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"` // 0 or >= 1 samples everything
}

// CatalogConfig replaces the built-in model catalog.
type CatalogConfig struct {
	Models  []domain.ModelDescriptor `yaml:"models"`
	Default []string                 `yaml:"default"`
	Bots    map[string][]string      `yaml:"bots"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Inference: EndpointConfig{
				BaseURL:     "https://api-inference.huggingface.co",
				ConnTimeout: 10 * time.Second,
				RespTimeout: 60 * time.Second,
			},
			Chat: EndpointConfig{
				BaseURL:     "https://generativelanguage.googleapis.com",
				ConnTimeout: 10 * time.Second,
				RespTimeout: 60 * time.Second,
			},
			Control: ControlConfig{
				EndpointConfig: EndpointConfig{
					BaseURL:     "https://huggingface.co/mcp",
					ConnTimeout: 10 * time.Second,
					RespTimeout: 60 * time.Second,
				},
				Enabled:       true,
				ProbeTimeout:  5 * time.Second,
				ProbeSchedule: "@every 1m",
			},
		},
		Gateway: GatewayConfig{
			BatchSize:    5,
			MaxRetryWait: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Server: ServerConfig{
			Addr: ":8080",
			RateLimit: RateLimitConfig{
				Rate:  10,
				Burst: 20,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter:    "noop",
			SampleRatio: 1,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := finish(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfigLoad, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := overlayYAML(cfg, data); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfigLoad, err)
	}

	if len(cfg.Includes) > 0 {
		if err := newIncludeLoader(absPath).apply(cfg, filepath.Dir(absPath), 0); err != nil {
			return nil, err
		}

		// Second pass: the main file takes precedence over includes.
		if err := overlayYAML(cfg, data); err != nil {
			return nil, fmt.Errorf("%w: parse config (second pass): %v", domain.ErrConfigLoad, err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish decrypts secrets and validates.
func finish(cfg *Config) error {
	if passphrase := os.Getenv(KeyEnv); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return fmt.Errorf("decrypt secrets: %w", err)
		}
	}
	return Validate(cfg)
}

// ApplyEnvOverrides maps DISPATCHAI_* env vars to config fields. Credentials
// also fall back to the conventional HF_TOKEN, HF_API_KEY and GEMINI_API_KEY
// variables when neither the file nor the prefixed variable sets them.
func ApplyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Credentials.ReadToken, envPrefix+"READ_TOKEN", "HF_TOKEN")
	overrideString(&cfg.Credentials.APIKey, envPrefix+"API_KEY", "HF_API_KEY")
	overrideString(&cfg.Credentials.ChatAPIKey, envPrefix+"CHAT_API_KEY", "GEMINI_API_KEY")

	if v := os.Getenv(envPrefix + "INFERENCE_BASE_URL"); v != "" {
		cfg.Providers.Inference.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "CHAT_BASE_URL"); v != "" {
		cfg.Providers.Chat.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "CONTROL_BASE_URL"); v != "" {
		cfg.Providers.Control.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "CONTROL_ENABLED"); v != "" {
		cfg.Providers.Control.Enabled = v == "true"
	}
	if v := os.Getenv(envPrefix + "BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Gateway.BatchSize = n
		}
	}
	if v := os.Getenv(envPrefix + "MAX_RETRY_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Gateway.MaxRetryWait = d
		}
	}
	if v := os.Getenv(envPrefix + "CIRCUIT_BREAKER_ENABLED"); v == "true" {
		cfg.Gateway.CircuitBreaker.Enabled = true
	}
	if v := os.Getenv(envPrefix + "SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(envPrefix + "SERVER_TOKENS"); v != "" {
		cfg.Server.Auth.Tokens = nil
		for i, tok := range splitAndTrim(v, ",") {
			if tok == "" {
				continue
			}
			cfg.Server.Auth.Tokens = append(cfg.Server.Auth.Tokens, TokenConfig{
				Token: tok,
				Name:  fmt.Sprintf("env-%d", i),
			})
		}
	}
	if v := os.Getenv(envPrefix + "LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv(envPrefix + "LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv(envPrefix + "TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv(envPrefix + "TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// overrideString sets *dst from the first non-empty of key, then fallback
// (fallback only applies when *dst is still empty).
func overrideString(dst *string, key, fallback string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
		return
	}
	if *dst == "" {
		if v := os.Getenv(fallback); v != "" {
			*dst = v
		}
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." credential and token values and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	creds := []struct {
		name  string
		field *string
	}{
		{"read_token", &cfg.Credentials.ReadToken},
		{"api_key", &cfg.Credentials.APIKey},
		{"chat_api_key", &cfg.Credentials.ChatAPIKey},
	}
	for _, c := range creds {
		if err := decryptField(c.field, passphrase); err != nil {
			return fmt.Errorf("credentials %s: %w", c.name, err)
		}
	}

	for i := range cfg.Server.Auth.Tokens {
		if err := decryptField(&cfg.Server.Auth.Tokens[i].Token, passphrase); err != nil {
			return fmt.Errorf("server auth token %s: %w", cfg.Server.Auth.Tokens[i].Name, err)
		}
	}
	return nil
}

func decryptField(fp *string, passphrase string) error {
	if !strings.HasPrefix(*fp, "enc:") {
		return nil
	}
	decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
	if err != nil {
		return err
	}
	*fp = decrypted
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is suitable for use after an "enc:" prefix in the config file.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file is not group/world writable.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
