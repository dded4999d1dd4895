package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts standard five-field specs and descriptors such as
// "@every 1m".
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a probe schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(spec)
}

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// Missing credentials are not errors: the affected candidates fail at call time.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateEndpoint("providers.inference", cfg.Providers.Inference, ve)
	validateEndpoint("providers.chat", cfg.Providers.Chat, ve)
	validateControl(cfg, ve)
	validateGateway(cfg, ve)
	validateServer(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateCatalog(cfg, ve)
	validateSecrets(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// validateSecrets rejects "enc:" values left undecrypted, which happens when
// KeyEnv is unset. Ciphertext must never be used as a credential.
func validateSecrets(cfg *Config, ve *ValidationError) {
	fields := []struct {
		name  string
		value string
	}{
		{"credentials.read_token", cfg.Credentials.ReadToken},
		{"credentials.api_key", cfg.Credentials.APIKey},
		{"credentials.chat_api_key", cfg.Credentials.ChatAPIKey},
	}
	for i, tok := range cfg.Server.Auth.Tokens {
		fields = append(fields, struct {
			name  string
			value string
		}{fmt.Sprintf("server.auth.tokens[%d].token", i), tok.Token})
	}
	for _, f := range fields {
		if strings.HasPrefix(f.value, "enc:") {
			ve.Add("%s: encrypted value but %s is not set", f.name, KeyEnv)
		}
	}
}

func validateEndpoint(prefix string, ep EndpointConfig, ve *ValidationError) {
	if ep.BaseURL == "" {
		ve.Add("%s.base_url must not be empty", prefix)
	} else if u, err := url.Parse(ep.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("%s.base_url %q is not an absolute URL", prefix, ep.BaseURL)
	}
	if ep.ConnTimeout < 0 {
		ve.Add("%s.conn_timeout must be >= 0", prefix)
	}
	if ep.RespTimeout < 0 {
		ve.Add("%s.resp_timeout must be >= 0", prefix)
	}
	if ep.Pool.MaxIdleConns < 0 || ep.Pool.MaxIdleConnsPerHost < 0 || ep.Pool.MaxConnsPerHost < 0 {
		ve.Add("%s.pool sizes must be >= 0", prefix)
	}
}

func validateControl(cfg *Config, ve *ValidationError) {
	ctl := cfg.Providers.Control
	if !ctl.Enabled {
		return
	}
	validateEndpoint("providers.control", ctl.EndpointConfig, ve)
	if ctl.ProbeTimeout <= 0 {
		ve.Add("providers.control.probe_timeout must be > 0 when control is enabled")
	}
	if ctl.ProbeSchedule != "" {
		if _, err := ParseSchedule(ctl.ProbeSchedule); err != nil {
			ve.Add("providers.control.probe_schedule %q is invalid: %v", ctl.ProbeSchedule, err)
		}
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.BatchSize <= 0 {
		ve.Add("gateway.batch_size must be > 0")
	}
	if cfg.Gateway.MaxRetryWait < 0 {
		ve.Add("gateway.max_retry_wait must be >= 0")
	}
	cb := cfg.Gateway.CircuitBreaker
	if cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("gateway.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if cb.Timeout <= 0 {
			ve.Add("gateway.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is not a valid host:port", cfg.Server.Addr)
	}
	if cfg.Server.RateLimit.Rate <= 0 {
		ve.Add("server.rate_limit.rate must be > 0")
	}
	if cfg.Server.RateLimit.Burst <= 0 {
		ve.Add("server.rate_limit.burst must be > 0")
	}
	seen := make(map[string]bool)
	for i, tok := range cfg.Server.Auth.Tokens {
		if tok.Token == "" {
			ve.Add("server.auth.tokens[%d].token must not be empty", i)
		}
		if tok.Name != "" {
			if seen[tok.Name] {
				ve.Add("server.auth.tokens[%d]: duplicate token name %q", i, tok.Name)
			}
			seen[tok.Name] = true
		}
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio %v must be between 0 and 1", r)
	}
}

// validateCatalog checks the shape of a configured catalog. Semantic checks
// (priorities, provider kinds, token limits) happen when the registry is built.
func validateCatalog(cfg *Config, ve *ValidationError) {
	cat := cfg.Catalog
	if cat == nil {
		return
	}
	if len(cat.Models) == 0 {
		ve.Add("catalog.models must not be empty")
		return
	}
	ids := make(map[string]bool, len(cat.Models))
	for i, m := range cat.Models {
		if m.ID == "" {
			ve.Add("catalog.models[%d].id must not be empty", i)
			continue
		}
		ids[m.ID] = true
	}
	if len(cat.Default) == 0 {
		ve.Add("catalog.default must list at least one model")
	}
	for _, id := range cat.Default {
		if !ids[id] {
			ve.Add("catalog.default references unknown model %q", id)
		}
	}
	for bot, list := range cat.Bots {
		if len(list) == 0 {
			ve.Add("catalog.bots.%s must list at least one model", bot)
		}
		for _, id := range list {
			if !ids[id] {
				ve.Add("catalog.bots.%s references unknown model %q", bot, id)
			}
		}
	}
}
