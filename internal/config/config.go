package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/croplens/croplens/internal/batch"
	"github.com/croplens/croplens/internal/predict"
	"github.com/croplens/croplens/internal/provider"
	"github.com/croplens/croplens/internal/selector"
)

// placeholder values shipped in the example configuration; the service warns
// when they are still in place.
const (
	PlaceholderAPIKey    = "YOUR_API_KEY"
	PlaceholderWorkspace = "YOUR_WORKSPACE"
)

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Providers: ProvidersConfig{
			APIURL:          provider.DefaultAPIURL,
			APIKey:          PlaceholderAPIKey,
			Workspace:       PlaceholderWorkspace,
			RiceWorkflowID:  "rice-detection",
			WheatWorkflowID: "wheat-detection",
			TimeoutSec:      30,
			ImageTimeoutSec: 90,
			MaxImageDim:     2048,
		},
		Policy: PolicyConfig{
			MinConfidence:    0.4,
			ConfidenceMargin: 0.02,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        "5m",
			MaxEntries: 512,
		},
		Batch: BatchConfig{
			Workers:          4,
			MaxAttempts:      3,
			InitialBackoffMs: 500,
			MaxBackoffMs:     5000,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			CORSOrigin:      "*",
			MaxUploadMB:     16,
			TimeoutSec:      120,
			ShutdownTimeout: 10,
		},
		Output: OutputConfig{
			Format: "summary",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := validateThreshold(c.Policy.MinConfidence, "policy.min_confidence"); err != nil {
		return err
	}
	if err := validateThreshold(c.Policy.ConfidenceMargin, "policy.confidence_margin"); err != nil {
		return err
	}

	if c.Providers.RiceWorkflowID == "" || c.Providers.WheatWorkflowID == "" {
		return fmt.Errorf("both provider workflow IDs must be set")
	}
	if c.Providers.TimeoutSec <= 0 {
		return fmt.Errorf("invalid provider timeout: %d (must be positive)", c.Providers.TimeoutSec)
	}

	if c.Cache.TTL != "" {
		if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
			return fmt.Errorf("invalid cache TTL %q: %w", c.Cache.TTL, err)
		}
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("invalid cache max entries: %d", c.Cache.MaxEntries)
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	if c.Batch.MaxAttempts <= 0 {
		return fmt.Errorf("invalid batch max attempts: %d (must be positive)", c.Batch.MaxAttempts)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid server timeout: %d (must be positive)", c.Server.TimeoutSec)
	}

	return nil
}

// UsingPlaceholderCredentials reports whether the provider credentials still
// carry the shipped placeholders.
func (c *Config) UsingPlaceholderCredentials() bool {
	return c.Providers.APIKey == PlaceholderAPIKey ||
		c.Providers.APIKey == "" ||
		c.Providers.Workspace == PlaceholderWorkspace
}

// ToProviderConfig converts to the provider client configuration.
func (c *Config) ToProviderConfig() provider.Config {
	return provider.Config{
		APIURL:    c.Providers.APIURL,
		APIKey:    c.Providers.APIKey,
		Workspace: c.Providers.Workspace,
		Timeout:   time.Duration(c.Providers.TimeoutSec) * time.Second,
	}
}

// ToPipelineConfig converts to the prediction pipeline configuration.
func (c *Config) ToPipelineConfig() predict.Config {
	ttl, _ := time.ParseDuration(c.Cache.TTL)
	return predict.Config{
		Rice:         provider.Spec{Name: string(selector.ModelRice), WorkflowID: c.Providers.RiceWorkflowID},
		Wheat:        provider.Spec{Name: string(selector.ModelWheat), WorkflowID: c.Providers.WheatWorkflowID},
		Policy:       selector.Policy{MinConfidence: c.Policy.MinConfidence, Margin: c.Policy.ConfidenceMargin},
		ImageTimeout: time.Duration(c.Providers.ImageTimeoutSec) * time.Second,
		MaxImageDim:  c.Providers.MaxImageDim,
		CacheEnabled: c.Cache.Enabled,
		CacheTTL:     ttl,
		CacheSize:    c.Cache.MaxEntries,
	}
}

// ToBatchConfig converts to the batch orchestrator configuration.
func (c *Config) ToBatchConfig() batch.Config {
	cfg := batch.DefaultConfig()
	cfg.Workers = c.Batch.Workers
	cfg.MaxAttempts = c.Batch.MaxAttempts
	cfg.InitialBackoff = time.Duration(c.Batch.InitialBackoffMs) * time.Millisecond
	cfg.MaxBackoff = time.Duration(c.Batch.MaxBackoffMs) * time.Millisecond
	cfg.UseCache = c.Cache.Enabled
	return cfg
}

func validateThreshold(v float64, name string) error {
	if v < 0.0 || v > 1.0 {
		return fmt.Errorf("invalid %s: %f (must be between 0.0 and 1.0)", name, v)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
