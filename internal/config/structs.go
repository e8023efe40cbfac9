package config

// Config represents the complete configuration for the croplens service.
// It covers all commands (predict, batch, serve) and loads from
// configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Detection provider credentials and workflow identifiers
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers" json:"providers"`

	// Model selection policy
	Policy PolicyConfig `mapstructure:"policy" yaml:"policy" json:"policy"`

	// Result cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache" json:"cache"`

	// Batch processing
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`

	// HTTP server (serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Output formatting
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`
}

// ProvidersConfig identifies the two hosted detection workflows.
type ProvidersConfig struct {
	APIURL          string `mapstructure:"api_url" yaml:"api_url" json:"api_url"`
	APIKey          string `mapstructure:"api_key" yaml:"api_key" json:"-"`
	Workspace       string `mapstructure:"workspace" yaml:"workspace" json:"workspace"`
	RiceWorkflowID  string `mapstructure:"rice_workflow_id" yaml:"rice_workflow_id" json:"rice_workflow_id"`
	WheatWorkflowID string `mapstructure:"wheat_workflow_id" yaml:"wheat_workflow_id" json:"wheat_workflow_id"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ImageTimeoutSec int    `mapstructure:"image_timeout_sec" yaml:"image_timeout_sec" json:"image_timeout_sec"`
	MaxImageDim     int    `mapstructure:"max_image_dim" yaml:"max_image_dim" json:"max_image_dim"`
}

// PolicyConfig contains the confidence-based selection thresholds.
type PolicyConfig struct {
	MinConfidence    float64 `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
	ConfidenceMargin float64 `mapstructure:"confidence_margin" yaml:"confidence_margin" json:"confidence_margin"`
}

// CacheConfig contains result cache settings.
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	TTL        string `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	MaxEntries int    `mapstructure:"max_entries" yaml:"max_entries" json:"max_entries"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers           int    `mapstructure:"workers" yaml:"workers" json:"workers"`
	MaxAttempts       int    `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	InitialBackoffMs  int    `mapstructure:"initial_backoff_ms" yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
	MaxBackoffMs      int    `mapstructure:"max_backoff_ms" yaml:"max_backoff_ms" json:"max_backoff_ms"`
	ContinueOnCancel  bool   `mapstructure:"continue_on_cancel" yaml:"continue_on_cancel" json:"continue_on_cancel"`
	DefaultOutputFile string `mapstructure:"default_output_file" yaml:"default_output_file" json:"default_output_file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}
