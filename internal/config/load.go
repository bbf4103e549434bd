package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Options for loading config. ConfigPath is optional; a missing file is not
// an error.
type Options struct {
	ConfigPath   string
	StateDir     string
	SkipValidate bool
	// Overrides apply last (flags > env > file > defaults). Nil means no
	// CLI overrides.
	Overrides *Overrides
}

// Overrides holds CLI flag values that take precedence over env, file, and
// defaults. Only non-nil fields are applied.
type Overrides struct {
	Variant       *string
	BatchSize     *int
	MaxAttempts   *int
	FailFast      *bool
	SettleDelay   *time.Duration
	ListenAddr    *string
	FailureReport *string
}

// fileConfig is the YAML representation. Durations are strings parsed with
// time.ParseDuration so operators can write "30s" or "5m".
type fileConfig struct {
	Elastic struct {
		URL              string `yaml:"url"`
		RawIndex         string `yaml:"raw_index"`
		PropertiesIndex  string `yaml:"properties_index"`
		SearchTemplateID string `yaml:"search_template_id"`
		InferenceID      string `yaml:"inference_id"`
		RequestTimeout   string `yaml:"request_timeout"`
		BulkTimeout      string `yaml:"bulk_timeout"`
	} `yaml:"elastic"`
	Server struct {
		Listen              string `yaml:"listen"`
		MCPPath             string `yaml:"mcp_path"`
		ProtocolVersion     string `yaml:"protocol_version"`
		AuthMode            string `yaml:"auth_mode"`
		HealthCheckInterval string `yaml:"health_check_interval"`
	} `yaml:"server"`
	Ingest struct {
		Variant        string `yaml:"variant"`
		ExpectedCount  int64  `yaml:"expected_count"`
		DatasetURL     string `yaml:"dataset_url"`
		BatchSize      int    `yaml:"batch_size"`
		Workers        int    `yaml:"workers"`
		MaxAttempts    int    `yaml:"max_attempts"`
		FailFast       *bool  `yaml:"fail_fast"`
		RetryBackoff   string `yaml:"retry_backoff"`
		SettleDelay    string `yaml:"settle_delay"`
		RecheckDelay   string `yaml:"recheck_delay"`
		CloseThreshold int64  `yaml:"close_threshold"`
		ReindexRetries *int   `yaml:"reindex_retries"`
		ReindexPoll    string `yaml:"reindex_poll"`
		ReindexMaxDocs int64  `yaml:"reindex_max_docs"`
		FailureReport  string `yaml:"failure_report"`
	} `yaml:"ingest"`
	StateDir string `yaml:"state_dir"`
}

// Load builds config with precedence: defaults → YAML file → dotenv/env →
// Overrides. Returns an error suitable for exit code 2 when invalid.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	// Local dotenv files for developer ergonomics. Precedence stays:
	// explicit env > .env.local > .env.
	if err := loadDotEnvFiles(".env.local", ".env"); err != nil {
		return nil, fmt.Errorf("CONFIG_INVALID: failed loading dotenv files: %w", err)
	}

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("CONFIG_INVALID: cannot read config file %s: %w", opts.ConfigPath, err)
			}
		} else {
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("CONFIG_INVALID: malformed YAML in %s: %w", opts.ConfigPath, err)
			}
			if err := applyFile(&cfg, &fc); err != nil {
				return nil, fmt.Errorf("CONFIG_INVALID: %s: %w", opts.ConfigPath, err)
			}
		}
	}

	applyEnv(&cfg)

	if opts.StateDir != "" {
		cfg.StateDir = opts.StateDir
	}
	if opts.Overrides != nil {
		applyOverrides(&cfg, opts.Overrides)
	}

	if !opts.SkipValidate {
		if err := Validate(&cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func applyFile(cfg *Config, fc *fileConfig) error {
	setString(&cfg.Elastic.URL, fc.Elastic.URL)
	setString(&cfg.Elastic.RawIndex, fc.Elastic.RawIndex)
	setString(&cfg.Elastic.PropertiesIndex, fc.Elastic.PropertiesIndex)
	setString(&cfg.Elastic.SearchTemplateID, fc.Elastic.SearchTemplateID)
	setString(&cfg.Elastic.InferenceID, fc.Elastic.InferenceID)
	if err := setDuration(&cfg.Elastic.RequestTimeout, fc.Elastic.RequestTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.Elastic.BulkTimeout, fc.Elastic.BulkTimeout); err != nil {
		return err
	}

	setString(&cfg.Server.ListenAddr, fc.Server.Listen)
	setString(&cfg.Server.MCPPath, fc.Server.MCPPath)
	setString(&cfg.Server.ProtocolVersion, fc.Server.ProtocolVersion)
	setString(&cfg.Server.AuthMode, fc.Server.AuthMode)
	if err := setDuration(&cfg.Server.HealthCheckInterval, fc.Server.HealthCheckInterval); err != nil {
		return err
	}

	setString(&cfg.Ingest.Variant, fc.Ingest.Variant)
	if fc.Ingest.ExpectedCount > 0 {
		cfg.Ingest.ExpectedCountOverride = fc.Ingest.ExpectedCount
	}
	setString(&cfg.Ingest.DatasetURL, fc.Ingest.DatasetURL)
	if fc.Ingest.BatchSize > 0 {
		cfg.Ingest.BatchSize = fc.Ingest.BatchSize
	}
	if fc.Ingest.Workers > 0 {
		cfg.Ingest.Workers = fc.Ingest.Workers
	}
	if fc.Ingest.MaxAttempts > 0 {
		cfg.Ingest.MaxAttempts = fc.Ingest.MaxAttempts
	}
	if fc.Ingest.FailFast != nil {
		cfg.Ingest.FailFast = *fc.Ingest.FailFast
	}
	if err := setDuration(&cfg.Ingest.RetryBackoff, fc.Ingest.RetryBackoff); err != nil {
		return err
	}
	if err := setDuration(&cfg.Ingest.SettleDelay, fc.Ingest.SettleDelay); err != nil {
		return err
	}
	if err := setDuration(&cfg.Ingest.RecheckDelay, fc.Ingest.RecheckDelay); err != nil {
		return err
	}
	if fc.Ingest.CloseThreshold > 0 {
		cfg.Ingest.CloseThreshold = fc.Ingest.CloseThreshold
	}
	if fc.Ingest.ReindexRetries != nil {
		cfg.Ingest.ReindexRetries = *fc.Ingest.ReindexRetries
	}
	if err := setDuration(&cfg.Ingest.ReindexPoll, fc.Ingest.ReindexPoll); err != nil {
		return err
	}
	if fc.Ingest.ReindexMaxDocs > 0 {
		cfg.Ingest.ReindexMaxDocs = fc.Ingest.ReindexMaxDocs
	}
	setString(&cfg.Ingest.FailureReportPath, fc.Ingest.FailureReport)
	setString(&cfg.StateDir, fc.StateDir)
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Elastic.URL, os.Getenv("ES_URL"))
	setString(&cfg.Elastic.APIKey, os.Getenv("ES_API_KEY"))
	setString(&cfg.Elastic.Username, os.Getenv("ES_USERNAME"))
	setString(&cfg.Elastic.Password, os.Getenv("ES_PASSWORD"))
	setString(&cfg.Elastic.CACert, os.Getenv("ES_CA_CERT"))
	setString(&cfg.Elastic.PropertiesIndex, os.Getenv("ES_INDEX"))
	setString(&cfg.Elastic.SearchTemplateID, os.Getenv("PROPERTIES_SEARCH_TEMPLATE"))
	setString(&cfg.Elastic.InferenceID, os.Getenv("ELSER_INFERENCE_ID"))
	setString(&cfg.GoogleMapsAPIKey, os.Getenv("GOOGLE_MAPS_API_KEY"))
	setString(&cfg.Server.AuthToken, os.Getenv("PROPS2MCP_AUTH_TOKEN"))
	if cfg.Server.AuthToken != "" && cfg.Server.AuthMode == "none" {
		cfg.Server.AuthMode = "token"
	}
	if port := os.Getenv("MCP_PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			host, _, splitErr := net.SplitHostPort(cfg.Server.ListenAddr)
			if splitErr != nil || host == "" {
				host = "127.0.0.1"
			}
			cfg.Server.ListenAddr = net.JoinHostPort(host, port)
		}
	}
	setString(&cfg.Ingest.Variant, os.Getenv("PROPS2MCP_DATASET"))
	setString(&cfg.Ingest.DatasetURL, os.Getenv("PROPS2MCP_DATASET_URL"))
}

func applyOverrides(cfg *Config, o *Overrides) {
	if o.Variant != nil && *o.Variant != "" {
		cfg.Ingest.Variant = *o.Variant
	}
	if o.BatchSize != nil && *o.BatchSize > 0 {
		cfg.Ingest.BatchSize = *o.BatchSize
	}
	if o.MaxAttempts != nil && *o.MaxAttempts > 0 {
		cfg.Ingest.MaxAttempts = *o.MaxAttempts
	}
	if o.FailFast != nil {
		cfg.Ingest.FailFast = *o.FailFast
	}
	if o.SettleDelay != nil {
		cfg.Ingest.SettleDelay = *o.SettleDelay
	}
	if o.ListenAddr != nil && *o.ListenAddr != "" {
		cfg.Server.ListenAddr = *o.ListenAddr
	}
	if o.FailureReport != nil && *o.FailureReport != "" {
		cfg.Ingest.FailureReportPath = *o.FailureReport
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", v, err)
	}
	*dst = d
	return nil
}

// StatePath joins a file name onto the state directory, creating the
// directory on first use.
func (c *Config) StatePath(name string) (string, error) {
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(c.StateDir, name), nil
}
