package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const DefaultProtocolVersion = "2025-06-18"

// Config is built once at startup and passed by reference into every
// component. Components never read ambient environment state directly.
type Config struct {
	Elastic ElasticConfig
	Server  ServerConfig
	Ingest  IngestConfig

	GoogleMapsAPIKey string

	// StateDir holds the run ledger and failure reports.
	StateDir string
}

type ElasticConfig struct {
	URL      string
	APIKey   string
	Username string
	Password string
	CACert   string

	RawIndex         string
	PropertiesIndex  string
	SearchTemplateID string
	InferenceID      string

	// RequestTimeout applies to control-plane calls (index management,
	// reindex task polling, template operations). Bulk submissions use
	// BulkTimeout.
	RequestTimeout time.Duration
	BulkTimeout    time.Duration
}

type ServerConfig struct {
	ListenAddr      string
	MCPPath         string
	ProtocolVersion string
	// AuthMode is "none" or "token". In token mode requests must carry
	// Authorization: Bearer <AuthToken>.
	AuthMode  string
	AuthToken string
	// HealthCheckInterval is the cadence of the background inference
	// endpoint check. Zero disables the checker.
	HealthCheckInterval time.Duration
}

type IngestConfig struct {
	// Variant selects the dataset (full, medium, small, tiny).
	Variant string
	// ExpectedCountOverride, when positive, replaces the variant's declared
	// expected document count. The source data evolves faster than releases
	// do, so operators need this escape hatch.
	ExpectedCountOverride int64
	// DatasetURL, when set, replaces the variant's published URL. Lets
	// operators point at a mirror or a locally served copy.
	DatasetURL string

	BatchSize int
	Workers   int

	// MaxAttempts bounds the download+load+verify loop. FailFast forces a
	// single attempt regardless of MaxAttempts.
	MaxAttempts  int
	FailFast     bool
	RetryBackoff time.Duration

	// SettleDelay is waited before counting documents; RecheckDelay is the
	// shorter wait used when the count is under target but within
	// CloseThreshold.
	SettleDelay    time.Duration
	RecheckDelay   time.Duration
	CloseThreshold int64

	// ReindexRetries bounds the nested reindex retry loop; ReindexPoll is
	// the task polling interval. ReindexMaxDocs caps the copy when positive
	// (sampling-style runs), in which case the created-count check is
	// skipped.
	ReindexRetries int
	ReindexPoll    time.Duration
	ReindexMaxDocs int64

	// FailureReportPath, when set, receives a JSON array of failure records
	// at the end of the final attempt (or on success with accumulated
	// cross-attempt failures).
	FailureReportPath string
}

func Default() Config {
	return Config{
		Elastic: ElasticConfig{
			URL:              "",
			RawIndex:         "properties_raw",
			PropertiesIndex:  "properties",
			SearchTemplateID: "properties-search-template",
			InferenceID:      ".elser-2-elasticsearch",
			RequestTimeout:   300 * time.Second,
			BulkTimeout:      60 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr:          "127.0.0.1:8000",
			MCPPath:             "/mcp",
			ProtocolVersion:     DefaultProtocolVersion,
			AuthMode:            "none",
			HealthCheckInterval: 5 * time.Minute,
		},
		Ingest: IngestConfig{
			Variant:        "full",
			BatchSize:      500,
			Workers:        4,
			MaxAttempts:    3,
			RetryBackoff:   30 * time.Second,
			SettleDelay:    0,
			RecheckDelay:   10 * time.Second,
			CloseThreshold: 100,
			ReindexRetries: 2,
			ReindexPoll:    10 * time.Second,
		},
		StateDir: filepath.Join(".", ".props2mcp"),
	}
}

// Validate returns an error suitable for exit code 2 when the configuration
// cannot produce a working client.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Elastic.URL) == "" {
		return errors.New("CONFIG_INVALID: Elasticsearch URL is required (ES_URL)")
	}
	hasKey := cfg.Elastic.APIKey != ""
	hasUser := cfg.Elastic.Username != ""
	hasPass := cfg.Elastic.Password != ""
	if hasUser != hasPass {
		return errors.New("CONFIG_INVALID: ES_USERNAME and ES_PASSWORD must be provided together")
	}
	if hasKey && hasUser {
		return errors.New("CONFIG_INVALID: API key and basic auth are mutually exclusive")
	}
	if !hasKey && !hasUser {
		return errors.New("CONFIG_INVALID: either ES_API_KEY or ES_USERNAME/ES_PASSWORD is required")
	}
	switch cfg.Server.AuthMode {
	case "none", "token":
	default:
		return fmt.Errorf("CONFIG_INVALID: unknown auth mode %q", cfg.Server.AuthMode)
	}
	if cfg.Server.AuthMode == "token" && cfg.Server.AuthToken == "" {
		return errors.New("CONFIG_INVALID: auth mode token requires a token")
	}
	if cfg.Ingest.BatchSize < 1 {
		return errors.New("CONFIG_INVALID: batch size must be >= 1")
	}
	if cfg.Ingest.Workers < 1 {
		return errors.New("CONFIG_INVALID: worker count must be >= 1")
	}
	if cfg.Ingest.MaxAttempts < 1 {
		return errors.New("CONFIG_INVALID: max attempts must be >= 1")
	}
	if cfg.Ingest.ReindexRetries < 0 {
		return errors.New("CONFIG_INVALID: reindex retries must be >= 0")
	}
	return nil
}
