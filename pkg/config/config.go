// Package config provides the build configuration for trellis displays.
// A single BuildConfig describes where the input table comes from, which
// column holds the panels, how variables are typed and labelled, the
// display's default state, and where the display is written.
//
// The configuration is organized into logical sections:
//   - Input: the tabular source (csv, xlsx, json, parquet; csv and json may be gzipped)
//   - Panel: panel column, row key column, panel source and render policy
//   - Variables: per-variable overrides (kind, label, levels)
//   - State: the default layout, sorts, labels and search of the display
//   - Inference: thresholds for the type inference engine
//   - Output: the root directory of the on-disk specification
//   - Observability: logging, metrics and tracing
//   - Server: the local file server address
//
// Example usage:
//
//	cfg := config.NewBuildConfig("gapminder")
//	cfg.Input.Path = "gapminder.csv"
//	cfg.Panel.Column = "plot"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Panel source types accepted in PanelConfig.Source.Type
const (
	SourceLocal   = "local"
	SourceURL     = "url"
	SourceDynamic = "dynamic"
)

// Missing asset policies accepted in PanelConfig.Policy
const (
	PolicyFail    = "fail"
	PolicyExclude = "exclude"
)

// BuildConfig is the configuration of one display build.
type BuildConfig struct {
	// Name identifies the display; it is also its directory name
	Name string `yaml:"name" json:"name"`
	// Description is shown by the viewer next to the display name
	Description string `yaml:"description" json:"description"`
	// Group clusters related displays in the root index
	Group string `yaml:"group" json:"group"`
	// Tags are free-form keywords stored with the display
	Tags []string `yaml:"tags" json:"tags"`

	Input         InputConfig               `yaml:"input" json:"input"`
	Panel         PanelConfig               `yaml:"panel" json:"panel"`
	Variables     map[string]VariableConfig `yaml:"variables" json:"variables"`
	State         StateConfig               `yaml:"state" json:"state"`
	Inference     InferenceConfig           `yaml:"inference" json:"inference"`
	Output        OutputConfig              `yaml:"output" json:"output"`
	Observability ObservabilityConfig       `yaml:"observability" json:"observability"`
	Server        ServerConfig              `yaml:"server" json:"server"`
}

// InputConfig locates the input table.
type InputConfig struct {
	// Path of the table file
	Path string `yaml:"path" json:"path"`
	// Format is csv, xlsx, json or parquet; empty means detect from the extension
	Format string `yaml:"format" json:"format"`
	// Sheet selects the worksheet for xlsx input (first sheet when empty)
	Sheet string `yaml:"sheet" json:"sheet"`
}

// PanelConfig describes the panel column and how its assets are produced.
type PanelConfig struct {
	// Column holds one panel value per row (required)
	Column string `yaml:"column" json:"column"`
	// KeyColumn optionally supplies the row keys; row numbers are used otherwise
	KeyColumn string `yaml:"key_column" json:"key_column"`
	// Source selects where the viewer finds panel assets
	Source SourceConfig `yaml:"source" json:"source"`
	// Workers is the number of concurrent renders
	Workers int `yaml:"workers" json:"workers"`
	// Policy is "fail" (default) or "exclude" for rows whose panel failed to render
	Policy string `yaml:"policy" json:"policy"`
	// RetryAttempts enables retrying failed renders (1 = no retry)
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between render retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// SourceConfig selects the panel source variant.
type SourceConfig struct {
	// Type is local (default), url or dynamic
	Type string `yaml:"type" json:"type"`
	// BaseURL prefixes row keys for url sources
	BaseURL string `yaml:"base_url" json:"base_url"`
	// URLTemplate is used by dynamic sources; {key} is replaced by the row key
	URLTemplate string `yaml:"url_template" json:"url_template"`
	// Ext is the asset extension for url and dynamic sources
	Ext string `yaml:"ext" json:"ext"`
}

// VariableConfig overrides inference for one variable.
type VariableConfig struct {
	Kind        string   `yaml:"kind" json:"kind"`
	Label       string   `yaml:"label" json:"label"`
	Description string   `yaml:"description" json:"description"`
	Levels      []string `yaml:"levels" json:"levels"`
	Format      string   `yaml:"format" json:"format"`
}

// StateConfig is the default display state.
type StateConfig struct {
	NCol        int          `yaml:"ncol" json:"ncol"`
	NRow        int          `yaml:"nrow" json:"nrow"`
	Arrangement string       `yaml:"arrangement" json:"arrangement"`
	Labels      []string     `yaml:"labels" json:"labels"`
	Sorts       []SortConfig `yaml:"sorts" json:"sorts"`
	Search      string       `yaml:"search" json:"search"`
}

// SortConfig is one default sort key.
type SortConfig struct {
	Var string `yaml:"var" json:"var"`
	Dir string `yaml:"dir" json:"dir"`
}

// InferenceConfig tunes the type inference engine.
type InferenceConfig struct {
	// MaxFactorLevels caps the number of distinct strings a factor may have
	MaxFactorLevels int `yaml:"max_factor_levels" json:"max_factor_levels"`
	// FactorRatio is the largest distinct/non-missing ratio that still reads as categorical
	FactorRatio float64 `yaml:"factor_ratio" json:"factor_ratio"`
	// CurrencyHints are column name fragments that mark numeric columns as currency
	CurrencyHints []string `yaml:"currency_hints" json:"currency_hints"`
}

// OutputConfig locates the on-disk specification.
type OutputConfig struct {
	// Root is the directory holding index.json and displays/
	Root string `yaml:"root" json:"root"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding is json or console
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// EnableMetrics activates Prometheus collectors
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing activates OpenTelemetry spans
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// ServerConfig contains the local file server settings.
type ServerConfig struct {
	// Addr is a loopback host:port; port 0 picks a free port
	Addr string `yaml:"addr" json:"addr"`
}

// NewBuildConfig creates a BuildConfig with sensible defaults.
func NewBuildConfig(name string) *BuildConfig {
	return &BuildConfig{
		Name:      name,
		Variables: make(map[string]VariableConfig),
		Panel: PanelConfig{
			Source:        SourceConfig{Type: SourceLocal},
			Workers:       runtime.NumCPU(),
			Policy:        PolicyFail,
			RetryAttempts: 1,
			RetryDelay:    500 * time.Millisecond,
		},
		State: StateConfig{
			NCol:        1,
			NRow:        1,
			Arrangement: "row",
		},
		Inference: InferenceConfig{
			MaxFactorLevels: 1000,
			FactorRatio:     0.8,
			CurrencyHints:   []string{"price", "cost", "revenue", "amount", "sales", "usd", "eur", "gbp"},
		},
		Output: OutputConfig{
			Root: "trellis_out",
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			EnableMetrics:     true,
			EnableTracing:     false,
			TracingSampleRate: 1.0,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8000",
		},
	}
}

// Validate checks required fields and ranges. It is called after loading
// so that a bad configuration fails before any file is read or written.
func (c *BuildConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Panel.Column == "" {
		return fmt.Errorf("panel.column is required")
	}
	if c.Output.Root == "" {
		return fmt.Errorf("output.root is required")
	}
	switch c.Panel.Source.Type {
	case "", SourceLocal:
	case SourceURL:
		if c.Panel.Source.BaseURL == "" {
			return fmt.Errorf("panel.source.base_url is required for url sources")
		}
		if c.Panel.Source.Ext == "" {
			return fmt.Errorf("panel.source.ext is required for url sources")
		}
	case SourceDynamic:
		if c.Panel.Source.URLTemplate == "" {
			return fmt.Errorf("panel.source.url_template is required for dynamic sources")
		}
	default:
		return fmt.Errorf("unknown panel.source.type %q", c.Panel.Source.Type)
	}
	switch c.Panel.Policy {
	case "", PolicyFail, PolicyExclude:
	default:
		return fmt.Errorf("unknown panel.policy %q", c.Panel.Policy)
	}
	if c.Panel.RetryAttempts < 0 {
		return fmt.Errorf("panel.retry_attempts cannot be negative")
	}
	if c.State.NCol < 1 || c.State.NRow < 1 {
		return fmt.Errorf("state.ncol and state.nrow must be at least 1")
	}
	switch c.State.Arrangement {
	case "", "row", "col":
	default:
		return fmt.Errorf("unknown state.arrangement %q", c.State.Arrangement)
	}
	if c.Inference.FactorRatio < 0 || c.Inference.FactorRatio > 1 {
		return fmt.Errorf("inference.factor_ratio must be within [0, 1]")
	}
	if c.Inference.MaxFactorLevels < 1 {
		return fmt.Errorf("inference.max_factor_levels must be positive")
	}
	return nil
}

// GetWorkers returns the number of render workers, ensuring it's at least 1
func (p *PanelConfig) GetWorkers() int {
	if p.Workers <= 0 {
		return runtime.NumCPU()
	}
	return p.Workers
}

// IsLocal returns true if assets are rendered into the display directory
func (s *SourceConfig) IsLocal() bool {
	return s.Type == "" || s.Type == SourceLocal
}
