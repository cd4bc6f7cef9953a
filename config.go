package chartsynth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables of the pipeline. Step budget, sample size and
// the catalog subset are deliberately configuration rather than constants so
// tests can exercise boundary values (budget 0, budget 1) deterministically.
type Config struct {
	// Model is the fully qualified model name passed to the runtime,
	// e.g. "googleai/gemini-2.0-flash".
	Model string `yaml:"model"`

	// StepBudget is the hard ceiling on model turns per generation run.
	StepBudget int `yaml:"step_budget"`

	// SampleRows caps how many result rows are forwarded to the model.
	// The full row count is still reported, and the full row set is used
	// when hydrating the persisted series.
	SampleRows int `yaml:"sample_rows"`

	// CatalogSubset restricts which chart-family tools are exposed per run.
	// Empty means the default five families. Tool-selection accuracy
	// degrades as the option set grows; this is a tunable, not a law.
	CatalogSubset []string `yaml:"catalog_subset"`

	// MaxConcurrentJobs bounds the background generation worker pool.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// Event bus configuration
	EnableEventBus      bool `yaml:"enable_event_bus"`
	EventBusBufferSize  int  `yaml:"event_bus_buffer_size"`
	EventBusWorkerCount int  `yaml:"event_bus_worker_count"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Model:               "googleai/gemini-2.0-flash",
		StepBudget:          3,
		SampleRows:          10,
		MaxConcurrentJobs:   4,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
	}
}

// LoadConfig reads a YAML config file and overlays it on the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.ValidateConfig(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ValidateConfig rejects configurations the pipeline cannot run with.
func (c Config) ValidateConfig() error {
	if c.StepBudget < 0 {
		return NewConfigurationError("step_budget must be >= 0", nil)
	}
	if c.SampleRows < 1 {
		return NewConfigurationError("sample_rows must be >= 1", nil)
	}
	if c.MaxConcurrentJobs < 1 {
		return NewConfigurationError("max_concurrent_jobs must be >= 1", nil)
	}
	return nil
}
