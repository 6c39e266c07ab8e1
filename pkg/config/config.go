package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

// Config represents the complete configuration for a pipeline run.
type Config struct {
	// Study identity and directory layout
	Study StudyConfig `yaml:"study" validate:"required"`

	// Input/output paths, relative to the project root unless absolute
	Paths PathsConfig `yaml:"paths,omitempty"`

	// Convergence loop settings
	Comparison ComparisonConfig `yaml:"comparison,omitempty"`

	// Candidate generator settings
	Generator GeneratorConfig `yaml:"generator,omitempty"`

	// Implementation Guide lookup settings
	IG IGConfig `yaml:"ig,omitempty"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// StudyConfig identifies the study and where its artifacts live.
type StudyConfig struct {
	// Study identifier, stamped on every record written during a run
	ID string `yaml:"id" validate:"required"`

	// Root directory holding studies/<id>/ trees
	Root string `yaml:"root,omitempty"`

	// Organization-level standards directory (conventions, promoted pitfalls)
	StandardsDir string `yaml:"standards_dir,omitempty"`
}

// PathsConfig holds input and output locations for a domain run.
type PathsConfig struct {
	RawData         string `yaml:"raw_data,omitempty"`
	FunctionLibrary string `yaml:"function_library,omitempty"`
	CTLookup        string `yaml:"ct_lookup,omitempty"`
	OutputDir       string `yaml:"output_dir,omitempty"`
	StateDir        string `yaml:"state_dir,omitempty"`
}

// ComparisonConfig controls the convergence engine.
type ComparisonConfig struct {
	// Maximum regeneration attempts before the run fails
	MaxAttempts int `yaml:"max_attempts,omitempty" validate:"omitempty,min=1,max=10"`

	// Identifier columns used for row alignment
	IDColumns []string `yaml:"id_columns,omitempty"`

	// Number of differing values sampled per column in diff reports
	SampleLimit int `yaml:"sample_limit,omitempty" validate:"omitempty,min=1"`

	// Primary dataset format produced by the executors
	OutputFormat string `yaml:"output_format,omitempty" validate:"omitempty,oneof=parquet csv"`
}

// GeneratorConfig configures the candidate generator collaborator.
type GeneratorConfig struct {
	Provider    string  `yaml:"provider,omitempty" validate:"omitempty,oneof=anthropic"`
	ModelID     string  `yaml:"model_id,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" validate:"omitempty,min=1"`
	Temperature float64 `yaml:"temperature,omitempty" validate:"omitempty,min=0,max=1"`

	// Interpreter used to execute generated programs (e.g. Rscript)
	Interpreter string `yaml:"interpreter,omitempty"`
}

// IGConfig configures the Implementation Guide content-lookup service.
type IGConfig struct {
	// Command launching the MCP content server over stdio
	ServerCommand string   `yaml:"server_command,omitempty"`
	ServerArgs    []string `yaml:"server_args,omitempty"`

	// Additional content directories searched before the standard set
	ContentDirs []string `yaml:"content_dirs,omitempty"`
}

// LoggingConfig configures the logger built at startup.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty" validate:"omitempty,oneof=DEBUG INFO WARN ERROR"`
	File  string `yaml:"file,omitempty"`
	Color bool   `yaml:"color,omitempty"`
}

// Default returns a Config with the standard directory layout and the
// convergence settings the workflow assumes.
func Default() *Config {
	return &Config{
		Study: StudyConfig{
			Root:         "studies",
			StandardsDir: "standards",
		},
		Comparison: ComparisonConfig{
			MaxAttempts:  5,
			IDColumns:    []string{"USUBJID"},
			SampleLimit:  5,
			OutputFormat: "parquet",
		},
		Generator: GeneratorConfig{
			Provider:    "anthropic",
			MaxTokens:   8192,
			Temperature: 0.2,
			Interpreter: "Rscript",
		},
		Logging: LoggingConfig{
			Level: "INFO",
			Color: true,
		},
	}
}

// Load reads a single config file, applies it over the defaults and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLayered resolves configuration the way a multi-study project lays it
// out: organization standards first, then the study's own config.yaml over
// it. A missing study file is not an error; a missing standards file is.
func LoadLayered(standardsDir, studyDir string) (*Config, error) {
	cfg := Default()

	standards := filepath.Join(standardsDir, "config.yaml")
	if err := applyFile(cfg, standards); err != nil {
		return nil, err
	}

	study := filepath.Join(studyDir, "config.yaml")
	if _, err := os.Stat(study); err == nil {
		if err := applyFile(cfg, study); err != nil {
			return nil, err
		}
	}

	if cfg.Study.StandardsDir == "" {
		cfg.Study.StandardsDir = standardsDir
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile decodes a yaml file over the existing config. Keys absent from
// the file keep their current values, which is what makes layering work.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.ResourceNotFound, "failed to read config file"),
			errors.Fields{"path": path},
		)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to parse config file"),
			errors.Fields{"path": path},
		)
	}
	return nil
}
