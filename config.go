package covenant

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the .covenant.yaml configuration file.
type Config struct {
	// Coverage validation thresholds.
	Coverage CoverageConfig `yaml:"coverage,omitempty"`

	// Build settings for the compile command.
	Build BuildConfig `yaml:"build,omitempty"`
}

// CoverageConfig holds requirement-validator settings.
type CoverageConfig struct {
	// Uncovered requirements at this priority or higher are errors.
	ErrorMinPriority string `yaml:"error_min_priority,omitempty"`

	// Uncovered requirements at this priority or higher (below the error
	// threshold) are warnings.
	WarningMinPriority string `yaml:"warning_min_priority,omitempty"`

	// Strict promotes every uncovered requirement to an error.
	Strict bool `yaml:"strict,omitempty"`

	// Default report format: text, json, or markdown.
	Format string `yaml:"format,omitempty"`
}

// BuildConfig holds settings for the build command.
type BuildConfig struct {
	// Output path for the compiled WebAssembly module.
	Out string `yaml:"out,omitempty"`

	// Optimization level (O0-O3).
	OptLevel string `yaml:"opt_level,omitempty"`
}

// DefaultConfigNames are the filenames we search for.
var DefaultConfigNames = []string{".covenant.yaml", ".covenant.yml", "covenant.yaml", "covenant.yml"}

// LoadConfig finds and loads the nearest .covenant.yaml walking up from dir.
func LoadConfig(dir string) (*Config, error) {
	path, err := FindConfig(dir)
	if err != nil {
		return nil, err
	}

	return LoadConfigFile(path)
}

// FindConfig searches for a config file starting from dir and walking up.
func FindConfig(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for dir := absDir; ; {
		for _, name := range DefaultConfigNames {
			path := filepath.Join(dir, name)

			_, err := os.Stat(path)
			if err == nil {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrConfigNotFound
		}

		dir = parent
	}
}

// LoadConfigFile loads a config from a specific path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var cfg Config

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return &cfg, nil
}
