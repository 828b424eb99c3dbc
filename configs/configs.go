// Package configs loads the orchestrator configuration from a YAML or
// JSON file and fills in the defaults for everything left unset.
package configs

import (
	"fmt"
	"strings"

	"github.com/elastic/go-ucfg"
	"github.com/elastic/go-ucfg/json"
	"github.com/elastic/go-ucfg/yaml"

	"codeberg.org/iklabib/vmsense/rlimit"
)

// Webhook configures the optional report delivery webhook. An empty URL
// disables it.
type Webhook struct {
	URL string `config:"url" yaml:"url" json:"url"`
}

// Config is the full orchestrator configuration. File values are
// overridden by CLI flags at the boundary.
type Config struct {
	Iterations     int             `config:"iterations" yaml:"iterations" json:"iterations"`
	TimeoutSeconds int             `config:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
	Parallelism    int             `config:"parallelism" yaml:"parallelism" json:"parallelism"`
	OutputDir      string          `config:"output_dir" yaml:"output_dir" json:"output_dir"`
	SearchDirs     []string        `config:"search_dirs" yaml:"search_dirs" json:"search_dirs"`
	Webhook        Webhook         `config:"webhook" yaml:"webhook" json:"webhook"`
	Rlimits        []rlimit.Rlimit `config:"rlimits" yaml:"rlimits" json:"rlimits"`
	Verbose        bool            `config:"verbose" yaml:"verbose" json:"verbose"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	return Config{
		Iterations:     1000,
		TimeoutSeconds: 300,
		Parallelism:    1,
		OutputDir:      "vmsense_results",
		SearchDirs:     []string{"."},
	}
}

// LoadConfig reads the configuration file at path, layered over the
// defaults. The format follows the extension; anything that is not
// .json is parsed as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Defaults()

	var parsed *ucfg.Config
	var err error
	if strings.HasSuffix(path, ".json") {
		parsed, err = json.NewConfigWithFile(path, ucfg.PathSep("."))
	} else {
		parsed, err = yaml.NewConfigWithFile(path, ucfg.PathSep("."))
	}
	if err != nil {
		return cfg, fmt.Errorf("loading config %s: %w", path, err)
	}

	if err := parsed.Unpack(&cfg); err != nil {
		return cfg, fmt.Errorf("unpacking config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings no run can honor. Called again at the CLI
// boundary after flag overrides.
func (c Config) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be positive, got %d", c.Parallelism)
	}
	return nil
}
