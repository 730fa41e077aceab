/*
Copyright 2025 The prtguard Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory when no config
// path is given.
const DefaultConfigFile = ".prtguard.yml"

// Config is the complete prtguard configuration, loaded from an optional
// YAML file and overridable by environment variables and CLI flags.
type Config struct {
	Version string `yaml:"version"`
	Rules   Rules  `yaml:"rules"`
	Output  Output `yaml:"output"`
	Scan    Scan   `yaml:"scan"`
}

// Rules configures which rule tags are reported and which workflow files
// are skipped entirely.
type Rules struct {
	Enabled     []string `yaml:"enabled"`  // empty means all enabled
	Disabled    []string `yaml:"disabled"`
	IgnoreFiles []string `yaml:"ignore_files"` // doublestar globs on workflow paths
}

// Output configures the report and the run log artifact.
type Output struct {
	Format      string `yaml:"format"` // "cli" or "json"
	Directory   string `yaml:"directory"`
	MinSeverity string `yaml:"min_severity"`
}

// Scan configures the worker pool and retry budget.
type Scan struct {
	Concurrency   int    `yaml:"concurrency"`
	RetryAttempts int    `yaml:"retry_attempts"`
	Timeout       string `yaml:"timeout"` // Go duration, zero means no run timeout
}

// Environment holds the environment-variable overrides. GITHUB_TOKEN is
// the ambient credential; everything else is namespaced.
type Environment struct {
	Token       string `env:"GITHUB_TOKEN"`
	Concurrency int    `env:"PRTGUARD_CONCURRENCY"`
	OutputDir   string `env:"PRTGUARD_OUTPUT_DIR"`
	Debug       bool   `env:"PRTGUARD_DEBUG"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Rules:   Rules{},
		Output: Output{
			Format:      "cli",
			Directory:   "output",
			MinSeverity: "INFO",
		},
		Scan: Scan{
			Concurrency:   4,
			RetryAttempts: 4,
		},
	}
}

// LoadConfig loads configuration from the given path. An empty path falls
// back to .prtguard.yml in the working directory; if that does not exist
// either, the defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err != nil {
			return cfg, nil
		}
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadEnvironment parses the environment-variable overrides.
func LoadEnvironment() (Environment, error) {
	var e Environment
	if err := env.Parse(&e); err != nil {
		return Environment{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return e, nil
}

// ApplyEnvironment folds environment overrides into the configuration.
func (c *Config) ApplyEnvironment(e Environment) {
	if e.Concurrency > 0 {
		c.Scan.Concurrency = e.Concurrency
	}
	if e.OutputDir != "" {
		c.Output.Directory = e.OutputDir
	}
}

// IsRuleEnabled reports whether findings carrying the given rule tag are
// reported. An explicit enabled list restricts reporting to those tags;
// the disabled list always wins.
func (c *Config) IsRuleEnabled(tag string) bool {
	for _, d := range c.Rules.Disabled {
		if d == tag {
			return false
		}
	}
	if len(c.Rules.Enabled) == 0 {
		return true
	}
	for _, e := range c.Rules.Enabled {
		if e == tag {
			return true
		}
	}
	return false
}

// ShouldIgnorePath reports whether a workflow file path matches one of the
// configured ignore globs.
func (c *Config) ShouldIgnorePath(path string) bool {
	for _, pattern := range c.Rules.IgnoreFiles {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// RunTimeout parses the configured run timeout. Zero means no timeout.
func (c *Config) RunTimeout() (time.Duration, error) {
	if c.Scan.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Scan.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid scan timeout %q: %w", c.Scan.Timeout, err)
	}
	return d, nil
}
