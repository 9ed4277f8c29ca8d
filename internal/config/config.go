package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"capplan/internal/domain"
)

// FileName is the workspace config file.
const FileName = "planner.yml"

const dateLayout = "2006-01-02"

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Config models planner.yml.
type Config struct {
	Workspace struct {
		Name string `yaml:"name" json:"name"`
	} `yaml:"workspace" json:"workspace"`
	Planner struct {
		Granularity          string  `yaml:"granularity" json:"granularity"`
		ConcurrencyThreshold int     `yaml:"concurrency_threshold" json:"concurrency_threshold"`
		FuzzyThreshold       float64 `yaml:"fuzzy_threshold" json:"fuzzy_threshold"`
		DefaultPriority      string  `yaml:"default_priority" json:"default_priority"`
		DefaultColor         string  `yaml:"default_color" json:"default_color"`
		AllocationTolerance  float64 `yaml:"allocation_tolerance" json:"allocation_tolerance"`
	} `yaml:"planner" json:"planner"`
	Report struct {
		From string `yaml:"from" json:"from,omitempty"`
		To   string `yaml:"to" json:"to,omitempty"`
	} `yaml:"report" json:"report"`
	Server struct {
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with cplan config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, ok := domain.ParseGranularity(c.Planner.Granularity); !ok {
		return fmt.Errorf("config.planner.granularity must be week or month, got %q", c.Planner.Granularity)
	}
	if c.Planner.ConcurrencyThreshold < 1 {
		return fmt.Errorf("config.planner.concurrency_threshold must be at least 1")
	}
	if c.Planner.FuzzyThreshold <= 0 || c.Planner.FuzzyThreshold > 1 {
		return fmt.Errorf("config.planner.fuzzy_threshold must be in (0, 1]")
	}
	if p, ok := domain.ParsePriority(c.Planner.DefaultPriority); !ok || p == domain.PriorityUnset {
		return fmt.Errorf("config.planner.default_priority must be one of P1..P4, got %q", c.Planner.DefaultPriority)
	}
	if !hexColor.MatchString(c.Planner.DefaultColor) {
		return fmt.Errorf("config.planner.default_color must be a #RRGGBB colour")
	}
	if c.Planner.AllocationTolerance <= 0 {
		return fmt.Errorf("config.planner.allocation_tolerance must be positive")
	}
	from, to, err := c.ReportWindow()
	if err != nil {
		return err
	}
	if from != nil && to != nil && to.Before(*from) {
		return fmt.Errorf("config.report.to is before config.report.from")
	}
	if c.Server.BasePath == "" || c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Granularity returns the parsed bucket granularity.
func (c *Config) Granularity() domain.Granularity {
	g, ok := domain.ParseGranularity(c.Planner.Granularity)
	if !ok {
		return domain.GranularityWeek
	}
	return g
}

// DefaultPriority returns the parsed fallback priority.
func (c *Config) DefaultPriority() domain.Priority {
	p, ok := domain.ParsePriority(c.Planner.DefaultPriority)
	if !ok || p == domain.PriorityUnset {
		return domain.P2
	}
	return p
}

// ReportWindow parses report.from and report.to; empty values are open.
func (c *Config) ReportWindow() (from, to *time.Time, err error) {
	parse := func(key, v string) (*time.Time, error) {
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return nil, fmt.Errorf("config.report.%s must be YYYY-MM-DD: %w", key, err)
		}
		return &t, nil
	}
	if from, err = parse("from", c.Report.From); err != nil {
		return nil, nil, err
	}
	if to, err = parse("to", c.Report.To); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config for a workspace.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(name))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys left out
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `workspace:
  name: %q

planner:
  # week or month
  granularity: week
  # distinct tasks per person-week that trigger a concurrency note
  concurrency_threshold: 3
  # minimum similarity (0..1) for a "did you mean" suggestion
  fuzzy_threshold: 0.6
  default_priority: P2
  default_color: "#888888"
  allocation_tolerance: 0.000001

report:
  from: ""
  to: ""

server:
  base_path: /v0
`
