package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models archon.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Providers map[string]Provider `yaml:"providers"`
	Connector struct {
		BaseURL        string `yaml:"base_url,omitempty"`
		APIKeyEnv      string `yaml:"api_key_env,omitempty"`
		TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	} `yaml:"connector,omitempty"`
	Dispatch struct {
		MaxParallel int `yaml:"max_parallel"`
	} `yaml:"dispatch"`
	Review struct {
		DefaultVerdict    string `yaml:"default_verdict"`
		MaxRevisionRounds int    `yaml:"max_revision_rounds"`
	} `yaml:"review"`
	Estimates map[string]Estimate `yaml:"estimates"`
	Webhooks  []WebhookConfig     `yaml:"webhooks,omitempty"`
}

// WebhookConfig delivers project events to an external URL; an empty
// Events list means every event.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

type Provider struct {
	Model       string `yaml:"model"`
	Description string `yaml:"description,omitempty"`
}

// Estimate is the mid token estimate for a task type; low and high
// bounds derive from it.
type Estimate struct {
	MidTokens int `yaml:"mid_tokens"`
}

// Provider roles every config must bind to a model.
var requiredProviders = []string{"architect", "reviewer", "builder_complex", "builder_simple"}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run archon init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Providers == nil {
		return fmt.Errorf("config.providers is required")
	}
	for _, role := range requiredProviders {
		p, ok := c.Providers[role]
		if !ok {
			return fmt.Errorf("config.providers.%s is required", role)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %s has empty model", role)
		}
	}
	if c.Dispatch.MaxParallel < 1 {
		return fmt.Errorf("config.dispatch.max_parallel must be >= 1")
	}
	switch c.Review.DefaultVerdict {
	case "accept", "revise", "escalate":
	default:
		return fmt.Errorf("config.review.default_verdict must be accept, revise, or escalate")
	}
	if c.Review.MaxRevisionRounds < 0 {
		return fmt.Errorf("config.review.max_revision_rounds must be >= 0")
	}
	if c.Connector.TimeoutSeconds < 0 {
		return fmt.Errorf("config.connector.timeout_seconds must be >= 0")
	}
	for taskType, est := range c.Estimates {
		if est.MidTokens <= 0 {
			return fmt.Errorf("estimate for task type %s must be positive", taskType)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "archon.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
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

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: ""

providers:
  architect:
    model: claude-sonnet-4
    description: "Designs, decomposes, and answers builder questions"
  reviewer:
    model: claude-sonnet-4
    description: "Stage 2 semantic review"
  builder_complex:
    model: claude-sonnet-4
    description: "State schemas, flows, constraints, failure recovery"
  builder_simple:
    model: claude-haiku-3-5
    description: "UX layers and general tasks"

connector:
  base_url: ""
  api_key_env: ARCHON_CONNECTOR_TOKEN
  timeout_seconds: 120

dispatch:
  max_parallel: 4

review:
  default_verdict: accept
  max_revision_rounds: 2

estimates:
  state_schema:
    mid_tokens: 12000
  flow:
    mid_tokens: 15000
  constraint:
    mid_tokens: 10000
  failure_recovery:
    mid_tokens: 14000
  dependency_cascade:
    mid_tokens: 16000
  ux_layer:
    mid_tokens: 8000
  general:
    mid_tokens: 6000
`
