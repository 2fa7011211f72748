package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"crewboard/internal/domain"
)

// Config models mission.yml.
type Config struct {
	Mission struct {
		Name string `yaml:"name"`
	} `yaml:"mission"`
	ItemTypes []string        `yaml:"item_types"`
	WIPLimits map[string]*int `yaml:"wip_limits"`
	Rejection struct {
		EscalationThreshold int `yaml:"escalation_threshold"`
	} `yaml:"rejection"`
	Lock struct {
		TimeoutSeconds     int `yaml:"timeout_seconds"`
		InitialDelayMillis int `yaml:"initial_delay_millis"`
	} `yaml:"lock"`
}

// Load reads and validates config from the board directory.
func Load(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.Errf(domain.CodeValidation, "",
				"no config at %s; run cb mission init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults when no config file exists yet.
func LoadOptional(dir string) (*Config, error) {
	data, err := os.ReadFile(Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(""), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a board directory.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "mission.yml")
}

// FromYAML parses and validates config from raw YAML bytes.
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

// Default returns the default Config for a mission.
func Default(missionName string) *Config {
	var cfg Config
	cfg.Mission.Name = missionName
	cfg.ItemTypes = []string{"feature", "bug", "test", "refactor", "docs", "chore"}
	cfg.WIPLimits = map[string]*int{}
	cfg.Rejection.EscalationThreshold = 2
	cfg.Lock.TimeoutSeconds = 10
	cfg.Lock.InitialDelayMillis = 25
	return &cfg
}

// Validate ensures the config meets the required structure.
func (c *Config) Validate() error {
	if len(c.ItemTypes) == 0 {
		return fmt.Errorf("config.item_types must not be empty")
	}
	for _, t := range c.ItemTypes {
		if t == "" {
			return fmt.Errorf("config.item_types contains an empty type")
		}
	}
	for raw, limit := range c.WIPLimits {
		if _, err := domain.ParseStage(raw); err != nil {
			return fmt.Errorf("config.wip_limits: unknown stage %q", raw)
		}
		if limit != nil && *limit < 0 {
			return fmt.Errorf("config.wip_limits.%s must not be negative", raw)
		}
	}
	if c.Rejection.EscalationThreshold < 1 {
		return fmt.Errorf("config.rejection.escalation_threshold must be at least 1")
	}
	if c.Lock.TimeoutSeconds < 1 {
		return fmt.Errorf("config.lock.timeout_seconds must be at least 1")
	}
	if c.Lock.InitialDelayMillis < 1 {
		return fmt.Errorf("config.lock.initial_delay_millis must be at least 1")
	}
	return nil
}

// ItemTypeKnown reports whether t is a configured item type.
func (c *Config) ItemTypeKnown(t string) bool {
	for _, known := range c.ItemTypes {
		if t == known {
			return true
		}
	}
	return false
}

// StageWIPLimits converts the raw limit map to stage keys.
func (c *Config) StageWIPLimits() map[domain.Stage]*int {
	limits := make(map[domain.Stage]*int, len(c.WIPLimits))
	for raw, limit := range c.WIPLimits {
		stage, err := domain.ParseStage(raw)
		if err != nil {
			continue
		}
		limits[stage] = limit
	}
	return limits
}

// LockTimeout returns the lock acquisition ceiling.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Lock.TimeoutSeconds) * time.Second
}

// LockInitialDelay returns the first retry delay for lock acquisition.
func (c *Config) LockInitialDelay() time.Duration {
	return time.Duration(c.Lock.InitialDelayMillis) * time.Millisecond
}

// Write saves the config to the board directory.
func (c *Config) Write(dir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(dir), data, 0o644)
}
