package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sahilkv/acpbridge/errors"
)

// DefaultAdapterCommand is the subprocess spawned as the protocol peer
// when neither config nor environment names one.
const DefaultAdapterCommand = "claude-code-acp --stdio"

// FilesystemAccess restricts what tool calls and protocol peers may touch
// inside the workspace.
type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type Config struct {
	LLMClient        string           `yaml:"llm"`
	Model            string           `yaml:"model"`
	Workspace        string           `yaml:"workspace"`
	OllamaHost       string           `yaml:"ollama_host"`
	AdapterCommand   string           `yaml:"adapter_command"`
	AllowedCommands  []string         `yaml:"allowed_commands"`
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access"`
}

// LoadConfig loads configuration from the user's home directory and the
// current working directory, with the latter taking precedence, then
// applies environment overrides.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// Keep our own state directories out of tool reach by default.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden,
		".acpbridge", ".acpbridge/**")

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".acpbridge", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".acpbridge", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites fields present in the YAML, giving a simple
	// merge where project-level config replaces user-level.
	return yaml.Unmarshal(data, cfg)
}

// applyEnv layers environment overrides on top of the file config.
func (c *Config) applyEnv() {
	if v := os.Getenv("ACP_ADAPTER"); v != "" {
		c.AdapterCommand = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.OllamaHost = v
	}
}

// AdapterCmd returns the configured adapter command line or the default.
func (c *Config) AdapterCmd() string {
	if c.AdapterCommand != "" {
		return c.AdapterCommand
	}
	return DefaultAdapterCommand
}

// UsesAPIKey reports whether a pre-provisioned credential is present, in
// which case the interactive authentication step is skipped.
func (c *Config) UsesAPIKey() bool {
	return os.Getenv("ANTHROPIC_API_KEY") != ""
}

// DefaultWorkspace returns the configured workspace root, falling back to
// ./workspace under the current directory.
func (c *Config) DefaultWorkspace() string {
	if c.Workspace != "" {
		return c.Workspace
	}
	wd, err := os.Getwd()
	if err != nil {
		return "workspace"
	}
	return filepath.Join(wd, "workspace")
}
