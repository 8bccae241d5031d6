package config

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/m4xw311/gatekeep/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DirName is the per-user and per-project configuration directory.
	DirName = ".gatekeep"

	DefaultMaxSteps      = 5
	DefaultDebugLogLines = 12
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// Approval configures which tools may run without asking the user.
type Approval struct {
	Exempt []string `yaml:"exempt"`
}

type Config struct {
	LLMClient            string           `yaml:"llm"`
	Model                string           `yaml:"model"`
	MaxSteps             int              `yaml:"max_steps"`
	DebugLogLines        int              `yaml:"debug_log_lines"`
	Approval             Approval         `yaml:"approval"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	cfg := &Config{
		MaxSteps:      DefaultMaxSteps,
		DebugLogLines: DefaultDebugLogLines,
		Approval:      Approval{Exempt: []string{"list_directory"}},
	}
	cfg.normalize()
	return cfg
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	home, _ := os.UserHomeDir()
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	return LoadFrom(home, wd)
}

// LoadFrom is LoadConfig with explicit home and project directories. An empty
// directory is skipped.
func LoadFrom(homeDir, projectDir string) (*Config, error) {
	cfg := Default()

	if homeDir != "" {
		userConfigPath := filepath.Join(homeDir, DirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	if projectDir != "" {
		projectConfigPath := filepath.Join(projectDir, DirName, "config.yaml")
		if _, err := os.Stat(projectConfigPath); err == nil {
			if err := loadFromFile(projectConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading project config")
			}
		}
	}

	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only the fields present in the YAML, so the project
	// file replaces user-level values key by key.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.DebugLogLines <= 0 {
		c.DebugLogLines = DefaultDebugLogLines
	}
	// The config directory is never visible to the model, whatever hidden
	// list a file sets.
	for _, glob := range []string{"**/" + DirName, "**/" + DirName + "/**"} {
		if !slices.Contains(c.FilesystemAccess.Hidden, glob) {
			c.FilesystemAccess.Hidden = append(c.FilesystemAccess.Hidden, glob)
		}
	}
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. A configuration
// without any toolsets yields nil, meaning every registered tool is active.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if len(c.Toolsets) == 0 {
		return nil, nil
	}
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	// Fallback to default if a specific toolset was requested but not found
	return c.GetToolset("default")
}
