package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/m4xw311/panelrelay/errors"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user and per-project configuration directory.
const DirName = ".panelrelay"

// Delivery selects how a request's session id and prompt reach the agent process.
type Delivery string

const (
	DeliveryArgs   Delivery = "args"
	DeliveryStdin  Delivery = "stdin"
	DeliveryScript Delivery = "script"
)

// Argument placeholders substituted per request.
const (
	PlaceholderSessionID = "{session_id}"
	PlaceholderPrompt    = "{prompt}"
)

// DefaultExitGrace is how long a process may keep running after its terminal
// frame before it is killed.
const DefaultExitGrace = 2 * time.Second

// Backend describes one agent process the relay can drive.
type Backend struct {
	Name       string   `yaml:"name"`
	Executable string   `yaml:"executable"`
	Args       []string `yaml:"args"`
	Delivery   Delivery `yaml:"delivery"`
	// Script is the static entry script body for DeliveryScript. It never
	// contains request data; the prompt reaches it through argv.
	Script          string `yaml:"script"`
	ScriptExtension string `yaml:"script_extension"`
	ScriptDir       string `yaml:"script_dir"`

	WorkingDirectory       string            `yaml:"working_directory"`
	Environment            map[string]string `yaml:"environment"`
	EnvironmentPassthrough []string          `yaml:"environment_passthrough"`

	ExitGrace      time.Duration `yaml:"exit_grace"`
	UnescapeChunks bool          `yaml:"unescape_chunks"`

	HistoryArgs []string `yaml:"history_args"`
	ClearArgs   []string `yaml:"clear_args"`
}

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

// Agent configures the reference agent binary.
type Agent struct {
	LLMClient            string           `yaml:"llm"`
	Model                string           `yaml:"model"`
	SystemPrompt         string           `yaml:"system_prompt"`
	SessionsDir          string           `yaml:"sessions_dir" env:"PANELRELAY_SESSIONS_DIR"`
	MaxHistory           int              `yaml:"max_history"`
	MaxTurns             int              `yaml:"max_turns"`
	Toolset              string           `yaml:"toolset"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
}

type Config struct {
	Backend           string    `yaml:"backend" env:"PANELRELAY_BACKEND"`
	Backends          []Backend `yaml:"backends"`
	SerializeSessions *bool     `yaml:"serialize_sessions"`
	LogLevel          string    `yaml:"log_level" env:"PANELRELAY_LOG_LEVEL"`
	LogFile           string    `yaml:"log_file" env:"PANELRELAY_LOG_FILE"`
	Agent             Agent     `yaml:"agent"`
}

// Default returns the configuration used when no file is present: a single
// backend running relay-agent from PATH.
func Default() *Config {
	cfg := &Config{
		Backend:  "default",
		LogLevel: "info",
		Backends: []Backend{{
			Name:           "default",
			Executable:     "relay-agent",
			Delivery:       DeliveryArgs,
			UnescapeChunks: true,
			HistoryArgs:    []string{"-history", "-session", PlaceholderSessionID},
			ClearArgs:      []string{"-clear", "-session", PlaceholderSessionID},
		}},
		Agent: Agent{
			LLMClient:   "mock",
			SessionsDir: filepath.Join(DirName, "sessions"),
			MaxHistory:  10,
			MaxTurns:    8,
			Toolset:     "default",
			Toolsets:    []Toolset{{Name: "default"}},
		},
	}
	// Agent-side session files hold conversation data.
	cfg.Agent.FilesystemAccess.Hidden = append(cfg.Agent.FilesystemAccess.Hidden, DirName, DirName+"/**")
	return cfg
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence, then applies
// environment overrides.
func LoadConfig() (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, DirName, "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, DirName, "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrapf(err, "error applying environment overrides")
	}
	return cfg, cfg.Validate()
}

// LoadFile loads a single configuration file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading config %s", path)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrapf(err, "error applying environment overrides")
	}
	return cfg, cfg.Validate()
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Fields present in the YAML replace earlier values, lists included.
	return yaml.Unmarshal(data, cfg)
}

// Validate checks backend definitions.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("backend without a name")
		}
		if seen[b.Name] {
			return errors.New("backend '%s' defined twice", b.Name)
		}
		seen[b.Name] = true
		if b.Executable == "" {
			return errors.New("backend '%s' has no executable", b.Name)
		}
		switch b.Delivery {
		case "", DeliveryArgs, DeliveryStdin:
		case DeliveryScript:
			if b.Script == "" {
				return errors.New("backend '%s' uses script delivery without a script", b.Name)
			}
		default:
			return errors.New("backend '%s' has unknown delivery '%s'", b.Name, b.Delivery)
		}
	}
	return nil
}

// Serialize reports whether requests on one session run one at a time.
func (c *Config) Serialize() bool {
	return c.SerializeSessions == nil || *c.SerializeSessions
}

// GetBackend finds a backend by name, falling back to the configured default
// backend when name is empty.
func (c *Config) GetBackend(name string) (Backend, error) {
	if name == "" {
		name = c.Backend
	}
	if name == "" {
		name = "default"
	}
	for _, b := range c.Backends {
		if b.Name == name {
			return b.WithDefaults(), nil
		}
	}
	return Backend{}, errors.New("backend '%s' not found in configuration", name)
}

// WithDefaults fills unset optional fields.
func (b Backend) WithDefaults() Backend {
	if b.Delivery == "" {
		b.Delivery = DeliveryArgs
	}
	if b.ExitGrace <= 0 {
		b.ExitGrace = DefaultExitGrace
	}
	if len(b.Args) == 0 && b.Delivery != DeliveryStdin {
		b.Args = []string{"-session", PlaceholderSessionID, "-prompt", PlaceholderPrompt}
	}
	return b
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided.
func (a *Agent) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for _, ts := range a.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	return a.GetToolset("default")
}
