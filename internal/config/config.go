package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	WorktreeDir string `toml:"worktree_dir"`
}

// Workflow contains daemon timing, rate, and pipeline-wide defaults.
type Workflow struct {
	HeartbeatInterval   int    `toml:"heartbeat_interval"`
	StallThresholdMin   int    `toml:"stall_threshold_min"`
	StallCooldownMin    int    `toml:"stall_cooldown_min"`
	MaxRollbacks        int    `toml:"max_rollbacks"`
	HookTimeout         int    `toml:"hook_timeout"`
	DefaultFlow         string `toml:"default_flow"`
	DefaultModel        string `toml:"default_model"`
	DefaultSkill        string `toml:"default_skill"`
	IntegrationBranch   string `toml:"integration_branch"`
	ReconcileEveryN     int    `toml:"reconcile_every_n"`
	ExternalToolTimeout int    `toml:"external_tool_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Stalls         bool   `toml:"stalls"`
	Escalations    bool   `toml:"escalations"`
	Transitions    bool   `toml:"transitions"`
	Errors         bool   `toml:"errors"`
}

// Role maps an executing role to its default model and skill.
type Role struct {
	Name  string `toml:"name"`
	Model string `toml:"model"`
	Skill string `toml:"skill"`
}

// Hook is one hook entry attached to a stage lifecycle event. The kind
// selects the implementation; remaining fields are parameters, only the ones
// relevant to the kind are read.
type Hook struct {
	Kind string `toml:"kind"`

	// Common parameters, honored by every kind.
	Optional       bool `toml:"optional"`
	HostOnly       bool `toml:"host_only"`
	TimeoutSeconds int  `toml:"timeout_s"`
	MinIntervalSec int  `toml:"min_interval_s"`
	EveryN         int  `toml:"every_n"`
	Nth            int  `toml:"nth"` // deprecated alias of every_n

	// Validator parameters.
	Path     string   `toml:"path"`
	File     string   `toml:"file"`
	Section  string   `toml:"section"`
	Field    string   `toml:"field"`
	Min      *float64 `toml:"min"`
	Max      *float64 `toml:"max"`
	MinItems int      `toml:"min_items"`
	MinWords int      `toml:"min_words"`
	Allowed  []string `toml:"allowed"`
	State    string   `toml:"state"`
	Item     string   `toml:"item"`
	Require  string   `toml:"require"`
	OnFail   string   `toml:"on_fail"`

	// Action parameters.
	Command  string `toml:"command"`
	Template string `toml:"template"`
	Dest     string `toml:"dest"`
	Target   string `toml:"target"`
	Onto     string `toml:"onto"`
}

// Substage is a sub-phase of a stage with its own hooks and overrides.
type Substage struct {
	Name  string `toml:"name"`
	Model string `toml:"model"`
	Skill string `toml:"skill"`
	When  string `toml:"when"`

	OnExit         []Hook `toml:"on_exit"`
	PreCompletion  []Hook `toml:"pre_completion"`
	PostStart      []Hook `toml:"post_start"`
	PostCompletion []Hook `toml:"post_completion"`
}

// Stage describes one pipeline phase.
type Stage struct {
	Name         string `toml:"name"`
	Role         string `toml:"role"`
	HumanReview  bool   `toml:"human_review"`
	ParkingLot   bool   `toml:"parking_lot"`
	RedirectOnly bool   `toml:"redirect_only"`
	When         string `toml:"when"`
	Model        string `toml:"model"`
	Skill        string `toml:"skill"`
	Container    string `toml:"container"`

	OnExit         []Hook `toml:"on_exit"`
	PreCompletion  []Hook `toml:"pre_completion"`
	PostStart      []Hook `toml:"post_start"`
	PostCompletion []Hook `toml:"post_completion"`

	Substages []Substage `toml:"substages"`
}

// Flow names an ordered pipeline variant. Entries are bare stage names
// (expanded to the stage's substage dot-paths) or exact dot-paths. Stages
// listed under Define join the canonical stage set at load.
type Flow struct {
	Name   string   `toml:"name"`
	Stages []string `toml:"stages"`
	Define []Stage  `toml:"define"`
}

// Container is an inheritable bundle of image/mount/env/safety settings for
// an isolated worker.
type Container struct {
	Name      string            `toml:"name"`
	Extends   string            `toml:"extends"`
	Image     string            `toml:"image"`
	Mounts    []string          `toml:"mounts"`
	Env       map[string]string `toml:"env"`
	Dangerous *bool             `toml:"dangerous"`
}

// EventAction is one dispatcher action entry for a lifecycle event.
type EventAction struct {
	Action         string            `toml:"action"`
	Optional       bool              `toml:"optional"`
	MinIntervalSec int               `toml:"min_interval_s"`
	EveryN         int               `toml:"every_n"`
	Nth            int               `toml:"nth"` // deprecated alias of every_n
	Params         map[string]string `toml:"params"`
}

// Events configures the action lists for each dispatcher event.
type Events struct {
	Startup   []EventAction `toml:"startup"`
	Shutdown  []EventAction `toml:"shutdown"`
	Heartbeat []EventAction `toml:"heartbeat"`
}

// Config encapsulates all configuration values for loom.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Roles         []Role        `toml:"roles"`
	Stages        []Stage       `toml:"stages"`
	Flows         []Flow        `toml:"flows"`
	Containers    []Container   `toml:"containers"`
	Events        Events        `toml:"events"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/loom/config.toml")
}

// Load locates, parses, normalizes, and validates a configuration file. When
// no file exists the repository defaults (including the stock pipeline) are
// returned.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("loom.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.WorktreeDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StateDocumentPath returns the location of the persisted run-state document.
func (c *Config) StateDocumentPath() string {
	return filepath.Join(c.Paths.StateDir, "runstate.toml")
}

// DatabasePath returns the location of the work item database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "items.db")
}

// LockPath returns the location of the single-orchestrator lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "loomd.lock")
}

// StageByName returns the stage definition for a bare stage name.
func (c *Config) StageByName(name string) (*Stage, bool) {
	for i := range c.Stages {
		if c.Stages[i].Name == name {
			return &c.Stages[i], true
		}
	}
	return nil, false
}

// FlowByName returns the flow definition for a flow name.
func (c *Config) FlowByName(name string) (*Flow, bool) {
	for i := range c.Flows {
		if c.Flows[i].Name == name {
			return &c.Flows[i], true
		}
	}
	return nil, false
}

// RoleByName returns the role definition for a role name.
func (c *Config) RoleByName(name string) (*Role, bool) {
	for i := range c.Roles {
		if c.Roles[i].Name == name {
			return &c.Roles[i], true
		}
	}
	return nil, false
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
