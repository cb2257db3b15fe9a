package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is structurally usable. Failures here
// abort startup; nothing recovers from a bad config.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateFlows(); err != nil {
		return err
	}
	if err := c.validateContainers(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	for key, value := range map[string]int{
		"workflow.heartbeat_interval":    c.Workflow.HeartbeatInterval,
		"workflow.stall_threshold_min":   c.Workflow.StallThresholdMin,
		"workflow.stall_cooldown_min":    c.Workflow.StallCooldownMin,
		"workflow.hook_timeout":          c.Workflow.HookTimeout,
		"workflow.external_tool_timeout": c.Workflow.ExternalToolTimeout,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.Workflow.MaxRollbacks < 0 {
		return errors.New("workflow.max_rollbacks must be >= 0")
	}
	if c.Workflow.DefaultFlow == "" {
		return errors.New("workflow.default_flow must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateStages() error {
	seen := make(map[string]struct{}, len(c.Stages))
	for i := range c.Stages {
		stage := &c.Stages[i]
		if err := validateStage(stage); err != nil {
			return err
		}
		if _, dup := seen[stage.Name]; dup {
			return fmt.Errorf("duplicate stage name %q", stage.Name)
		}
		seen[stage.Name] = struct{}{}
	}
	return nil
}

func validateStage(stage *Stage) error {
	if stage.Name == "" {
		return errors.New("stage name must not be empty")
	}
	if strings.Contains(stage.Name, ".") {
		return fmt.Errorf("stage name %q must not contain a dot", stage.Name)
	}
	subSeen := make(map[string]struct{}, len(stage.Substages))
	for i := range stage.Substages {
		sub := &stage.Substages[i]
		if sub.Name == "" {
			return fmt.Errorf("stage %q has a substage with no name", stage.Name)
		}
		if strings.Contains(sub.Name, ".") {
			return fmt.Errorf("substage name %q of stage %q must not contain a dot", sub.Name, stage.Name)
		}
		if _, dup := subSeen[sub.Name]; dup {
			return fmt.Errorf("stage %q has duplicate substage %q", stage.Name, sub.Name)
		}
		subSeen[sub.Name] = struct{}{}
	}
	for _, hooks := range [][]Hook{stage.OnExit, stage.PreCompletion, stage.PostStart, stage.PostCompletion} {
		if err := validateHooks(stage.Name, hooks); err != nil {
			return err
		}
	}
	for i := range stage.Substages {
		sub := &stage.Substages[i]
		scope := stage.Name + "." + sub.Name
		for _, hooks := range [][]Hook{sub.OnExit, sub.PreCompletion, sub.PostStart, sub.PostCompletion} {
			if err := validateHooks(scope, hooks); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateHooks(scope string, hooks []Hook) error {
	for i := range hooks {
		hook := &hooks[i]
		if hook.Kind == "" {
			return fmt.Errorf("stage %q has a hook with no kind", scope)
		}
		if hook.MinIntervalSec < 0 {
			return fmt.Errorf("hook %s on %q: min_interval_s must be >= 0", hook.Kind, scope)
		}
		if hook.EveryN < 0 {
			return fmt.Errorf("hook %s on %q: every_n must be >= 0", hook.Kind, scope)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("hook %s on %q: timeout_s must be >= 0", hook.Kind, scope)
		}
	}
	return nil
}

// validateFlows checks flows are named and non-empty. Entry resolution
// against the stage set is the pipeline resolver's job, still at load time.
func (c *Config) validateFlows() error {
	if len(c.Flows) == 0 {
		return errors.New("at least one flow must be defined")
	}
	seen := make(map[string]struct{}, len(c.Flows))
	for i := range c.Flows {
		flow := &c.Flows[i]
		if flow.Name == "" {
			return errors.New("flow name must not be empty")
		}
		if _, dup := seen[flow.Name]; dup {
			return fmt.Errorf("duplicate flow name %q", flow.Name)
		}
		seen[flow.Name] = struct{}{}
		if len(flow.Stages) == 0 {
			return fmt.Errorf("flow %q has no stages", flow.Name)
		}
		for j := range flow.Define {
			if err := validateStage(&flow.Define[j]); err != nil {
				return fmt.Errorf("flow %q inline stage: %w", flow.Name, err)
			}
		}
	}
	if _, ok := c.FlowByName(c.Workflow.DefaultFlow); !ok {
		return fmt.Errorf("workflow.default_flow %q is not a defined flow", c.Workflow.DefaultFlow)
	}
	return nil
}

func (c *Config) validateContainers() error {
	seen := make(map[string]struct{}, len(c.Containers))
	for i := range c.Containers {
		profile := &c.Containers[i]
		if profile.Name == "" {
			return errors.New("container name must not be empty")
		}
		if _, dup := seen[profile.Name]; dup {
			return fmt.Errorf("duplicate container name %q", profile.Name)
		}
		seen[profile.Name] = struct{}{}
	}
	return nil
}
