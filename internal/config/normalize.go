package config

import (
	"fmt"
	"strings"
)

// normalize expands paths, trims names, and resolves deprecated aliases.
func (c *Config) normalize() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.WorktreeDir, err = expandPath(c.Paths.WorktreeDir); err != nil {
		return err
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Workflow.DefaultFlow = strings.TrimSpace(c.Workflow.DefaultFlow)
	c.Workflow.IntegrationBranch = strings.TrimSpace(c.Workflow.IntegrationBranch)

	for i := range c.Stages {
		normalizeStage(&c.Stages[i])
	}
	for i := range c.Flows {
		flow := &c.Flows[i]
		flow.Name = strings.TrimSpace(flow.Name)
		for j := range flow.Stages {
			flow.Stages[j] = strings.TrimSpace(flow.Stages[j])
		}
		for j := range flow.Define {
			normalizeStage(&flow.Define[j])
		}
	}
	for i := range c.Containers {
		c.Containers[i].Name = strings.TrimSpace(c.Containers[i].Name)
		c.Containers[i].Extends = strings.TrimSpace(c.Containers[i].Extends)
	}
	for i := range c.Roles {
		c.Roles[i].Name = strings.TrimSpace(c.Roles[i].Name)
	}

	normalizeEventActions(c.Events.Startup)
	normalizeEventActions(c.Events.Shutdown)
	normalizeEventActions(c.Events.Heartbeat)
	return nil
}

func normalizeStage(stage *Stage) {
	stage.Name = strings.TrimSpace(stage.Name)
	stage.Role = strings.TrimSpace(stage.Role)
	stage.Container = strings.TrimSpace(stage.Container)
	normalizeHooks(stage.OnExit)
	normalizeHooks(stage.PreCompletion)
	normalizeHooks(stage.PostStart)
	normalizeHooks(stage.PostCompletion)
	for i := range stage.Substages {
		sub := &stage.Substages[i]
		sub.Name = strings.TrimSpace(sub.Name)
		normalizeHooks(sub.OnExit)
		normalizeHooks(sub.PreCompletion)
		normalizeHooks(sub.PostStart)
		normalizeHooks(sub.PostCompletion)
	}
}

// normalizeHooks folds the deprecated nth alias into every_n. When both are
// configured every_n wins.
func normalizeHooks(hooks []Hook) {
	for i := range hooks {
		hooks[i].Kind = strings.TrimSpace(hooks[i].Kind)
		if hooks[i].EveryN == 0 && hooks[i].Nth > 0 {
			hooks[i].EveryN = hooks[i].Nth
		}
		hooks[i].Nth = 0
	}
}

func normalizeEventActions(actions []EventAction) {
	for i := range actions {
		actions[i].Action = strings.TrimSpace(actions[i].Action)
		if actions[i].EveryN == 0 && actions[i].Nth > 0 {
			actions[i].EveryN = actions[i].Nth
		}
		actions[i].Nth = 0
	}
}

// HookName returns the identity under which a hook's run state is persisted.
// It combines the dot-path scope with the hook kind so the same kind attached
// to different stages rate-limits independently.
func HookName(scope string, hook Hook) string {
	return fmt.Sprintf("%s/%s", scope, hook.Kind)
}
