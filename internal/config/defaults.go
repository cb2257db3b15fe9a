package config

const (
	defaultStateDir          = "~/.local/share/loom"
	defaultLogDir            = "~/.local/share/loom/logs"
	defaultWorktreeDir       = "~/.local/share/loom/worktrees"
	defaultHeartbeatInterval = 60
	defaultStallThresholdMin = 30
	defaultStallCooldownMin  = 60
	defaultMaxRollbacks      = 3
	defaultHookTimeout       = 120
	defaultExternalTimeout   = 60
	defaultReconcileEveryN   = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultFlowName          = "standard"
	defaultIntegration       = "main"
)

// Default returns a Config populated with repository defaults, including the
// stock pipeline. A loaded config file overlays these values.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			WorktreeDir: defaultWorktreeDir,
		},
		Workflow: Workflow{
			HeartbeatInterval:   defaultHeartbeatInterval,
			StallThresholdMin:   defaultStallThresholdMin,
			StallCooldownMin:    defaultStallCooldownMin,
			MaxRollbacks:        defaultMaxRollbacks,
			HookTimeout:         defaultHookTimeout,
			ExternalToolTimeout: defaultExternalTimeout,
			ReconcileEveryN:     defaultReconcileEveryN,
			DefaultFlow:         defaultFlowName,
			IntegrationBranch:   defaultIntegration,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			Stalls:         true,
			Escalations:    true,
			Errors:         true,
		},
		Roles:      defaultRoles(),
		Stages:     defaultStages(),
		Flows:      defaultFlows(),
		Containers: defaultContainers(),
	}
}

func defaultRoles() []Role {
	return []Role{
		{Name: "analyst", Model: "sonnet"},
		{Name: "builder", Model: "sonnet"},
		{Name: "reviewer", Model: "opus"},
	}
}

// defaultStages is the stock pipeline. The statemachine package maintains a
// parallel hand-written transition table; Reconcile compares the two.
func defaultStages() []Stage {
	return []Stage{
		{Name: "backlog", ParkingLot: true},
		{
			Name: "define",
			Role: "analyst",
			Substages: []Substage{
				{Name: "refine"},
			},
		},
		{
			Name: "research",
			Role: "analyst",
			Substages: []Substage{
				{Name: "explore"},
			},
		},
		{
			Name: "plan",
			Role: "analyst",
			Substages: []Substage{
				{Name: "draft", PreCompletion: []Hook{
					{Kind: "file_exists", Path: "PLAN.md"},
					{Kind: "section_min_words", File: "PLAN.md", Section: "Approach", MinWords: 50},
				}},
				{Name: "review"},
			},
		},
		{
			Name:      "implement",
			Role:      "builder",
			Container: "workspace",
			Substages: []Substage{
				{Name: "code", PreCompletion: []Hook{
					{Kind: "unpushed_commits"},
				}},
				{Name: "test"},
			},
			PostCompletion: []Hook{
				{Kind: "open_pr", Optional: true},
			},
		},
		{
			Name:        "review",
			Role:        "reviewer",
			HumanReview: true,
			PreCompletion: []Hook{
				{Kind: "external_approval", Require: "approved"},
			},
		},
		{
			Name:         "address_review",
			Role:         "builder",
			RedirectOnly: true,
			Container:    "workspace",
			PreCompletion: []Hook{
				{Kind: "rollback", Target: "review"},
			},
		},
		{
			Name: "merge",
			Role: "builder",
			PreCompletion: []Hook{
				{Kind: "external_approval", Require: "checks"},
			},
			PostCompletion: []Hook{
				{Kind: "merge_pr"},
				{Kind: "teardown_worker", Optional: true},
				{Kind: "start_unblocked", Optional: true},
			},
		},
		{Name: "done", ParkingLot: true},
		{Name: "abandoned", ParkingLot: true},
	}
}

func defaultFlows() []Flow {
	return []Flow{
		{
			Name: defaultFlowName,
			Stages: []string{
				"backlog",
				"define",
				"research",
				"plan",
				"implement",
				"review",
				"address_review",
				"merge",
				"done",
			},
		},
	}
}

func defaultContainers() []Container {
	dangerous := false
	return []Container{
		{
			Name:      "base",
			Image:     "ubuntu:24.04",
			Mounts:    []string{"~/.config/loom:/etc/loom:ro"},
			Env:       map[string]string{"LOOM_WORKER": "1"},
			Dangerous: &dangerous,
		},
		{
			Name:    "workspace",
			Extends: "base",
			Mounts:  []string{"{worktree}:/work"},
			Env:     map[string]string{"GIT_AUTHOR_NAME": "loom"},
		},
	}
}
