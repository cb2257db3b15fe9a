package pipeline

import (
	"fmt"

	"loom/internal/config"
	"loom/internal/container"
	"loom/internal/services"
)

// HookEvent names one stage lifecycle hook list.
type HookEvent string

const (
	HookOnExit         HookEvent = "on_exit"
	HookPreCompletion  HookEvent = "pre_completion"
	HookPostStart      HookEvent = "post_start"
	HookPostCompletion HookEvent = "post_completion"
)

// Resolver answers dot-path questions against a validated configuration:
// which stage a path belongs to, what comes next in a flow, which hooks and
// model/skill apply. All reference errors surface at construction.
type Resolver struct {
	cfg    *config.Config
	stages map[string]*config.Stage
	flows  map[string][]Path
	arena  *container.Arena
}

// NewResolver builds the canonical stage set (top-level stages plus any
// flow-local definitions) and expands every flow into an ordered dot-path
// sequence. Duplicate stage names and unresolvable flow references fail here.
func NewResolver(cfg *config.Config) (*Resolver, error) {
	r := &Resolver{
		cfg:    cfg,
		stages: make(map[string]*config.Stage),
		flows:  make(map[string][]Path),
	}

	for i := range cfg.Stages {
		stage := &cfg.Stages[i]
		if _, dup := r.stages[stage.Name]; dup {
			return nil, services.Wrap(services.ErrConfiguration, stage.Name, "resolve",
				fmt.Sprintf("stage %q defined more than once", stage.Name), nil)
		}
		r.stages[stage.Name] = stage
	}
	for i := range cfg.Flows {
		flow := &cfg.Flows[i]
		for j := range flow.Define {
			stage := &flow.Define[j]
			if _, dup := r.stages[stage.Name]; dup {
				return nil, services.Wrap(services.ErrConfiguration, stage.Name, "resolve",
					fmt.Sprintf("flow %q redefines stage %q", flow.Name, stage.Name), nil)
			}
			r.stages[stage.Name] = stage
		}
	}

	// Stages without a role (parking lots, terminals) run nothing and are
	// fine; a non-empty role must exist.
	for name, stage := range r.stages {
		if stage.Role == "" {
			continue
		}
		if _, ok := cfg.RoleByName(stage.Role); !ok {
			return nil, services.Wrap(services.ErrConfiguration, name, "resolve",
				fmt.Sprintf("stage %q references unknown role %q", name, stage.Role), nil)
		}
	}

	for i := range cfg.Flows {
		flow := &cfg.Flows[i]
		expanded, err := r.expandFlow(flow)
		if err != nil {
			return nil, err
		}
		r.flows[flow.Name] = expanded
	}

	if _, ok := r.flows[cfg.Workflow.DefaultFlow]; !ok {
		return nil, services.Wrap(services.ErrConfiguration, "", "resolve",
			fmt.Sprintf("default flow %q is not defined", cfg.Workflow.DefaultFlow), nil)
	}

	arena, err := container.NewArena(cfg.Containers)
	if err != nil {
		return nil, err
	}
	// Resolve every stage's container reference now so extends cycles and
	// dangling names abort startup instead of the first transition.
	for name, stage := range r.stages {
		if stage.Container == "" {
			continue
		}
		if _, err := arena.Resolve(stage.Container); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, name, "resolve",
				fmt.Sprintf("stage %q container %q", name, stage.Container), err)
		}
	}
	r.arena = arena
	return r, nil
}

// expandFlow turns flow entries into exact dot-paths. A bare stage name
// expands to the stage's substage paths in declared order, or to the bare
// stage when it has none. A dotted entry must name an existing substage.
func (r *Resolver) expandFlow(flow *config.Flow) ([]Path, error) {
	var expanded []Path
	for _, entry := range flow.Stages {
		path, err := ParsePath(entry)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, entry, "resolve",
				fmt.Sprintf("flow %q: %v", flow.Name, err), nil)
		}
		stage, ok := r.stages[path.Stage]
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, entry, "resolve",
				fmt.Sprintf("flow %q references unknown stage %q", flow.Name, path.Stage), nil)
		}
		if path.HasSubstage() {
			if substageOf(stage, path.Substage) == nil {
				return nil, services.Wrap(services.ErrConfiguration, entry, "resolve",
					fmt.Sprintf("flow %q references unknown substage %q of stage %q",
						flow.Name, path.Substage, path.Stage), nil)
			}
			expanded = append(expanded, path)
			continue
		}
		if len(stage.Substages) == 0 {
			expanded = append(expanded, path)
			continue
		}
		for _, sub := range stage.Substages {
			expanded = append(expanded, Path{Stage: stage.Name, Substage: sub.Name})
		}
	}
	return expanded, nil
}

func substageOf(stage *config.Stage, name string) *config.Substage {
	for i := range stage.Substages {
		if stage.Substages[i].Name == name {
			return &stage.Substages[i]
		}
	}
	return nil
}

// FlowPaths returns the expanded dot-path sequence for a flow.
func (r *Resolver) FlowPaths(flowName string) ([]Path, error) {
	paths, ok := r.flows[flowName]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "", "resolve",
			fmt.Sprintf("flow %q is not defined", flowName), nil)
	}
	return paths, nil
}

// FlowNames returns the defined flow names in configuration order.
func (r *Resolver) FlowNames() []string {
	names := make([]string, 0, len(r.cfg.Flows))
	for i := range r.cfg.Flows {
		names = append(names, r.cfg.Flows[i].Name)
	}
	return names
}

// Entry returns the first dot-path of a flow, the stage new items enter at.
func (r *Resolver) Entry(flowName string) (Path, error) {
	paths, err := r.FlowPaths(flowName)
	if err != nil {
		return Path{}, err
	}
	return paths[0], nil
}

// Lookup returns the stage definition for a dot-path and, when the path
// addresses a substage, the substage definition.
func (r *Resolver) Lookup(path Path) (*config.Stage, *config.Substage, error) {
	stage, ok := r.stages[path.Stage]
	if !ok {
		return nil, nil, services.Wrap(services.ErrNotFound, path.String(), "resolve",
			fmt.Sprintf("unknown stage %q", path.Stage), nil)
	}
	if !path.HasSubstage() {
		return stage, nil, nil
	}
	sub := substageOf(stage, path.Substage)
	if sub == nil {
		return nil, nil, services.Wrap(services.ErrNotFound, path.String(), "resolve",
			fmt.Sprintf("unknown substage %q of stage %q", path.Substage, path.Stage), nil)
	}
	return stage, sub, nil
}

// Known reports whether the dot-path resolves to a defined stage/substage.
func (r *Resolver) Known(path Path) bool {
	_, _, err := r.Lookup(path)
	return err == nil
}

// Next computes the dot-path that follows current in the flow, skipping
// redirect-only stages and entries whose when-condition evaluates false
// against the transition context. The current path returned unchanged means
// no further stage qualifies; callers treat that as the terminal signal.
func (r *Resolver) Next(flowName string, current Path, tctx map[string]any) (Path, error) {
	paths, err := r.FlowPaths(flowName)
	if err != nil {
		return Path{}, err
	}

	index := -1
	for i, p := range paths {
		if p == current {
			index = i
			break
		}
	}
	if index < 0 {
		return Path{}, services.Wrap(services.ErrValidation, current.String(), "advance",
			fmt.Sprintf("dot-path %q is not part of flow %q", current, flowName), nil)
	}

	for _, candidate := range paths[index+1:] {
		stage, sub, err := r.Lookup(candidate)
		if err != nil {
			return Path{}, err
		}
		if stage.RedirectOnly {
			continue
		}
		ok, err := EvalCondition(stage.When, tctx)
		if err != nil {
			return Path{}, services.Wrap(services.ErrConfiguration, candidate.String(), "advance", "stage condition", err)
		}
		if !ok {
			continue
		}
		if sub != nil {
			ok, err := EvalCondition(sub.When, tctx)
			if err != nil {
				return Path{}, services.Wrap(services.ErrConfiguration, candidate.String(), "advance", "substage condition", err)
			}
			if !ok {
				continue
			}
		}
		return candidate, nil
	}
	return current, nil
}

// ResolveRedirect interprets a redirect or rollback target relative to the
// current dot-path. A dotted target is absolute. A bare name that matches a
// substage of the current stage stays within it; otherwise it must name a
// known stage and resolves to that stage's first dot-path.
func (r *Resolver) ResolveRedirect(current Path, target string) (Path, error) {
	path, err := ParsePath(target)
	if err != nil {
		return Path{}, services.Wrap(services.ErrValidation, current.String(), "redirect",
			fmt.Sprintf("bad redirect target %q", target), err)
	}
	if path.HasSubstage() {
		if _, _, err := r.Lookup(path); err != nil {
			return Path{}, err
		}
		return path, nil
	}

	if stage, ok := r.stages[current.Stage]; ok {
		if substageOf(stage, path.Stage) != nil {
			return Path{Stage: current.Stage, Substage: path.Stage}, nil
		}
	}

	stage, ok := r.stages[path.Stage]
	if !ok {
		return Path{}, services.Wrap(services.ErrNotFound, current.String(), "redirect",
			fmt.Sprintf("redirect target %q is neither a substage of %q nor a known stage",
				target, current.Stage), nil)
	}
	if len(stage.Substages) > 0 {
		return Path{Stage: stage.Name, Substage: stage.Substages[0].Name}, nil
	}
	return Path{Stage: stage.Name}, nil
}

// SelectModel picks the model for a dot-path: substage override, then stage,
// then the stage role's default, then the workflow-wide default.
func (r *Resolver) SelectModel(path Path) (string, error) {
	stage, sub, err := r.Lookup(path)
	if err != nil {
		return "", err
	}
	if sub != nil && sub.Model != "" {
		return sub.Model, nil
	}
	if stage.Model != "" {
		return stage.Model, nil
	}
	if role, ok := r.cfg.RoleByName(stage.Role); ok && role.Model != "" {
		return role.Model, nil
	}
	return r.cfg.Workflow.DefaultModel, nil
}

// SelectSkill picks the skill for a dot-path with the same precedence as
// SelectModel.
func (r *Resolver) SelectSkill(path Path) (string, error) {
	stage, sub, err := r.Lookup(path)
	if err != nil {
		return "", err
	}
	if sub != nil && sub.Skill != "" {
		return sub.Skill, nil
	}
	if stage.Skill != "" {
		return stage.Skill, nil
	}
	if role, ok := r.cfg.RoleByName(stage.Role); ok && role.Skill != "" {
		return role.Skill, nil
	}
	return r.cfg.Workflow.DefaultSkill, nil
}

// HooksFor returns the hook list for a lifecycle event at a dot-path: the
// stage's hooks followed by the substage's, in declared order.
func (r *Resolver) HooksFor(path Path, event HookEvent) ([]config.Hook, error) {
	stage, sub, err := r.Lookup(path)
	if err != nil {
		return nil, err
	}
	var hooks []config.Hook
	hooks = append(hooks, hookList(stage, sub, event)...)
	return hooks, nil
}

func hookList(stage *config.Stage, sub *config.Substage, event HookEvent) []config.Hook {
	var hooks []config.Hook
	switch event {
	case HookOnExit:
		hooks = append(hooks, stage.OnExit...)
		if sub != nil {
			hooks = append(hooks, sub.OnExit...)
		}
	case HookPreCompletion:
		hooks = append(hooks, stage.PreCompletion...)
		if sub != nil {
			hooks = append(hooks, sub.PreCompletion...)
		}
	case HookPostStart:
		hooks = append(hooks, stage.PostStart...)
		if sub != nil {
			hooks = append(hooks, sub.PostStart...)
		}
	case HookPostCompletion:
		hooks = append(hooks, stage.PostCompletion...)
		if sub != nil {
			hooks = append(hooks, sub.PostCompletion...)
		}
	}
	return hooks
}

// IsHumanReview reports whether the dot-path's stage requires a human gate.
func (r *Resolver) IsHumanReview(path Path) bool {
	stage, ok := r.stages[path.Stage]
	return ok && stage.HumanReview
}

// IsParkingLot reports whether the dot-path's stage is a resting state that
// the stall detector ignores.
func (r *Resolver) IsParkingLot(path Path) bool {
	stage, ok := r.stages[path.Stage]
	return ok && stage.ParkingLot
}

// IsRedirectOnly reports whether the dot-path's stage is reachable only via
// explicit redirect.
func (r *Resolver) IsRedirectOnly(path Path) bool {
	stage, ok := r.stages[path.Stage]
	return ok && stage.RedirectOnly
}

// IsTerminal reports whether no stage qualifies after the dot-path in the
// flow, ignoring when-conditions.
func (r *Resolver) IsTerminal(flowName string, path Path) bool {
	paths, ok := r.flows[flowName]
	if !ok {
		return false
	}
	for i, p := range paths {
		if p != path {
			continue
		}
		for _, candidate := range paths[i+1:] {
			if !r.IsRedirectOnly(candidate) {
				return false
			}
		}
		return true
	}
	return false
}

// ContainerFor returns the resolved container profile for a dot-path, nil
// when the stage runs on the host.
func (r *Resolver) ContainerFor(path Path) (*container.Profile, error) {
	stage, _, err := r.Lookup(path)
	if err != nil {
		return nil, err
	}
	if stage.Container == "" {
		return nil, nil
	}
	return r.arena.Resolve(stage.Container)
}
