// Package statemachine holds the explicit transition table for the stock
// pipeline. The table is hand-maintained on purpose: the pipeline resolver
// derives its order from configuration, and Reconcile compares the two so
// config drift surfaces in logs instead of silent misbehavior.
package statemachine

import (
	"log/slog"

	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/services"
)

// Trigger names the three transition kinds.
const (
	TriggerAdvance  = "advance"
	TriggerReject   = "reject"
	TriggerRedirect = "redirect"
)

// Machine is an explicit state table over dot-path states.
type Machine struct {
	order       []string
	index       map[string]int
	humanReview map[string]bool
	terminal    map[string]bool
	redirectIn  map[string]bool
	states      map[string]bool
}

// DefaultTable returns the hand-maintained table for the stock pipeline.
// Advance follows the listed order; reject lands in abandoned from any
// non-terminal state; redirect may move between any two non-terminal states.
func DefaultTable() *Machine {
	return New(
		[]string{
			"backlog",
			"define.refine",
			"research.explore",
			"plan.draft",
			"plan.review",
			"implement.code",
			"implement.test",
			"review",
			"merge",
			"done",
		},
		[]string{"review"},
		[]string{"done", "abandoned"},
		[]string{"address_review"},
	)
}

// New builds a machine from an advance order plus the human-review, terminal,
// and redirect-only state sets. Redirect-only states sit outside the advance
// order and are reachable only through the redirect trigger.
func New(order, humanReview, terminal, redirectOnly []string) *Machine {
	m := &Machine{
		order:       order,
		index:       make(map[string]int, len(order)),
		humanReview: make(map[string]bool, len(humanReview)),
		terminal:    make(map[string]bool, len(terminal)),
		redirectIn:  make(map[string]bool, len(redirectOnly)),
		states:      make(map[string]bool),
	}
	for i, s := range order {
		m.index[s] = i
		m.states[s] = true
	}
	for _, s := range humanReview {
		m.humanReview[s] = true
	}
	for _, s := range terminal {
		m.terminal[s] = true
		m.states[s] = true
	}
	for _, s := range redirectOnly {
		m.redirectIn[s] = true
		m.states[s] = true
	}
	return m
}

// Known reports whether the state exists in the table.
func (m *Machine) Known(state string) bool { return m.states[state] }

// IsHumanReview reports whether a state needs a human gate before advance.
func (m *Machine) IsHumanReview(state string) bool { return m.humanReview[state] }

// IsTerminal reports whether a state ends the pipeline.
func (m *Machine) IsTerminal(state string) bool { return m.terminal[state] }

// NextState returns the advance destination for a source state. Redirect-only
// states advance back to nothing; their exit is always a redirect.
func (m *Machine) NextState(source string) (string, error) {
	i, ok := m.index[source]
	if !ok || i+1 >= len(m.order) {
		return "", &services.InvalidTransition{Trigger: TriggerAdvance, Source: source, Dest: ""}
	}
	return m.order[i+1], nil
}

// ValidateTransition checks one (trigger, source, dest) edge against the
// table. Rejected edges return *services.InvalidTransition carrying both
// endpoints; edges are never coerced into the nearest legal one.
func (m *Machine) ValidateTransition(trigger, source, dest string) error {
	invalid := &services.InvalidTransition{Trigger: trigger, Source: source, Dest: dest}
	if !m.states[source] || !m.states[dest] {
		return invalid
	}
	if m.terminal[source] {
		return invalid
	}
	switch trigger {
	case TriggerAdvance:
		next, err := m.NextState(source)
		if err != nil || next != dest {
			return invalid
		}
		return nil
	case TriggerReject:
		if dest != "abandoned" {
			return invalid
		}
		return nil
	case TriggerRedirect:
		if m.terminal[dest] || source == dest {
			return invalid
		}
		return nil
	default:
		return invalid
	}
}

// Reconcile compares the table against the live flow expansion and logs any
// drift. It never errors; the configuration stays authoritative and the log
// line tells the operator the table needs a matching edit.
func (m *Machine) Reconcile(r *pipeline.Resolver, flowName string, logger *slog.Logger) {
	paths, err := r.FlowPaths(flowName)
	if err != nil {
		logger.Warn("statemachine reconcile: flow not resolvable",
			logging.String(logging.FieldFlow, flowName), logging.Error(err))
		return
	}

	live := make([]string, 0, len(paths))
	for _, p := range paths {
		if r.IsRedirectOnly(p) {
			if !m.redirectIn[p.String()] {
				logger.Warn("statemachine drift: redirect-only stage missing from table",
					logging.String(logging.FieldDotPath, p.String()))
			}
			continue
		}
		live = append(live, p.String())
	}

	for i, state := range live {
		if i >= len(m.order) {
			logger.Warn("statemachine drift: flow has stages beyond table",
				logging.String(logging.FieldDotPath, state))
			continue
		}
		if m.order[i] != state {
			logger.Warn("statemachine drift: order mismatch",
				logging.String("table_state", m.order[i]),
				logging.String("flow_state", state),
				logging.Int("position", i))
		}
	}
	if len(m.order) > len(live) {
		for _, state := range m.order[len(live):] {
			if !m.terminal[state] {
				logger.Warn("statemachine drift: table state absent from flow",
					logging.String(logging.FieldDotPath, state))
			}
		}
	}

	for _, p := range paths {
		state := p.String()
		if r.IsHumanReview(p) != m.humanReview[state] {
			logger.Warn("statemachine drift: human-review flag mismatch",
				logging.String(logging.FieldDotPath, state),
				logging.Bool("table", m.humanReview[state]),
				logging.Bool("config", r.IsHumanReview(p)))
		}
	}
}
