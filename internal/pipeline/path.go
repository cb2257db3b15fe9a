package pipeline

import (
	"fmt"
	"strings"
)

// Path identifies a stage or a stage.substage pair.
type Path struct {
	Stage    string
	Substage string
}

// ParsePath splits a dot-path on the first dot. "implement.code" becomes
// {implement code}; "backlog" becomes {backlog ""}.
func ParsePath(value string) (Path, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Path{}, fmt.Errorf("dot-path must not be empty")
	}
	stage, substage, found := strings.Cut(trimmed, ".")
	if stage == "" {
		return Path{}, fmt.Errorf("dot-path %q has an empty stage", value)
	}
	if found && substage == "" {
		return Path{}, fmt.Errorf("dot-path %q has an empty substage", value)
	}
	return Path{Stage: stage, Substage: substage}, nil
}

// MustParsePath is ParsePath for compile-time-known literals.
func MustParsePath(value string) Path {
	p, err := ParsePath(value)
	if err != nil {
		panic(err)
	}
	return p
}

// String joins the path back into dot notation, the inverse of ParsePath.
func (p Path) String() string {
	if p.Substage == "" {
		return p.Stage
	}
	return p.Stage + "." + p.Substage
}

// IsZero reports whether the path is unset.
func (p Path) IsZero() bool {
	return p.Stage == ""
}

// HasSubstage reports whether the path addresses a substage.
func (p Path) HasSubstage() bool {
	return p.Substage != ""
}
