// Package container flattens inheritable container profiles. A profile may
// extend another; resolution walks the chain root-first, concatenating mounts,
// overlaying environment, and taking image and the dangerous flag from the
// nearest profile that sets them explicitly.
package container

import (
	"fmt"

	"loom/internal/config"
	"loom/internal/services"
)

// Profile is a fully resolved container configuration with inheritance
// applied. Mounts are ordered root ancestor first; Env holds the merged map
// with descendant values winning.
type Profile struct {
	Name      string
	Image     string
	Mounts    []string
	Env       map[string]string
	Dangerous bool
}

// Arena resolves container profile names against the configured set.
type Arena struct {
	profiles map[string]*config.Container
}

// NewArena indexes the configured containers. Duplicate names fail here;
// dangling extends references fail on Resolve.
func NewArena(containers []config.Container) (*Arena, error) {
	a := &Arena{profiles: make(map[string]*config.Container, len(containers))}
	for i := range containers {
		c := &containers[i]
		if _, dup := a.profiles[c.Name]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "", "containers",
				fmt.Sprintf("container %q defined more than once", c.Name), nil)
		}
		a.profiles[c.Name] = c
	}
	return a, nil
}

// Resolve flattens a profile and its ancestor chain. Resolution is
// deterministic and idempotent; an extends cycle or unknown reference is a
// configuration error.
func (a *Arena) Resolve(name string) (*Profile, error) {
	chain, err := a.chain(name)
	if err != nil {
		return nil, err
	}

	resolved := &Profile{Name: name, Env: make(map[string]string)}
	// chain is ordered root ancestor first, the requested profile last.
	for _, c := range chain {
		if c.Image != "" {
			resolved.Image = c.Image
		}
		resolved.Mounts = append(resolved.Mounts, c.Mounts...)
		for k, v := range c.Env {
			resolved.Env[k] = v
		}
		if c.Dangerous != nil {
			resolved.Dangerous = *c.Dangerous
		}
	}
	return resolved, nil
}

func (a *Arena) chain(name string) ([]*config.Container, error) {
	var chain []*config.Container
	visited := make(map[string]bool)
	for current := name; current != ""; {
		if visited[current] {
			return nil, services.Wrap(services.ErrConfiguration, "", "containers",
				fmt.Sprintf("container %q: extends cycle through %q", name, current), nil)
		}
		visited[current] = true

		c, ok := a.profiles[current]
		if !ok {
			if current == name {
				return nil, services.Wrap(services.ErrNotFound, "", "containers",
					fmt.Sprintf("container %q is not defined", name), nil)
			}
			return nil, services.Wrap(services.ErrConfiguration, "", "containers",
				fmt.Sprintf("container %q extends unknown container %q", name, current), nil)
		}
		chain = append([]*config.Container{c}, chain...)
		current = c.Extends
	}
	return chain, nil
}
