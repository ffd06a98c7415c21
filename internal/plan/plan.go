// Package plan defines the phase plan: the ordered, possibly fanned-out
// sequence of generation phases a session runs through, with per-phase
// search configuration and validation commands.
package plan

import (
	"fmt"
)

// Phase is one named stage of the generation pipeline.
type Phase struct {
	// Name uniquely identifies the phase.
	Name string `yaml:"name"`

	// DependsOn lists phases whose accepted output this phase consumes.
	DependsOn []string `yaml:"dependsOn,omitempty"`

	// Group marks the phase as part of a fan-out set: consecutive phases
	// sharing a non-empty group run concurrently and are joined before the
	// plan advances.
	Group string `yaml:"group,omitempty"`

	// Width is the beam width for this phase's search. Zero means
	// unset; the session manager fills it from configuration.
	Width int `yaml:"width,omitempty"`

	// MaxDepth is the maximum search depth. Zero means unset.
	MaxDepth int `yaml:"maxDepth,omitempty"`

	// Verify lists the validation pipeline commands, in order.
	Verify [][]string `yaml:"verify,omitempty"`

	// Instructions is the generation guidance included in the phase prompt.
	Instructions string `yaml:"instructions,omitempty"`
}

// Plan is an ordered list of phases.
type Plan struct {
	Phases []Phase `yaml:"phases"`
}

// Validate checks plan consistency: unique names, existing dependencies,
// sane search bounds, contiguous fan-out groups, an acyclic dependency
// graph, and that every dependency runs in an earlier execution unit
// than the phase that declares it.
func (p *Plan) Validate() error {
	if len(p.Phases) == 0 {
		return fmt.Errorf("plan has no phases")
	}

	seen := make(map[string]bool, len(p.Phases))
	for i := range p.Phases {
		phase := &p.Phases[i]
		if phase.Name == "" {
			return fmt.Errorf("phase %d has no name", i)
		}
		if seen[phase.Name] {
			return fmt.Errorf("duplicate phase name %q", phase.Name)
		}
		seen[phase.Name] = true

		if phase.Width < 0 {
			return fmt.Errorf("phase %q: width must not be negative", phase.Name)
		}
		if phase.MaxDepth < 0 {
			return fmt.Errorf("phase %q: maxDepth must not be negative", phase.Name)
		}
	}

	for _, phase := range p.Phases {
		for _, dep := range phase.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("phase %q depends on %q, which does not exist", phase.Name, dep)
			}
			if dep == phase.Name {
				return fmt.Errorf("phase %q depends on itself", phase.Name)
			}
		}
	}

	if err := p.validateGroups(); err != nil {
		return err
	}

	graph := BuildGraph(p.Phases)
	if cycle := graph.DetectCycle(); cycle != nil {
		return fmt.Errorf("phase dependency cycle: %v", cycle)
	}

	// Walk the units in declaration order: every phase must be ready
	// before its unit runs, so a dependency declared in the same or a
	// later unit can never have an accepted output in time.
	accepted := make(map[string]bool, len(p.Phases))
	for _, unit := range p.Units() {
		for _, phase := range unit {
			if !graph.Ready(phase.Name, accepted) {
				return fmt.Errorf("phase %q depends on a phase that does not run earlier", phase.Name)
			}
		}
		for _, phase := range unit {
			accepted[phase.Name] = true
		}
	}

	return nil
}

// validateGroups verifies that fan-out groups are contiguous in
// declaration order, so each group forms exactly one join point.
func (p *Plan) validateGroups() error {
	lastIndex := make(map[string]int)
	for i, phase := range p.Phases {
		if phase.Group == "" {
			continue
		}
		if prev, ok := lastIndex[phase.Group]; ok && prev != i-1 {
			return fmt.Errorf("fan-out group %q is not contiguous", phase.Group)
		}
		lastIndex[phase.Group] = i
	}
	return nil
}

// Units partitions the phases into execution units in declaration order:
// each unit is either a single phase or one fan-out group of concurrent
// sibling phases.
func (p *Plan) Units() [][]Phase {
	var units [][]Phase
	for i := 0; i < len(p.Phases); {
		phase := p.Phases[i]
		if phase.Group == "" {
			units = append(units, []Phase{phase})
			i++
			continue
		}

		j := i
		for j < len(p.Phases) && p.Phases[j].Group == phase.Group {
			j++
		}
		units = append(units, p.Phases[i:j])
		i = j
	}
	return units
}

// Phase returns the phase with the given name.
func (p *Plan) Phase(name string) (*Phase, error) {
	for i := range p.Phases {
		if p.Phases[i].Name == name {
			return &p.Phases[i], nil
		}
	}
	return nil, fmt.Errorf("phase %q not found", name)
}

// Default returns the built-in plan: draft the data layer, implement
// server and client concurrently, then integrate.
func Default() *Plan {
	verify := [][]string{}
	return &Plan{
		Phases: []Phase{
			{
				Name:         "draft",
				Width:        1,
				MaxDepth:     1,
				Verify:       verify,
				Instructions: "Define the data model and storage layer only. No business logic or UI.",
			},
			{
				Name:         "server",
				DependsOn:    []string{"draft"},
				Group:        "implement",
				Width:        1,
				MaxDepth:     1,
				Verify:       verify,
				Instructions: "Implement the server-side handlers and business logic on top of the accepted data model.",
			},
			{
				Name:         "client",
				DependsOn:    []string{"draft"},
				Group:        "implement",
				Width:        1,
				MaxDepth:     1,
				Verify:       verify,
				Instructions: "Implement the client/UI layer against the accepted data model. Do not modify server files.",
			},
			{
				Name:         "integrate",
				DependsOn:    []string{"server", "client"},
				Width:        1,
				MaxDepth:     1,
				Verify:       verify,
				Instructions: "Wire the server and client together. Fix inconsistencies between the layers.",
			},
		},
	}
}
