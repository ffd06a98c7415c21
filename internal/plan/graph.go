package plan

import "sort"

// Graph is the directed dependency graph of a plan's phases. Edges point
// from a phase to its dependencies.
type Graph struct {
	nodes        map[string]bool
	edges        map[string][]string
	reverseEdges map[string][]string
}

// BuildGraph constructs the dependency graph for the given phases.
// Dependency existence is checked by Plan.Validate, not here.
func BuildGraph(phases []Phase) *Graph {
	g := &Graph{
		nodes:        make(map[string]bool),
		edges:        make(map[string][]string),
		reverseEdges: make(map[string][]string),
	}

	for _, p := range phases {
		g.nodes[p.Name] = true
	}
	for _, p := range phases {
		for _, dep := range p.DependsOn {
			g.edges[p.Name] = append(g.edges[p.Name], dep)
			g.reverseEdges[dep] = append(g.reverseEdges[dep], p.Name)
		}
	}
	return g
}

// Nodes returns all phase names in sorted order.
func (g *Graph) Nodes() []string {
	result := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Dependencies returns the phases the given phase depends on.
func (g *Graph) Dependencies(name string) []string {
	deps := g.edges[name]
	if len(deps) == 0 {
		return nil
	}
	result := make([]string, len(deps))
	copy(result, deps)
	return result
}

// Ready reports whether every dependency of the given phase is in the
// accepted set.
func (g *Graph) Ready(name string, accepted map[string]bool) bool {
	for _, dep := range g.edges[name] {
		if !accepted[dep] {
			return false
		}
	}
	return true
}

// DetectCycle checks the graph for a dependency cycle. It returns the
// cycle as a list of phase names, or nil if the graph is acyclic. Uses
// depth-first search with coloring.
func (g *Graph) DetectCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // in current DFS path
		black = 2 // fully explored
	)

	color := make(map[string]int)
	parent := make(map[string]string)

	var dfs func(node string) []string
	dfs = func(node string) []string {
		color[node] = gray

		for _, dep := range g.edges[node] {
			if color[dep] == gray {
				cycle := []string{dep}
				for curr := node; curr != dep; curr = parent[curr] {
					cycle = append(cycle, curr)
				}
				return cycle
			}
			if color[dep] == white {
				parent[dep] = node
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			}
		}

		color[node] = black
		return nil
	}

	for _, node := range g.Nodes() {
		if color[node] == white {
			if cycle := dfs(node); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
