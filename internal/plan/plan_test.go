package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlan() *Plan {
	return &Plan{
		Phases: []Phase{
			{Name: "draft", Width: 1, MaxDepth: 1},
			{Name: "server", DependsOn: []string{"draft"}, Group: "implement", Width: 1, MaxDepth: 1},
			{Name: "client", DependsOn: []string{"draft"}, Group: "implement", Width: 1, MaxDepth: 1},
			{Name: "integrate", DependsOn: []string{"server", "client"}, Width: 2, MaxDepth: 3},
		},
	}
}

func TestPlan_ValidateAcceptsDefault(t *testing.T) {
	require.NoError(t, Default().Validate())
	require.NoError(t, validPlan().Validate())
}

func TestPlan_ValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Plan)
	}{
		{"empty plan", func(p *Plan) { p.Phases = nil }},
		{"missing name", func(p *Plan) { p.Phases[0].Name = "" }},
		{"duplicate name", func(p *Plan) { p.Phases[1].Name = "draft" }},
		{"negative width", func(p *Plan) { p.Phases[0].Width = -1 }},
		{"negative depth", func(p *Plan) { p.Phases[0].MaxDepth = -1 }},
		{"unknown dependency", func(p *Plan) { p.Phases[1].DependsOn = []string{"nope"} }},
		{"self dependency", func(p *Plan) { p.Phases[0].DependsOn = []string{"draft"} }},
		{"dependency declared later", func(p *Plan) {
			p.Phases = []Phase{
				{Name: "late", DependsOn: []string{"early"}, Width: 1, MaxDepth: 1},
				{Name: "early", Width: 1, MaxDepth: 1},
			}
		}},
		{"dependency on fan-out sibling", func(p *Plan) { p.Phases[2].DependsOn = []string{"server"} }},
		{"non-contiguous group", func(p *Plan) { p.Phases[1].Group, p.Phases[2].Group = "implement", ""; p.Phases[3].Group = "implement" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlan()
			tt.mutate(p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestPlan_Units(t *testing.T) {
	units := validPlan().Units()

	require.Len(t, units, 3)
	assert.Equal(t, "draft", units[0][0].Name)

	require.Len(t, units[1], 2)
	assert.Equal(t, "server", units[1][0].Name)
	assert.Equal(t, "client", units[1][1].Name)

	assert.Equal(t, "integrate", units[2][0].Name)
}

func TestPlan_PhaseLookup(t *testing.T) {
	p := validPlan()

	phase, err := p.Phase("server")
	require.NoError(t, err)
	assert.Equal(t, "implement", phase.Group)

	_, err = p.Phase("missing")
	assert.Error(t, err)
}

func TestGraph_Ready(t *testing.T) {
	g := BuildGraph(validPlan().Phases)

	assert.True(t, g.Ready("draft", nil))
	assert.False(t, g.Ready("server", nil))
	assert.True(t, g.Ready("server", map[string]bool{"draft": true}))
	assert.False(t, g.Ready("integrate", map[string]bool{"server": true}))
	assert.True(t, g.Ready("integrate", map[string]bool{"server": true, "client": true}))
}

func TestGraph_DetectCycle(t *testing.T) {
	acyclic := BuildGraph(validPlan().Phases)
	assert.Nil(t, acyclic.DetectCycle())

	cyclic := BuildGraph([]Phase{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"c"}},
		{Name: "c", DependsOn: []string{"a"}},
	})
	cycle := cyclic.DetectCycle()
	require.NotNil(t, cycle)
	assert.Len(t, cycle, 3)
}

func TestLoad_FromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")

	content := `phases:
  - name: draft
    instructions: data model only
    verify:
      - ["go", "build", "./..."]
      - ["go", "test", "./..."]
  - name: implement
    dependsOn: [draft]
    width: 3
    maxDepth: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	p, err := Load(path)
	require.NoError(t, err)

	require.Len(t, p.Phases, 2)
	// Omitted search bounds stay zero until the manager fills them.
	assert.Equal(t, 0, p.Phases[0].Width)
	assert.Equal(t, 0, p.Phases[0].MaxDepth)
	assert.Equal(t, 3, p.Phases[1].Width)
	assert.Equal(t, 2, p.Phases[1].MaxDepth)
	assert.Equal(t, [][]string{{"go", "build", "./..."}, {"go", "test", "./..."}}, p.Phases[0].Verify)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phases: [broken"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	p, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), p)

	p, err = LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}
