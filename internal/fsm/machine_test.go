package fsm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yarlson/forge/internal/audit"
	"github.com/yarlson/forge/internal/beam"
	"github.com/yarlson/forge/internal/generator"
	"github.com/yarlson/forge/internal/plan"
	"github.com/yarlson/forge/internal/prompt"
	"github.com/yarlson/forge/internal/sandbox"
)

// route maps a prompt substring to a queue of canned responses. The last
// response repeats once the queue is drained.
type route struct {
	match     string
	responses []string
	delay     time.Duration
}

// routedCompletion dispatches on prompt content so concurrent phases each
// get their own responses. It records every prompt it sees.
type routedCompletion struct {
	mu      sync.Mutex
	routes  []route
	prompts []string
}

func (c *routedCompletion) Complete(ctx context.Context, req generator.Request) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, req.Prompt)

	for i := range c.routes {
		r := &c.routes[i]
		if !strings.Contains(req.Prompt, r.match) || len(r.responses) == 0 {
			continue
		}
		resp := r.responses[0]
		if len(r.responses) > 1 {
			r.responses = r.responses[1:]
		}
		delay := r.delay
		c.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return resp, nil
	}

	c.mu.Unlock()
	return "", errors.New("no route matched prompt")
}

func (c *routedCompletion) seenPrompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

func fileResponse(path, content string) string {
	return fmt.Sprintf("```txt path=%s\n%s\n```\n", path, content)
}

func newTestMachine(t *testing.T, p *plan.Plan, completion generator.Completion, cfg Config) *Machine {
	t.Helper()

	m, err := New("build the thing", p, Deps{
		Generator: generator.New(completion),
		Backend:   sandbox.NewLocalBackend(),
		Prompts:   prompt.NewBuilder(prompt.SizeOptions{}),
	}, cfg)
	require.NoError(t, err)
	return m
}

func singlePhasePlan(name string, verify [][]string) *plan.Plan {
	return &plan.Plan{Phases: []plan.Phase{{
		Name:     name,
		Width:    1,
		MaxDepth: 1,
		Verify:   verify,
	}}}
}

func TestMachine_SinglePhaseLifecycle(t *testing.T) {
	completion := &routedCompletion{routes: []route{
		{match: "Phase: draft", responses: []string{fileResponse("a.txt", "hello")}},
	}}
	m := newTestMachine(t, singlePhasePlan("draft", [][]string{{"test", "-f", "a.txt"}}), completion, DefaultConfig())

	assert.Equal(t, "draft.pending", m.State())
	assert.Equal(t, []string{ActionStart}, m.AvailableActions())

	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, "draft.awaiting_confirmation", m.State())
	assert.Equal(t, []string{ActionConfirm, ActionFeedback, ActionDiff}, m.AvailableActions())
	assert.Equal(t, map[string]string{"a.txt": "hello"}, m.AcceptedFiles())

	require.NoError(t, m.Confirm(context.Background()))

	assert.Equal(t, StateCompleted, m.State())
	assert.True(t, m.IsTerminal())
	assert.Nil(t, m.AvailableActions())
	assert.Equal(t, map[string]string{"a.txt": "hello"}, m.AcceptedFiles())
}

func TestMachine_RecordsLifecycleTransitions(t *testing.T) {
	dir := t.TempDir()
	log, err := audit.Open(dir, "s1")
	require.NoError(t, err)

	completion := &routedCompletion{routes: []route{
		{match: "Phase: draft", responses: []string{fileResponse("a.txt", "hello")}},
	}}
	m, err := New("build the thing", singlePhasePlan("draft", nil), Deps{
		Generator: generator.New(completion),
		Backend:   sandbox.NewLocalBackend(),
		Prompts:   prompt.NewBuilder(prompt.SizeOptions{}),
		Audit:     log,
	}, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Confirm(context.Background()))
	require.NoError(t, log.Close())

	events, err := audit.ReadEvents(dir, "s1")
	require.NoError(t, err)

	var transitions [][2]string
	for _, ev := range events {
		if ev.Type == audit.EventTransition {
			transitions = append(transitions, [2]string{
				ev.Detail["from"].(string),
				ev.Detail["to"].(string),
			})
		}
	}
	assert.Contains(t, transitions, [2]string{"draft.pending", "draft.running"})
	assert.Contains(t, transitions, [2]string{"draft.running", "draft.awaiting_confirmation"})
	assert.Contains(t, transitions, [2]string{"draft.awaiting_confirmation", StateCompleted})
}

func TestMachine_InvalidTransitions(t *testing.T) {
	completion := &routedCompletion{routes: []route{
		{match: "Phase: draft", responses: []string{fileResponse("a.txt", "hello")}},
	}}
	m := newTestMachine(t, singlePhasePlan("draft", nil), completion, DefaultConfig())

	var invalid *InvalidTransitionError

	require.ErrorAs(t, m.Confirm(context.Background()), &invalid)
	assert.Equal(t, "draft.pending", invalid.State)
	assert.Equal(t, ActionConfirm, invalid.Action)

	require.ErrorAs(t, m.ApplyFeedback(context.Background(), "nope"), &invalid)

	_, err := m.Diff(nil)
	require.ErrorAs(t, err, &invalid)

	require.NoError(t, m.Start(context.Background()))
	require.ErrorAs(t, m.Start(context.Background()), &invalid)
	assert.Equal(t, "draft.awaiting_confirmation", invalid.State)

	require.NoError(t, m.Confirm(context.Background()))
	require.ErrorAs(t, m.Confirm(context.Background()), &invalid)
	assert.Equal(t, StateCompleted, invalid.State)
	require.ErrorAs(t, m.ApplyFeedback(context.Background(), "late"), &invalid)
}

func TestMachine_FanOutJoinWaitsForAllSiblings(t *testing.T) {
	completion := &routedCompletion{routes: []route{
		{match: "Phase: server", responses: []string{fileResponse("server.go", "package server")}, delay: 50 * time.Millisecond},
		{match: "Phase: client", responses: []string{fileResponse("client.go", "package client")}},
	}}
	p := &plan.Plan{Phases: []plan.Phase{
		{Name: "server", Group: "implement", Width: 1, MaxDepth: 1, Verify: [][]string{{"test", "-f", "server.go"}}},
		{Name: "client", Group: "implement", Width: 1, MaxDepth: 1, Verify: [][]string{{"test", "-f", "client.go"}}},
	}}
	m := newTestMachine(t, p, completion, DefaultConfig())

	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, "implement.awaiting_confirmation", m.State())
	assert.Equal(t, map[string]string{
		"server.go": "package server",
		"client.go": "package client",
	}, m.AcceptedFiles())
}

func TestMachine_FanOutSiblingFailureFailsSession(t *testing.T) {
	completion := &routedCompletion{routes: []route{
		{match: "Phase: server", responses: []string{fileResponse("server.go", "package server")}},
		{match: "Phase: client", responses: []string{fileResponse("client.go", "wrong")}},
	}}
	p := &plan.Plan{Phases: []plan.Phase{
		{Name: "server", Group: "implement", Width: 1, MaxDepth: 1, Verify: [][]string{{"test", "-f", "server.go"}}},
		{Name: "client", Group: "implement", Width: 1, MaxDepth: 1, Verify: [][]string{{"grep", "-q", "package", "client.go"}}},
	}}
	m := newTestMachine(t, p, completion, Config{ExpansionRetries: 0})

	err := m.Start(context.Background())
	require.Error(t, err)

	var noViable *beam.NoViableCandidateError
	require.ErrorAs(t, err, &noViable)
	assert.Equal(t, "client", noViable.Phase)

	assert.Equal(t, StateFailed, m.State())
	assert.True(t, m.IsTerminal())
	assert.Error(t, m.Err())
	assert.Empty(t, m.AcceptedFiles(), "no sibling output is accepted on a partial failure")
}

func TestMachine_ExpansionRetryCarriesFailureHint(t *testing.T) {
	completion := &routedCompletion{routes: []route{
		{match: "Phase: draft", responses: []string{
			fileResponse("a.txt", "bad"),
			fileResponse("a.txt", "ok"),
		}},
	}}
	verify := [][]string{{"sh", "-c", "grep -q ok a.txt || { echo 'missing ok marker'; exit 1; }"}}
	m := newTestMachine(t, singlePhasePlan("draft", verify), completion, Config{ExpansionRetries: 1})

	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, "draft.awaiting_confirmation", m.State())
	assert.Equal(t, map[string]string{"a.txt": "ok"}, m.AcceptedFiles())

	prompts := completion.seenPrompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "Previous Attempt Failed Validation")
	assert.Contains(t, prompts[1], "missing ok marker")
}

func TestMachine_ExpansionRetryExhaustionFails(t *testing.T) {
	completion := &routedCompletion{routes: []route{
		{match: "Phase: draft", responses: []string{fileResponse("a.txt", "bad")}},
	}}
	m := newTestMachine(t, singlePhasePlan("draft", [][]string{{"grep", "-q", "ok", "a.txt"}}), completion, Config{ExpansionRetries: 1})

	err := m.Start(context.Background())
	require.Error(t, err)

	var noViable *beam.NoViableCandidateError
	require.ErrorAs(t, err, &noViable)
	assert.Equal(t, StateFailed, m.State())
	assert.Len(t, completion.seenPrompts(), 2, "one retry after the first failed expansion")
}

func TestMachine_ApplyFeedbackThenConfirmAdvancesOnePhase(t *testing.T) {
	completion := &routedCompletion{routes: []route{
		{match: "User Feedback", responses: []string{fileResponse("a.txt", "hello v2")}},
		{match: "Phase: draft", responses: []string{fileResponse("a.txt", "hello")}},
		{match: "Phase: final", responses: []string{fileResponse("b.txt", "done")}},
	}}
	p := &plan.Plan{Phases: []plan.Phase{
		{Name: "draft", Width: 1, MaxDepth: 1, Verify: [][]string{{"test", "-f", "a.txt"}}},
		{Name: "final", DependsOn: []string{"draft"}, Width: 1, MaxDepth: 1, Verify: [][]string{{"test", "-f", "b.txt"}}},
	}}
	m := newTestMachine(t, p, completion, DefaultConfig())

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, "draft.awaiting_confirmation", m.State())
	assert.Equal(t, "hello", m.AcceptedFiles()["a.txt"])

	require.NoError(t, m.ApplyFeedback(context.Background(), "make it v2"))
	assert.Equal(t, "draft.awaiting_confirmation", m.State(), "feedback does not advance the phase")
	assert.Equal(t, "hello v2", m.AcceptedFiles()["a.txt"])

	require.NoError(t, m.Confirm(context.Background()))
	assert.Equal(t, "final.awaiting_confirmation", m.State())
	assert.Equal(t, "hello v2", m.AcceptedFiles()["a.txt"], "earlier output survives later phases")
	assert.Equal(t, "done", m.AcceptedFiles()["b.txt"])

	require.NoError(t, m.Confirm(context.Background()))
	assert.Equal(t, StateCompleted, m.State())
}

func TestMachine_DiffAgainstBaseline(t *testing.T) {
	completion := &routedCompletion{routes: []route{
		{match: "Phase: draft", responses: []string{fileResponse("a.txt", "hello")}},
	}}
	m := newTestMachine(t, singlePhasePlan("draft", nil), completion, DefaultConfig())

	require.NoError(t, m.Start(context.Background()))

	diff, err := m.Diff(nil)
	require.NoError(t, err)
	assert.Contains(t, diff, "a.txt (added)")

	same, err := m.Diff(m.AcceptedFiles())
	require.NoError(t, err)
	assert.Empty(t, same)
}

func TestMachine_OutputTruncatesLargeFiles(t *testing.T) {
	big := strings.Repeat("x", OutputTruncateAt+1)
	completion := &routedCompletion{routes: []route{
		{match: "Phase: draft", responses: []string{fileResponse("big.txt", big) + fileResponse("small.txt", "tiny")}},
	}}
	m := newTestMachine(t, singlePhasePlan("draft", nil), completion, DefaultConfig())

	require.NoError(t, m.Start(context.Background()))

	output := m.Output()
	assert.Equal(t, "large file truncated", output["big.txt"])
	assert.Equal(t, "tiny", output["small.txt"])
}
