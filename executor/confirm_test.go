package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shale-yeah/kernel/executor"
	"github.com/shale-yeah/kernel/shape"
)

func TestExecuteWithConfirmationGatesDecision(t *testing.T) {
	t.Parallel()
	st := &scriptedTransport{}
	e := newExecutor(t, executor.DefaultConfig(), st.fn())

	env := e.ExecuteWithConfirmation(context.Background(), executor.ToolRequest{
		Tool:      "decision.analyze",
		Args:      map[string]any{"tract": "Permian-A", "recommendation": "proceed"},
		SessionID: "session-1",
	})

	require.True(t, env.Success)
	assert.Contains(t, env.Summary, "requires confirmation")
	assert.Zero(t, st.total(), "gated call must not reach the transport")

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["requires_confirmation"])

	action, ok := data["pending_action"].(executor.PendingAction)
	require.True(t, ok)
	assert.Regexp(t, "^[0-9a-f]{16}$", action.ActionID)
	assert.Equal(t, "decision.analyze", action.Tool)
	assert.Equal(t, "session-1", action.SessionID)
	assert.Equal(t, "Permian-A", action.Args["tract"])

	pending := e.PendingActions()
	require.Len(t, pending, 1)
	assert.Equal(t, action.ActionID, pending[0].ActionID)
}

func TestConfirmActionExecutesPending(t *testing.T) {
	t.Parallel()
	st := &scriptedTransport{}
	e := newExecutor(t, executor.DefaultConfig(), st.fn())

	gate := e.ExecuteWithConfirmation(context.Background(), executor.ToolRequest{
		Tool: "decision.analyze",
		Args: map[string]any{"tract": "Permian-A"},
	})
	action := gate.Data.(map[string]any)["pending_action"].(executor.PendingAction)

	env := e.ConfirmAction(context.Background(), action.ActionID)
	require.True(t, env.Success)
	assert.Equal(t, 1, st.count("decision"))
	assert.Equal(t, "Permian-A", st.lastArgs("decision")["tract"])
	assert.Empty(t, e.PendingActions())

	// A confirmed id is spent; the double confirm must not re-execute.
	again := e.ConfirmAction(context.Background(), action.ActionID)
	require.False(t, again.Success)
	require.NotNil(t, again.Error)
	assert.Equal(t, shape.ErrorPermanent, again.Error.Type)
	assert.Contains(t, again.Error.Message, "No pending action found")
	assert.Equal(t, 1, st.count("decision"))
}

func TestConfirmActionUnknownID(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, executor.DefaultConfig(), (&scriptedTransport{}).fn())

	env := e.ConfirmAction(context.Background(), "deadbeefdeadbeef")

	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, shape.ErrorPermanent, env.Error.Type)
	assert.Contains(t, env.Error.Message, `No pending action found for id "deadbeefdeadbeef"`)
}

func TestCancelActionDiscardsPending(t *testing.T) {
	t.Parallel()
	st := &scriptedTransport{}
	e := newExecutor(t, executor.DefaultConfig(), st.fn())

	gate := e.ExecuteWithConfirmation(context.Background(), executor.ToolRequest{
		Tool: "decision.analyze",
		Args: map[string]any{"tract": "Permian-A"},
	})
	action := gate.Data.(map[string]any)["pending_action"].(executor.PendingAction)

	env := e.CancelAction(action.ActionID)
	require.True(t, env.Success)
	assert.Contains(t, env.Summary, "Canceled")
	data := env.Data.(map[string]any)
	assert.Equal(t, true, data["canceled"])
	assert.Zero(t, st.total())
	assert.Empty(t, e.PendingActions())

	confirm := e.ConfirmAction(context.Background(), action.ActionID)
	require.False(t, confirm.Success)
	assert.Zero(t, st.total())
}

func TestCancelActionUnknownID(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, executor.DefaultConfig(), (&scriptedTransport{}).fn())

	env := e.CancelAction("0000000000000000")

	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, shape.ErrorPermanent, env.Error.Type)
}

func TestExecuteWithConfirmationPassesThroughUngatedTools(t *testing.T) {
	t.Parallel()
	st := &scriptedTransport{}
	e := newExecutor(t, executor.DefaultConfig(), st.fn())

	env := e.ExecuteWithConfirmation(context.Background(), executor.ToolRequest{
		Tool: "geowiz.analyze",
		Args: map[string]any{"tract": "Permian-A"},
	})

	require.True(t, env.Success)
	assert.Equal(t, 1, st.count("geowiz"))
	assert.Empty(t, e.PendingActions())
}

func TestExecuteWithConfirmationUnknownTool(t *testing.T) {
	t.Parallel()
	st := &scriptedTransport{}
	e := newExecutor(t, executor.DefaultConfig(), st.fn())

	env := e.ExecuteWithConfirmation(context.Background(), executor.ToolRequest{Tool: "wizard.analyze"})

	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Message, "unknown tool")
	assert.Zero(t, st.total())
}

func TestRequiresConfirmation(t *testing.T) {
	t.Parallel()
	e := newExecutor(t, executor.DefaultConfig(), nil)

	assert.True(t, e.RequiresConfirmation("decision.analyze"))
	assert.True(t, e.RequiresConfirmation("decision"), "bare server names resolve first")
	assert.False(t, e.RequiresConfirmation("geowiz.analyze"))
	assert.False(t, e.RequiresConfirmation("no-such-tool"))

	// Overrides gate additional tools; descriptor flags still apply.
	gated := newExecutor(t, executor.DefaultConfig(), nil, executor.WithConfirmTools("geowiz.analyze"))
	assert.True(t, gated.RequiresConfirmation("geowiz.analyze"))
	assert.True(t, gated.RequiresConfirmation("decision.analyze"))
}

func TestPendingActionsSortOldestFirst(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	st := &scriptedTransport{}
	e := newExecutor(t, executor.DefaultConfig(), st.fn(),
		executor.WithConfirmTools("reporter.analyze", "decision.analyze"),
		executor.WithClock(func() time.Time { return now }),
	)

	e.ExecuteWithConfirmation(context.Background(), executor.ToolRequest{Tool: "reporter.analyze"})
	now = now.Add(time.Second)
	e.ExecuteWithConfirmation(context.Background(), executor.ToolRequest{Tool: "decision.analyze"})

	pending := e.PendingActions()
	require.Len(t, pending, 2)
	assert.Equal(t, "reporter.analyze", pending[0].Tool)
	assert.Equal(t, "decision.analyze", pending[1].Tool)
}
