package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shale-yeah/kernel/shape"
)

// PendingAction is a confirmation-gated tool call waiting for an explicit
// confirm or cancel. Pending actions live in process memory only; a restart
// discards them and their ids become permanently unknown.
type PendingAction struct {
	// ActionID is the sixteen-hex-char handle used to confirm or cancel.
	ActionID string `json:"actionId"`
	// Tool is the fully qualified tool name awaiting confirmation.
	Tool string `json:"tool"`
	// Args are the call arguments captured at gate time.
	Args map[string]any `json:"args,omitempty"`
	// SessionID scopes the eventual execution, when supplied.
	SessionID string `json:"sessionId,omitempty"`
	// DetailLevel is the requested response detail for the eventual call.
	DetailLevel shape.DetailLevel `json:"detailLevel,omitempty"`
	// CreatedAt is when the gate captured the call.
	CreatedAt time.Time `json:"createdAt"`
	// Description tells the agent what confirming will do.
	Description string `json:"description"`
}

// RequiresConfirmation reports whether a call to the given tool reference
// must pass through the confirmation gate.
func (e *Executor) RequiresConfirmation(toolName string) bool {
	desc, ok := e.directory.ResolveTool(toolName)
	if !ok {
		return false
	}
	return desc.RequiresConfirmation || e.confirmTools[desc.Name]
}

// ExecuteWithConfirmation runs the request through the confirmation gate.
// Tools that do not require confirmation execute immediately. Gated tools
// are captured as a PendingAction and a success envelope is returned whose
// data carries requires_confirmation plus the pending action; the transport
// is not invoked until ConfirmAction.
func (e *Executor) ExecuteWithConfirmation(ctx context.Context, req ToolRequest) shape.Envelope {
	desc, ok := e.directory.ResolveTool(req.Tool)
	if !ok {
		return e.failure(req.Tool, shape.ErrorDetail{
			Type:    shape.ErrorPermanent,
			Message: fmt.Sprintf("unknown tool %q", req.Tool),
		}, shape.Options{DetailLevel: e.cfg.DefaultDetailLevel})
	}
	if !desc.RequiresConfirmation && !e.confirmTools[desc.Name] {
		return e.Execute(ctx, req)
	}

	now := e.clock()
	action := PendingAction{
		ActionID:    GenerateKey(desc.Name, req.Args, fmt.Sprintf("confirm-%d", now.UnixMilli())),
		Tool:        desc.Name,
		Args:        mergeArgs(nil, req.Args),
		SessionID:   req.SessionID,
		DetailLevel: req.DetailLevel,
		CreatedAt:   now,
		Description: fmt.Sprintf("Execute %s after explicit confirmation", desc.Name),
	}

	e.pendingMu.Lock()
	e.pending[action.ActionID] = action
	e.pendingMu.Unlock()

	e.metrics.IncCounter("kernel.pending_actions", 1, "tool", desc.Name)
	e.logger.Info(ctx, "confirmation required",
		"tool", desc.Name, "action_id", action.ActionID)

	level := req.DetailLevel
	if !level.Valid() {
		level = e.cfg.DefaultDetailLevel
	}
	return shape.Envelope{
		Success: true,
		Summary: fmt.Sprintf("%s requires confirmation. Confirm action %s to execute or cancel it to discard.",
			desc.Name, action.ActionID),
		Confidence: 0,
		Data: map[string]any{
			"requires_confirmation": true,
			"pending_action":        action,
		},
		DetailLevel:  level,
		Completeness: 0,
		Metadata: shape.NewMetadata(shape.Options{
			Server:    desc.Server,
			Persona:   desc.Persona,
			Timestamp: now,
		}),
	}
}

// ConfirmAction executes the pending action for id and removes it. The
// removal is an atomic take-and-delete, so exactly one concurrent confirm
// wins; every other confirm and any later reuse of the id reports a
// permanent error.
func (e *Executor) ConfirmAction(ctx context.Context, actionID string) shape.Envelope {
	action, ok := e.takePending(actionID)
	if !ok {
		return e.failure("", shape.ErrorDetail{
			Type:    shape.ErrorPermanent,
			Message: fmt.Sprintf("No pending action found for id %q", actionID),
		}, shape.Options{DetailLevel: e.cfg.DefaultDetailLevel})
	}

	e.logger.Info(ctx, "pending action confirmed",
		"tool", action.Tool, "action_id", action.ActionID)
	return e.Execute(ctx, ToolRequest{
		Tool:        action.Tool,
		Args:        action.Args,
		SessionID:   action.SessionID,
		DetailLevel: action.DetailLevel,
	})
}

// CancelAction discards the pending action for id. Unknown ids report a
// permanent error; a successful cancel returns a success envelope describing
// the discarded call.
func (e *Executor) CancelAction(actionID string) shape.Envelope {
	action, ok := e.takePending(actionID)
	if !ok {
		return e.failure("", shape.ErrorDetail{
			Type:    shape.ErrorPermanent,
			Message: fmt.Sprintf("No pending action found for id %q", actionID),
		}, shape.Options{DetailLevel: e.cfg.DefaultDetailLevel})
	}

	e.logger.Info(context.Background(), "pending action canceled",
		"tool", action.Tool, "action_id", action.ActionID)
	return shape.Envelope{
		Success:      true,
		Summary:      fmt.Sprintf("Canceled pending %s call %s. Nothing was executed.", action.Tool, action.ActionID),
		Confidence:   0,
		Data:         map[string]any{"canceled": true, "pending_action": action},
		DetailLevel:  e.cfg.DefaultDetailLevel,
		Completeness: 0,
		Metadata:     shape.NewMetadata(shape.Options{Timestamp: e.clock()}),
	}
}

// PendingActions lists the actions waiting for confirmation, oldest first.
func (e *Executor) PendingActions() []PendingAction {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	out := make([]PendingAction, 0, len(e.pending))
	for _, action := range e.pending {
		out = append(out, action)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ActionID < out[j].ActionID
	})
	return out
}

// takePending atomically removes and returns the pending action for id.
func (e *Executor) takePending(actionID string) (PendingAction, bool) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	action, ok := e.pending[actionID]
	if !ok {
		return PendingAction{}, false
	}
	delete(e.pending, actionID)
	return action, true
}
