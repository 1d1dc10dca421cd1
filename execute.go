package kernel

import (
	"context"
	"fmt"

	"github.com/shale-yeah/kernel/audit"
	"github.com/shale-yeah/kernel/auth"
	"github.com/shale-yeah/kernel/bundle"
	"github.com/shale-yeah/kernel/executor"
	"github.com/shale-yeah/kernel/shape"
)

// SetExecutorFn injects the transport used to reach workers. Until one is
// set, execution returns classified no-transport failures.
func (k *Kernel) SetExecutorFn(fn executor.TransportFunc) {
	k.exec.SetTransport(fn)
}

// Execute runs one tool without authorization, audit or session storage.
// Callers that need the full pipeline use CallTool.
func (k *Kernel) Execute(ctx context.Context, req executor.ToolRequest) shape.Envelope {
	return k.exec.Execute(ctx, req)
}

// AuthCheck reports whether the session's identity may call the tool.
func (k *Kernel) AuthCheck(toolName, sessionID string) auth.Decision {
	return k.checker.Check(toolName, k.identityFor(sessionID))
}

// CallTool runs the full pipeline: permission check, audit request entry,
// execution (through the confirmation gate where the tool demands it), audit
// response or error entry, and session storage of successful results under
// the fully qualified tool name. Denials never reach the transport; they
// write a denied audit entry and return an auth_required envelope.
func (k *Kernel) CallTool(ctx context.Context, req executor.ToolRequest) shape.Envelope {
	identity := k.identityFor(req.SessionID)
	toolName := k.qualifiedName(req.Tool)
	role := string(identity.Role)

	decision := k.checker.Check(req.Tool, identity)
	if !decision.Allowed {
		denied := k.trail.BuildEntry(
			toolName, audit.ActionDenied, req.Args, identity.UserID, req.SessionID, role)
		denied.ErrorType = string(shape.ErrorAuthRequired)
		k.trail.LogDenial(denied)
		k.metrics.IncCounter("kernel.denied_calls", 1, "tool", toolName)
		return k.denialEnvelope(toolName, decision)
	}

	k.trail.LogRequest(k.trail.BuildEntry(
		toolName, audit.ActionRequest, req.Args, identity.UserID, req.SessionID, role))

	start := k.clock()
	var env shape.Envelope
	gated := k.exec.RequiresConfirmation(req.Tool)
	if gated {
		env = k.exec.ExecuteWithConfirmation(ctx, req)
	} else {
		env = k.exec.Execute(ctx, req)
	}
	duration := k.clock().Sub(start).Milliseconds()

	entry := k.trail.BuildEntry(
		toolName, audit.ActionResponse, req.Args, identity.UserID, req.SessionID, role)
	entry.Success = &env.Success
	entry.DurationMs = &duration
	if env.Success {
		k.trail.LogResponse(entry)
	} else {
		if env.Error != nil {
			entry.ErrorType = string(env.Error.Type)
		}
		k.trail.LogError(entry)
	}

	if env.Success && !gated {
		k.storeResult(req.SessionID, toolName, env)
	}
	return env
}

// ExecuteParallel scatter-gathers several tool calls, bounded by the
// configured parallelism. All requests settle; failures never cancel
// siblings.
func (k *Kernel) ExecuteParallel(ctx context.Context, reqs []executor.ToolRequest) executor.ParallelResult {
	return k.exec.ExecuteParallel(ctx, reqs)
}

// QuickScreen runs the four-tool screening bundle against one tract.
func (k *Kernel) QuickScreen(ctx context.Context, tractArgs map[string]any) executor.BundleResult {
	return k.exec.ExecuteBundle(ctx, executor.QuickScreen(), tractArgs)
}

// FullAnalysis runs the complete due-diligence workflow against one tract.
func (k *Kernel) FullAnalysis(ctx context.Context, tractArgs map[string]any) executor.BundleResult {
	return k.exec.ExecuteBundle(ctx, executor.FullDueDiligence(), tractArgs)
}

// GeologicalDeepDive runs the geology-focused workflow against one tract.
func (k *Kernel) GeologicalDeepDive(ctx context.Context, tractArgs map[string]any) executor.BundleResult {
	return k.exec.ExecuteBundle(ctx, bundle.GeologicalDeepDive(), tractArgs)
}

// FinancialReview runs the economics-focused workflow against one tract.
func (k *Kernel) FinancialReview(ctx context.Context, tractArgs map[string]any) executor.BundleResult {
	return k.exec.ExecuteBundle(ctx, bundle.FinancialReview(), tractArgs)
}

// ShouldWeInvest runs full due diligence, then withholds the investment
// decision behind the confirmation gate: the decision entry in the results
// becomes a pending action that executes only on ConfirmAction.
func (k *Kernel) ShouldWeInvest(ctx context.Context, tractArgs map[string]any) executor.BundleResult {
	res := k.exec.ExecuteBundle(ctx, executor.FullDueDiligence(), tractArgs)
	gated := k.exec.ExecuteWithConfirmation(ctx, executor.ToolRequest{
		Tool:        "decision.analyze",
		Args:        tractArgs,
		DetailLevel: shape.DetailFull,
	})
	if res.Results == nil {
		res.Results = make(map[string]shape.Envelope, 1)
	}
	res.Results["decision.analyze"] = gated
	return res
}

// ConfirmAction executes a pending action by id. Unknown ids return a
// permanent failure envelope. A confirmed result lands in the pending
// action's session like any other analysis.
func (k *Kernel) ConfirmAction(ctx context.Context, actionID string) shape.Envelope {
	var tool, sessionID string
	for _, action := range k.exec.PendingActions() {
		if action.ActionID == actionID {
			tool, sessionID = action.Tool, action.SessionID
			break
		}
	}
	env := k.exec.ConfirmAction(ctx, actionID)
	if tool != "" && env.Success {
		k.storeResult(sessionID, tool, env)
	}
	return env
}

// CancelAction discards a pending action by id.
func (k *Kernel) CancelAction(actionID string) shape.Envelope {
	return k.exec.CancelAction(actionID)
}

// PendingActions lists the actions awaiting confirmation, oldest first.
func (k *Kernel) PendingActions() []executor.PendingAction {
	return k.exec.PendingActions()
}

// qualifiedName resolves a tool reference to its fully qualified name for
// audit entries and session storage; unresolved references are recorded as
// given.
func (k *Kernel) qualifiedName(ref string) string {
	if desc, ok := k.registry.ResolveTool(ref); ok {
		return desc.Name
	}
	return ref
}

// storeResult records the envelope in the session so later calls can
// reference prior analyses. Sessionless calls store nothing.
func (k *Kernel) storeResult(sessionID, toolName string, env shape.Envelope) {
	if sessionID == "" {
		return
	}
	sess, err := k.sessions.Get(sessionID)
	if err != nil {
		return
	}
	sess.StoreResult(toolName, env)
}

// denialEnvelope shapes an authorization denial as a well-formed failure.
func (k *Kernel) denialEnvelope(toolName string, decision auth.Decision) shape.Envelope {
	steps := make([]string, 0, 3)
	if decision.RequiredRole != "" {
		steps = append(steps, fmt.Sprintf("Request the %s role or higher from your administrator", decision.RequiredRole))
	}
	steps = append(steps,
		"Create a session with an identity that holds the required permissions",
		"Retry the call once your role has been updated",
	)

	detail := shape.ErrorDetail{
		Type:          shape.ErrorAuthRequired,
		Message:       decision.Reason,
		Reason:        "The session identity does not hold the permissions this tool requires.",
		RecoverySteps: steps,
	}
	opts := shape.Options{
		DetailLevel: k.cfg.Execution.DefaultDetailLevel,
		Timestamp:   k.clock(),
	}
	if desc, ok := k.registry.ResolveTool(toolName); ok {
		opts.Server = desc.Server
		opts.Persona = desc.Persona
	}
	return shape.Failure(detail, opts)
}
