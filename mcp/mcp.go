// Package mcp speaks the tool protocol to analysis workers. A Caller invokes
// one tool on one worker; StdioCaller keeps a worker subprocess alive and
// multiplexes JSON-RPC 2.0 calls over its stdio pipes. Replies normalize into
// the wire result the executor consumes, so transport wiring reduces to
// routing server names onto callers.
package mcp

import (
	"context"

	"github.com/shale-yeah/kernel/shape"
)

type (
	// Caller invokes tools on a single worker. Implementations must be safe
	// for concurrent use.
	Caller interface {
		CallTool(ctx context.Context, req CallRequest) (CallResponse, error)
	}

	// CallRequest describes one tool invocation.
	CallRequest struct {
		// Tool is the worker-local tool name.
		Tool string
		// Args carries the validated tool arguments.
		Args map[string]any
	}

	// CallResponse carries the worker's normalized reply.
	CallResponse struct {
		// Result is the wire result decoded from the worker's content.
		Result shape.WireResult
	}

	// CallerFunc adapts a function to implement Caller.
	CallerFunc func(ctx context.Context, req CallRequest) (CallResponse, error)

	// Error is a JSON-RPC error returned by a worker.
	Error struct {
		// Code is the JSON-RPC error code.
		Code int
		// Message is the worker-provided description.
		Message string
	}
)

// CallTool implements Caller.
func (f CallerFunc) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	return f(ctx, req)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}
