package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shale-yeah/kernel/resilience"
	"github.com/shale-yeah/kernel/shape"
)

// ExecuteParallel scatter-gathers the requests: chunks of at most
// MaxParallel run concurrently with all-settled semantics, and each chunk is
// fully awaited before the next starts. The result map carries an entry for
// every requested tool keyed by the reference as given; completion order is
// not preserved. Sibling failures never block one another.
func (e *Executor) ExecuteParallel(ctx context.Context, reqs []ToolRequest) ParallelResult {
	start := e.clock()
	results := make(map[string]shape.Envelope, len(reqs))
	if len(reqs) == 0 {
		return ParallelResult{Results: results, Completeness: 100}
	}

	var mu sync.Mutex
	for begin := 0; begin < len(reqs); begin += e.cfg.MaxParallel {
		end := begin + e.cfg.MaxParallel
		if end > len(reqs) {
			end = len(reqs)
		}
		g := new(errgroup.Group)
		for _, req := range reqs[begin:end] {
			g.Go(func() error {
				env := e.Execute(ctx, req)
				mu.Lock()
				results[req.Tool] = env
				mu.Unlock()
				return nil
			})
		}
		// Workers never return errors; Wait only fences the chunk.
		_ = g.Wait()
	}

	successes := 0
	var failures []FailureDetail
	for _, req := range reqs {
		env, ok := results[req.Tool]
		if !ok {
			continue
		}
		if env.Success {
			successes++
			continue
		}
		failures = append(failures, failureDetail(req.Tool, env))
	}

	return ParallelResult{
		Results:      results,
		Completeness: roundPct(successes, len(reqs)),
		TotalTimeMs:  e.clock().Sub(start).Milliseconds(),
		Failures:     failures,
	}
}

// failureDetail pairs a failed envelope with a fresh recovery guide for the
// requested tool.
func failureDetail(tool string, env shape.Envelope) FailureDetail {
	detail := shape.ErrorDetail{Type: shape.ErrorPermanent, Message: "tool call failed"}
	if env.Error != nil {
		detail = *env.Error
	}
	return FailureDetail{
		ToolName:      tool,
		Error:         detail,
		RecoveryGuide: resilience.BuildRecoveryGuide(detail.Message, tool),
	}
}
