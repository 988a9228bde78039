// Package dispatch implements the shared task-execution path used by both
// the in-process channel queue (§4.7) and the cross-worker task subsystem
// (§4.6): resolve the class via the container, assert the task contract,
// invoke it, and record metrics — except for the metrics task itself,
// which is guarded against recursively scheduling another metrics task.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/runtime-core/internal/adapter/observability"
	"github.com/fairyhunter13/runtime-core/internal/domain"
	"github.com/fairyhunter13/runtime-core/internal/pipeline/container"
	"github.com/fairyhunter13/runtime-core/internal/task/contract"
	"github.com/fairyhunter13/runtime-core/internal/task/envelope"
)

// MetricsTaskClass is the container id of the built-in metrics follow-up
// task. A dispatch for this class never records task metrics and the
// recursion guard (Guard) refuses to enqueue another instance of it.
const MetricsTaskClass = "task.metrics.record"

// Handle resolves env.Class via c, asserts it implements contract.Task,
// and invokes it, returning the outcome to publish. A class that cannot be
// resolved or asserted (a ContractViolation) is reported in the outcome's
// Error field.
func Handle(ctx context.Context, c *container.Container, env envelope.Envelope) envelope.Outcome {
	start := time.Now()
	out := envelope.Outcome{Class: env.Class, ID: env.ID, Arguments: env.Arguments}

	raw, err := c.Get(env.Class)
	if err != nil {
		out.Error = fmt.Errorf("op=dispatch.resolve: %w: %v", domain.ErrContractViolation, err).Error()
		recordMetrics(env.Class, "error", start)
		slog.Error("task class unresolvable", slog.String("class", env.Class), slog.Any("error", err))
		return out
	}

	task, ok := raw.(contract.Task)
	if !ok {
		out.Error = fmt.Sprintf("op=dispatch.assert: %v: class %q does not implement the task contract", domain.ErrContractViolation, env.Class)
		recordMetrics(env.Class, "error", start)
		slog.Error("task class fails contract assertion", slog.String("class", env.Class))
		return out
	}

	result, runErr := task.Handle(ctx, env.ID, env.Arguments...)
	if runErr == nil {
		out.Result = result
		recordMetrics(env.Class, "ok", start)
		return out
	}

	if eh, ok := raw.(contract.ErrorHandler); ok {
		errResult, err2 := eh.Error(ctx, runErr, env.ID, env.Arguments...)
		if err2 == nil {
			out.Result = errResult
			recordMetrics(env.Class, "handled_error", start)
			return out
		}
		out.Error = err2.Error()
		recordMetrics(env.Class, "error", start)
		return out
	}

	out.Error = runErr.Error()
	recordMetrics(env.Class, "error", start)
	return out
}

func recordMetrics(class, status string, start time.Time) {
	if class == MetricsTaskClass {
		return
	}
	observability.RecordTask(class, status, time.Since(start))
}

// Guard reports whether scheduling a follow-up task of class next is safe
// given the class currently executing (current). It refuses only the
// self-referential metrics-task case named in §4.7.
func Guard(current, next string) bool {
	return !(current == MetricsTaskClass && next == MetricsTaskClass)
}
