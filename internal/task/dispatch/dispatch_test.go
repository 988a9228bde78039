package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/runtime-core/internal/pipeline/container"
	"github.com/fairyhunter13/runtime-core/internal/task/dispatch"
	"github.com/fairyhunter13/runtime-core/internal/task/envelope"
)

type okTask struct{}

func (okTask) Handle(ctx context.Context, id string, args ...any) (any, error) {
	return "done:" + id, nil
}

type failingTask struct{}

func (failingTask) Handle(ctx context.Context, id string, args ...any) (any, error) {
	return nil, errors.New("boom")
}

type selfHealingTask struct{}

func (selfHealingTask) Handle(ctx context.Context, id string, args ...any) (any, error) {
	return nil, errors.New("boom")
}
func (selfHealingTask) Error(ctx context.Context, cause error, id string, args ...any) (any, error) {
	return "recovered:" + cause.Error(), nil
}

func TestHandle_SuccessPublishesResult(t *testing.T) {
	c := container.New()
	c.Bind("task.ok", func(c *container.Container) (any, error) { return okTask{}, nil })

	out := dispatch.Handle(context.Background(), c, envelope.New("task.ok", "1"))
	assert.Equal(t, "done:1", out.Result)
	assert.Empty(t, out.Error)
}

func TestHandle_FailureWithoutErrorHandlerPublishesErrorOutcome(t *testing.T) {
	c := container.New()
	c.Bind("task.fail", func(c *container.Container) (any, error) { return failingTask{}, nil })

	out := dispatch.Handle(context.Background(), c, envelope.New("task.fail", "2"))
	assert.Equal(t, "boom", out.Error)
}

func TestHandle_FailureWithErrorHandlerPublishesItsResult(t *testing.T) {
	c := container.New()
	c.Bind("task.heal", func(c *container.Container) (any, error) { return selfHealingTask{}, nil })

	out := dispatch.Handle(context.Background(), c, envelope.New("task.heal", "3"))
	assert.Empty(t, out.Error)
	assert.Equal(t, "recovered:boom", out.Result)
}

func TestHandle_UnresolvableClassIsContractViolation(t *testing.T) {
	c := container.New()
	out := dispatch.Handle(context.Background(), c, envelope.New("task.missing", "4"))
	assert.Contains(t, out.Error, "contract violation")
}

func TestHandle_NonConformingClassIsContractViolation(t *testing.T) {
	c := container.New()
	c.Bind("task.bad", func(c *container.Container) (any, error) { return 42, nil })
	out := dispatch.Handle(context.Background(), c, envelope.New("task.bad", "5"))
	assert.Contains(t, out.Error, "contract violation")
}

func TestGuard_RefusesSelfReferentialMetricsTask(t *testing.T) {
	assert.False(t, dispatch.Guard(dispatch.MetricsTaskClass, dispatch.MetricsTaskClass))
	assert.True(t, dispatch.Guard(dispatch.MetricsTaskClass, "task.ok"))
	assert.True(t, dispatch.Guard("task.ok", dispatch.MetricsTaskClass))
}
