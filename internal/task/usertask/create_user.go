// Package usertask holds the cross-worker/channel-queue task bodies for
// the Users domain (§4.6/§4.7). Each type implements contract.Task and is
// bound into the container under its class name so dispatch can resolve
// it purely from an envelope's Class field.
package usertask

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/runtime-core/internal/cacheservice"
	"github.com/fairyhunter13/runtime-core/internal/domain"
)

// CreateUserTask creates a user from the async-users surface and clears
// the list cache so the new row is visible on the next list read.
type CreateUserTask struct {
	Repo  domain.UserRepository
	Cache *cacheservice.Service
}

// ClassName satisfies contract.ClassName.
func (t *CreateUserTask) ClassName() string { return "task.create_user" }

// Handle implements contract.Task. args must be (name string, email string).
func (t *CreateUserTask) Handle(ctx context.Context, id string, args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("op=usertask.create_user: %w: expected 2 arguments, got %d", domain.ErrContractViolation, len(args))
	}
	name, ok1 := args[0].(string)
	email, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("op=usertask.create_user: %w: arguments must be strings", domain.ErrContractViolation)
	}

	newID, err := t.Repo.Create(ctx, domain.User{Name: name, Email: email})
	if err != nil {
		return nil, fmt.Errorf("op=usertask.create_user: %w", err)
	}
	if t.Cache != nil {
		_ = t.Cache.InvalidateLists(ctx)
	}
	return map[string]any{"id": newID, "name": name, "email": email}, nil
}

// Error implements contract.ErrorHandler: a failed create is reported as
// a structured result rather than a bare error outcome, matching how the
// async surface reports job failures to a later status poll.
func (t *CreateUserTask) Error(ctx context.Context, cause error, id string, args ...any) (any, error) {
	return map[string]any{"failed": true, "reason": cause.Error()}, nil
}
