package main

import (
	"context"
	"encoding/json"

	"adamcp/internal/manager"
	"adamcp/pkg/types"
)

// opsService adapts the pool manager to the operational HTTP API.
type opsService struct {
	mgr *manager.Manager
}

func (s opsService) Status() types.StatusResponse { return s.mgr.Status() }
func (s opsService) Ready() bool                  { return s.mgr.Ready() }

func (s opsService) InvalidateProject(root string) int {
	return s.mgr.InvalidateProject(root)
}

// Submit routes a raw debug request, always bypassing the cache so operators
// see live server behavior.
func (s opsService) Submit(ctx context.Context, root, method string, params json.RawMessage) (json.RawMessage, error) {
	return s.mgr.Submit(ctx, root, method, params, manager.SubmitOptions{})
}
