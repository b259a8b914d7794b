package handlers

import (
	"context"

	"github.com/marmos91/flashwear/pkg/runtime"
	"github.com/marmos91/flashwear/pkg/wearlevel"
)

// Runtime is the part of *runtime.Runtime the handlers use.
type Runtime interface {
	Engine() *wearlevel.Engine
	Status() runtime.Status
	Maintain(ctx context.Context) (*runtime.MaintenanceRun, error)
	Persist(ctx context.Context) error
	Healthcheck(ctx context.Context) error
}

var _ Runtime = (*runtime.Runtime)(nil)
