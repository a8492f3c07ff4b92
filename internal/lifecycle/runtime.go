package lifecycle

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Component is anything with a managed start/stop lifecycle.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type registration struct {
	name      string
	component Component
}

// Runtime starts registered components in registration order and stops them
// in reverse. A failed start rolls back everything already started.
type Runtime struct {
	registrations []registration
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

func (r *Runtime) Register(name string, component Component) {
	if component == nil {
		return
	}
	r.registrations = append(r.registrations, registration{name: name, component: component})
}

func (r *Runtime) Start(ctx context.Context) error {
	started := make([]registration, 0, len(r.registrations))
	for _, reg := range r.registrations {
		if err := reg.component.Start(ctx); err != nil {
			if stopErr := stopAll(ctx, started); stopErr != nil {
				log.WithField("error", stopErr.Error()).Error("rollback stop failed")
			}
			return fmt.Errorf("start %s: %w", reg.name, err)
		}
		started = append(started, reg)
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	return stopAll(ctx, r.registrations)
}

func stopAll(ctx context.Context, regs []registration) error {
	var stopErr error
	for i := len(regs) - 1; i >= 0; i-- {
		if err := regs[i].component.Stop(ctx); err != nil {
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", regs[i].name, err))
		}
	}
	return stopErr
}
