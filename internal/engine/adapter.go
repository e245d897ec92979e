package engine

import (
	"context"

	"github.com/pkg/errors"
)

// Readiness capability.
type readier interface {
	Ready(ctx context.Context) (Info, error)
}

// Graceful close capabilities, highest priority.
type (
	GracefulCloser interface {
		Close(ctx context.Context) error
	}
	Closer interface {
		Close() error
	}
)

// Destroy capabilities.
type (
	ContextDestroyer interface {
		Destroy(ctx context.Context) error
	}
	Destroyer interface {
		Destroy() error
	}
)

// InternalCloser is the low-level close exposed by some engines.
type InternalCloser interface {
	CloseInternal() error
}

// ShutdownMethod names the capability an adapter resolved to.
type ShutdownMethod string

const (
	MethodClose         ShutdownMethod = "close"
	MethodDestroy       ShutdownMethod = "destroy"
	MethodInternalClose ShutdownMethod = "internal-close"
	MethodNone          ShutdownMethod = "none"
)

type adapter struct {
	raw      any
	ready    readier
	method   ShutdownMethod
	shutdown func(ctx context.Context) error
}

// Adapt wraps a raw engine into a Handle. The raw engine must be able to
// signal readiness; its shutdown capability is resolved once, here.
func Adapt(raw any) (Handle, error) {
	if raw == nil {
		return nil, errors.New("engine is nil")
	}
	if h, ok := raw.(Handle); ok {
		return h, nil
	}
	r, ok := raw.(readier)
	if !ok {
		return nil, errors.Errorf("engine %T has no readiness signal", raw)
	}

	a := &adapter{raw: raw, ready: r}
	a.method, a.shutdown = resolveShutdown(raw)
	return a, nil
}

// resolveShutdown probes graceful close, then destroy, then internal close.
func resolveShutdown(raw any) (ShutdownMethod, func(ctx context.Context) error) {
	switch v := raw.(type) {
	case GracefulCloser:
		return MethodClose, v.Close
	case Closer:
		return MethodClose, func(context.Context) error { return v.Close() }
	}
	switch v := raw.(type) {
	case ContextDestroyer:
		return MethodDestroy, v.Destroy
	case Destroyer:
		return MethodDestroy, func(context.Context) error { return v.Destroy() }
	}
	if v, ok := raw.(InternalCloser); ok {
		return MethodInternalClose, func(context.Context) error { return v.CloseInternal() }
	}
	return MethodNone, func(context.Context) error { return ErrNoShutdownCapability }
}

func (a *adapter) Ready(ctx context.Context) (Info, error) {
	return a.ready.Ready(ctx)
}

func (a *adapter) Shutdown(ctx context.Context) error {
	return a.shutdown(ctx)
}

// Faults forwards the raw engine's fault channel, if it has one.
func (a *adapter) Faults() <-chan error {
	if fn, ok := a.raw.(FaultNotifier); ok {
		return fn.Faults()
	}
	return nil
}

// MethodOf reports the shutdown capability a handle resolved to, if it was
// produced by Adapt.
func MethodOf(h Handle) ShutdownMethod {
	if a, ok := h.(*adapter); ok {
		return a.method
	}
	return MethodClose
}
