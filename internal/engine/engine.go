package engine

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNoShutdownCapability is returned by Shutdown when the wrapped engine
// exposes none of the known shutdown methods.
var ErrNoShutdownCapability = errors.New("engine exposes no shutdown capability")

// Handle is a running (or starting) engine as seen by the lifecycle manager.
type Handle interface {
	// Ready blocks until the engine is usable or has failed.
	Ready(ctx context.Context) (Info, error)
	// Shutdown releases every resource held by the engine.
	Shutdown(ctx context.Context) error
}

// FaultNotifier is implemented by handles that can fail after Ready.
// The channel receives at most one error and is closed once the engine has
// shut down.
type FaultNotifier interface {
	Faults() <-chan error
}

// Factory builds a handle for a contract. It must not block on the network;
// blocking work belongs in Ready.
type Factory func(c Contract) (Handle, error)

// Constructor builds a raw engine that is later wrapped with Adapt.
type Constructor func(c Contract) (any, error)

// FromConstructor turns a raw constructor into a Factory.
func FromConstructor(ctor Constructor) Factory {
	return func(c Contract) (Handle, error) {
		raw, err := ctor(c)
		if err != nil {
			return nil, err
		}
		return Adapt(raw)
	}
}
