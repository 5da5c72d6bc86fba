// Package method provides decorator-style sugar over the instance
// package: given any comparable owner value, Exclusive and Shared wrap
// a function with shared-or-exclusive locking, lazily creating and
// caching one instance.Mux per owner.
package method

import (
	"context"
	"sync"

	"github.com/neeraj-labs/rwmux/errors"
	"github.com/neeraj-labs/rwmux/instance"
)

// Registry lazily creates and caches one *instance.Mux per owner
// identity. The zero value is ready to use.
type Registry struct {
	muxes sync.Map // owner (comparable) -> *instance.Mux
}

func (r *Registry) muxFor(owner any) (mux *instance.Mux, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			mux, err = nil, errors.ErrUnsupportedInstrumentation
		}
	}()

	if v, ok := r.muxes.Load(owner); ok {
		return v.(*instance.Mux), nil
	}
	m := instance.New("")
	actual, _ := r.muxes.LoadOrStore(owner, m)
	return actual.(*instance.Mux), nil
}

// Exclusive resolves owner's mux and runs body under its exclusive
// lock. Returns errors.ErrUnsupportedInstrumentation if owner is not a
// comparable value (it would panic on map insertion).
func (r *Registry) Exclusive(ctx context.Context, owner any, body func(context.Context) error) error {
	mux, err := r.muxFor(owner)
	if err != nil {
		return err
	}
	return mux.Exclusive(ctx, body)
}

// Shared resolves owner's mux and runs body under its shared lock.
func (r *Registry) Shared(ctx context.Context, owner any, body func(context.Context) error) error {
	mux, err := r.muxFor(owner)
	if err != nil {
		return err
	}
	return mux.Shared(ctx, body)
}

// Wrap returns a new function that runs fn under owner's exclusive
// lock every time it is called.
func (r *Registry) Wrap(owner any, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return r.Exclusive(ctx, owner, fn)
	}
}

// WrapShared is Wrap's shared-lock counterpart.
func (r *Registry) WrapShared(owner any, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return r.Shared(ctx, owner, fn)
	}
}

var defaultRegistry Registry

// Exclusive runs body under the package-level default registry's
// exclusive lock for owner.
func Exclusive(ctx context.Context, owner any, body func(context.Context) error) error {
	return defaultRegistry.Exclusive(ctx, owner, body)
}

// Shared runs body under the package-level default registry's shared
// lock for owner.
func Shared(ctx context.Context, owner any, body func(context.Context) error) error {
	return defaultRegistry.Shared(ctx, owner, body)
}
