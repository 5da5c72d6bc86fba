// Package instance implements the Instance RW-mux (IRM): a single-owner
// asynchronous readers-writer lock with read-to-write escalation
// detection, built on top of the queue package's FIFO writer/reader
// engine.
package instance

import (
	"context"
	"time"

	"github.com/neeraj-labs/rwmux/errors"
	"github.com/neeraj-labs/rwmux/handle"
	"github.com/neeraj-labs/rwmux/metrics"
	"github.com/neeraj-labs/rwmux/queue"
)

// Kind describes the enclosing critical section a nested acquisition
// runs on behalf of, tracked as a context-scoped "holder kind".
type Kind int

const (
	KindNone Kind = iota
	KindWriter
	KindReader
)

// ctxKey is the context.Value key type for recording which Kind of
// lock a given Mux is currently held under for the active call chain.
// It is keyed on the Mux pointer itself so that unrelated Mux values
// nested in the same call chain don't interfere with each other.
type ctxKey struct{ mux *Mux }

func withHolderKind(ctx context.Context, m *Mux, kind Kind) context.Context {
	return context.WithValue(ctx, ctxKey{mux: m}, kind)
}

func holderKind(ctx context.Context, m *Mux) Kind {
	v := ctx.Value(ctxKey{mux: m})
	if v == nil {
		return KindNone
	}
	return v.(Kind)
}

// Mux is one instance-scoped readers-writer lock, normally bound to a
// single logical owner (an object, a resource handle, ...). The zero
// value is not usable; construct with New.
type Mux struct {
	name string
	q    *queue.Queue
}

// New creates a Mux. name is used only to label metrics and may be
// empty.
func New(name string) *Mux {
	return &Mux{name: name, q: queue.New()}
}

// Exclusive acquires the lock for writing, runs body, and releases —
// even if body panics or returns an error. If the enclosing call chain
// already holds this Mux's shared lock, it fails with errors.ErrEscalation
// without touching the queue. body is invoked with a context tagging
// the current holder kind as exclusive, so further nested Exclusive or
// Shared calls on the same Mux observe it. A nested Exclusive call made
// with that context runs its body at once inside the enclosing exclusive
// slot instead of queueing behind it; nested calls made this way from
// separate goroutines are not serialized against each other.
func (m *Mux) Exclusive(ctx context.Context, body func(context.Context) error) error {
	switch holderKind(ctx, m) {
	case KindReader:
		metrics.RecordEscalation(m.name)
		return errors.ErrEscalation
	case KindWriter:
		return body(ctx)
	}

	h, err := m.acquire(ctx, queue.Writer, "writer")
	if err != nil {
		return err
	}
	defer h.Release()

	return body(withHolderKind(ctx, m, KindWriter))
}

// Shared acquires the lock for reading, runs body, and releases. Unlike
// Exclusive, Shared never fails due to escalation: nested shared
// acquisitions on the same Mux are always permitted.
func (m *Mux) Shared(ctx context.Context, body func(context.Context) error) error {
	h, err := m.acquire(ctx, queue.Reader, "reader")
	if err != nil {
		return err
	}
	defer h.Release()

	return body(withHolderKind(ctx, m, KindReader))
}

// AcquireExclusive acquires the lock for writing without running a
// body, returning a handle.Handle the caller must release exactly
// once. Fails with errors.ErrEscalation under the same conditions as
// Exclusive.
func (m *Mux) AcquireExclusive(ctx context.Context) (*handle.Handle, error) {
	if holderKind(ctx, m) == KindReader {
		metrics.RecordEscalation(m.name)
		return nil, errors.ErrEscalation
	}
	return m.acquire(ctx, queue.Writer, "writer")
}

// AcquireShared acquires the lock for reading without running a body,
// returning a handle.Handle the caller must release exactly once.
func (m *Mux) AcquireShared(ctx context.Context) (*handle.Handle, error) {
	return m.acquire(ctx, queue.Reader, "reader")
}

func (m *Mux) acquire(ctx context.Context, kind queue.Kind, label string) (*handle.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCanceled(err)
	}

	start := time.Now()
	ready, release := m.q.Arrive(kind)
	metrics.ObserveQueueDepth(m.name, "", m.q.Len())

	select {
	case <-ready:
		metrics.RecordAcquireDuration(m.name, label, time.Since(start).Seconds())
		return handle.New(release), nil
	case <-ctx.Done():
		// The waiter never runs its body and must not consume its
		// slot, but the queue's bookkeeping still needs to advance:
		// release runs the same pop/decrement path a normal completion
		// would, so a canceled waiter never wedges the queue for
		// everyone behind it.
		metrics.RecordCancellation(m.name, label)
		release()
		return nil, errors.NewCanceled(ctx.Err())
	}
}
