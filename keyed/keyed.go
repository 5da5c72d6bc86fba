// Package keyed implements the Keyed RW-mux (KRM): a registry of
// per-key instance-style readers-writer locks, plus global (unkeyed)
// acquisitions that must be observed by every key -- including keys
// that are created while a global acquisition is still outstanding.
//
// The per-key behavior is exactly the queue package's FIFO
// writer/reader engine (the one instance uses), one queue per key, created lazily and removed
// once drained -- the same lazy-creation, mutex-protected,
// deleted-when-empty map idiom used for named sub-registries elsewhere
// in this style of codebase. Global acquisitions add a second queue
// (the "global queue") for ordering among themselves and fan out a matching
// item onto every per-key queue that exists at the moment they
// dispatch. A key created later, while a global acquisition's fan-out
// is still outstanding, did not receive that fan-out item and would
// otherwise escape it; pendingBarriers closes that gap by making the
// new key's first acquirer wait for every barrier that was in flight
// at the moment the key was born.
package keyed

import (
	"context"
	"sync"
	"time"

	"github.com/neeraj-labs/rwmux/errors"
	"github.com/neeraj-labs/rwmux/handle"
	"github.com/neeraj-labs/rwmux/metrics"
	"github.com/neeraj-labs/rwmux/queue"
)

// Kind mirrors instance.Kind: which sort of lock the enclosing call
// chain currently holds, tracked per (Mux, key) and per (Mux, global).
type Kind int

const (
	KindNone Kind = iota
	KindWriter
	KindReader
)

type ctxEntry struct {
	global bool
	key    string
}

type ctxKey struct {
	mux   *Mux
	entry ctxEntry
}

func withHolderKind(ctx context.Context, m *Mux, entry ctxEntry, kind Kind) context.Context {
	return context.WithValue(ctx, ctxKey{mux: m, entry: entry}, kind)
}

func holderKind(ctx context.Context, m *Mux, entry ctxEntry) Kind {
	v := ctx.Value(ctxKey{mux: m, entry: entry})
	if v == nil {
		return KindNone
	}
	return v.(Kind)
}

// holdsReader reports whether the call chain already holds a shared
// lock that covers key -- either directly on key, or via an
// outstanding global shared acquisition (a global reader is a reader
// on every key).
func holdsReader(ctx context.Context, m *Mux, key string) bool {
	if holderKind(ctx, m, ctxEntry{key: key}) == KindReader {
		return true
	}
	return holderKind(ctx, m, ctxEntry{global: true}) == KindReader
}

// Mux is a registry of per-key instance-style locks plus global
// (unkeyed) acquisitions spanning all of them. The zero value is not
// usable; construct with New.
type Mux struct {
	name string

	mu              sync.Mutex
	keyQueues       map[string]*queue.Queue
	globalQueue     *queue.Queue
	pendingBarriers []chan struct{}
}

// New creates a Mux. name labels metrics and may be empty.
func New(name string) *Mux {
	return &Mux{
		name:        name,
		keyQueues:   make(map[string]*queue.Queue),
		globalQueue: queue.New(),
	}
}

// Exclusive acquires the per-key writer lock for key, runs body, and
// releases. Fails with errors.ErrEscalation if the call chain already
// holds a shared lock covering key (directly, or via an outstanding
// global shared acquisition).
func (m *Mux) Exclusive(ctx context.Context, key string, body func(context.Context) error) error {
	if holdsReader(ctx, m, key) {
		metrics.RecordEscalation(m.name)
		return errors.ErrEscalation
	}
	h, err := m.acquireKeyed(ctx, key, queue.Writer, "writer")
	if err != nil {
		return err
	}
	defer h.Release()
	return body(withHolderKind(ctx, m, ctxEntry{key: key}, KindWriter))
}

// Shared acquires the per-key reader lock for key, runs body, and
// releases. Never fails due to escalation.
func (m *Mux) Shared(ctx context.Context, key string, body func(context.Context) error) error {
	h, err := m.acquireKeyed(ctx, key, queue.Reader, "reader")
	if err != nil {
		return err
	}
	defer h.Release()
	return body(withHolderKind(ctx, m, ctxEntry{key: key}, KindReader))
}

// AcquireExclusive is the manual form of Exclusive.
func (m *Mux) AcquireExclusive(ctx context.Context, key string) (*handle.Handle, error) {
	if holdsReader(ctx, m, key) {
		metrics.RecordEscalation(m.name)
		return nil, errors.ErrEscalation
	}
	return m.acquireKeyed(ctx, key, queue.Writer, "writer")
}

// AcquireShared is the manual form of Shared.
func (m *Mux) AcquireShared(ctx context.Context, key string) (*handle.Handle, error) {
	return m.acquireKeyed(ctx, key, queue.Reader, "reader")
}

// ExclusiveGlobal acquires an unkeyed writer lock that orders against
// every key's writer/reader traffic: it waits for, and blocks, every
// key that exists when it dispatches, and every key born before it
// finishes releasing.
func (m *Mux) ExclusiveGlobal(ctx context.Context, body func(context.Context) error) error {
	if holderKind(ctx, m, ctxEntry{global: true}) == KindReader {
		metrics.RecordEscalation(m.name)
		return errors.ErrEscalation
	}
	h, err := m.acquireGlobal(ctx, queue.Writer, "writer")
	if err != nil {
		return err
	}
	defer h.Release()
	return body(withHolderKind(ctx, m, ctxEntry{global: true}, KindWriter))
}

// SharedGlobal acquires an unkeyed reader lock spanning every key, per
// the same rules as ExclusiveGlobal.
func (m *Mux) SharedGlobal(ctx context.Context, body func(context.Context) error) error {
	h, err := m.acquireGlobal(ctx, queue.Reader, "reader")
	if err != nil {
		return err
	}
	defer h.Release()
	return body(withHolderKind(ctx, m, ctxEntry{global: true}, KindReader))
}

// AcquireExclusiveGlobal is the manual form of ExclusiveGlobal.
func (m *Mux) AcquireExclusiveGlobal(ctx context.Context) (*handle.Handle, error) {
	if holderKind(ctx, m, ctxEntry{global: true}) == KindReader {
		metrics.RecordEscalation(m.name)
		return nil, errors.ErrEscalation
	}
	return m.acquireGlobal(ctx, queue.Writer, "writer")
}

// AcquireSharedGlobal is the manual form of SharedGlobal.
func (m *Mux) AcquireSharedGlobal(ctx context.Context) (*handle.Handle, error) {
	return m.acquireGlobal(ctx, queue.Reader, "reader")
}

func (m *Mux) acquireKeyed(ctx context.Context, key string, kind queue.Kind, label string) (*handle.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCanceled(err)
	}

	start := time.Now()

	m.mu.Lock()
	q, exists := m.keyQueues[key]
	var gate []chan struct{}
	if !exists {
		q = queue.New()
		m.keyQueues[key] = q
		gate = append(gate, m.pendingBarriers...)
	}
	ready, rawRelease := q.Arrive(kind)
	metrics.ObserveQueueDepth(m.name, key, q.Len())
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		rawRelease()
		if q.Empty() {
			if cur, ok := m.keyQueues[key]; ok && cur == q {
				delete(m.keyQueues, key)
			}
		}
		m.mu.Unlock()
	}

	for _, g := range gate {
		select {
		case <-g:
		case <-ctx.Done():
			metrics.RecordCancellation(m.name, label)
			release()
			return nil, errors.NewCanceled(ctx.Err())
		}
	}

	select {
	case <-ready:
		metrics.RecordAcquireDuration(m.name, label, time.Since(start).Seconds())
		return handle.New(release), nil
	case <-ctx.Done():
		metrics.RecordCancellation(m.name, label)
		release()
		return nil, errors.NewCanceled(ctx.Err())
	}
}

// barrierItem is one key's fan-out item within a single global
// acquisition.
type barrierItem struct {
	ready   <-chan struct{}
	release func()
}

func (m *Mux) acquireGlobal(ctx context.Context, kind queue.Kind, label string) (*handle.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCanceled(err)
	}

	start := time.Now()
	barrierDone := make(chan struct{})

	m.mu.Lock()
	globalReady, globalRelease := m.globalQueue.Arrive(kind)
	items := make(map[string]barrierItem, len(m.keyQueues))
	for key, q := range m.keyQueues {
		r, rel := q.Arrive(kind)
		items[key] = barrierItem{ready: r, release: rel}
	}
	m.pendingBarriers = append(m.pendingBarriers, barrierDone)
	metrics.ObserveQueueDepth(m.name, "*", m.globalQueue.Len())
	m.mu.Unlock()

	removeBarrier := func() {
		m.mu.Lock()
		for i, b := range m.pendingBarriers {
			if b == barrierDone {
				m.pendingBarriers = append(m.pendingBarriers[:i], m.pendingBarriers[i+1:]...)
				break
			}
		}
		for key, it := range items {
			it.release()
			if q, ok := m.keyQueues[key]; ok && q.Empty() {
				delete(m.keyQueues, key)
			}
		}
		globalRelease()
		m.mu.Unlock()
		close(barrierDone)
	}

	awaitAll := func() error {
		select {
		case <-globalReady:
		case <-ctx.Done():
			return ctx.Err()
		}
		for _, it := range items {
			select {
			case <-it.ready:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	if err := awaitAll(); err != nil {
		metrics.RecordCancellation(m.name, label)
		removeBarrier()
		return nil, errors.NewCanceled(err)
	}

	metrics.RecordAcquireDuration(m.name, label, time.Since(start).Seconds())
	return handle.New(removeBarrier), nil
}
