// Package queue implements the FIFO, coalescing queue of writer and
// reader items shared by the instance and keyed mutexes. It is the
// lowest-level, highest-value piece of this module and is deliberately
// kept free of any notion of "owner", "key", or cancellation — those
// are layered on top by the instance and keyed packages.
//
// A Queue has no internal goroutine of its own; all bookkeeping happens
// synchronously, under Queue's mutex, inside Arrive and the release
// closures Arrive returns. The mutex exists because Go has real
// parallelism: it serializes the bookkeeping the way a single-threaded
// cooperative scheduler would do implicitly.
package queue

import "sync"

// Kind distinguishes writer and reader arrivals.
type Kind int

const (
	Writer Kind = iota
	Reader
)

// entry is one queued item: either a writer's step chain or a reader
// cohort. Exactly one of (steps, count) is meaningful, selected by kind.
type entry struct {
	kind Kind

	// steps holds one channel per coalesced writer arrival, in arrival
	// order. steps[0] is closed when the entry becomes the queue head;
	// each subsequent steps[i] is closed when steps[i-1]'s holder
	// releases. The entry is removed once steps is empty.
	steps []chan struct{}

	// count is the live member count of a reader cohort. ready is
	// closed once, when the entry becomes (or starts as) the queue
	// head; every member of the cohort waits on the same channel. The
	// entry is removed once count reaches 0.
	count int
	ready chan struct{}
}

// Queue is one FIFO writer/reader queue: the building block for both
// instance.Mux and every global/per-key queue inside keyed.Mux.
type Queue struct {
	mu    sync.Mutex
	items []*entry
}

// New returns an empty Queue.
func New() *Queue { return &Queue{} }

// Arrive enqueues (or coalesces into) an item of the given kind and
// returns the channel the caller should wait on before proceeding, plus
// a release func the caller must invoke exactly once when its critical
// section ends (whether or not it ever actually ran the body — see the
// instance/keyed packages' cancellation handling).
func (q *Queue) Arrive(kind Kind) (ready <-chan struct{}, release func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch kind {
	case Writer:
		return q.arriveWriter()
	case Reader:
		return q.arriveReader()
	default:
		panic("queue: invalid kind")
	}
}

func (q *Queue) arriveWriter() (<-chan struct{}, func()) {
	if n := len(q.items); n > 0 && q.items[n-1].kind == Writer {
		tail := q.items[n-1]
		step := make(chan struct{})
		tail.steps = append(tail.steps, step)
		return step, func() { q.releaseWriterStep(tail, step) }
	}

	e := &entry{kind: Writer}
	first := make(chan struct{})
	e.steps = []chan struct{}{first}
	q.items = append(q.items, e)
	if len(q.items) == 1 {
		close(first)
	}
	return first, func() { q.releaseWriterStep(e, first) }
}

func (q *Queue) arriveReader() (<-chan struct{}, func()) {
	if n := len(q.items); n > 0 && q.items[n-1].kind == Reader {
		tail := q.items[n-1]
		tail.count++
		return tail.ready, func() { q.releaseReaderMember(tail) }
	}

	e := &entry{kind: Reader, count: 1, ready: make(chan struct{})}
	q.items = append(q.items, e)
	if len(q.items) == 1 {
		close(e.ready)
	}
	return e.ready, func() { q.releaseReaderMember(e) }
}

// releaseWriterStep removes step from e.steps, wherever it sits in the
// chain. A waiter may release a step that never became front — it was
// canceled while still coalesced behind an earlier step in the same
// writer chain — and that must be handled the same as a normal release,
// or the queue wedges forever on the step nobody will ever signal.
//
// If the released step was the front one and another step remains, the
// new front is resolved (the next coalesced writer runs) only once e is
// actually the queue head; otherwise e has yet to reach the head and
// resolveHead will signal its true front step when its turn comes. If
// no steps remain, e is retired.
func (q *Queue) releaseWriterStep(e *entry, step chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, s := range e.steps {
		if s == step {
			idx = i
			break
		}
	}
	if idx == -1 {
		// Already released; ignore.
		return
	}
	e.steps = append(e.steps[:idx], e.steps[idx+1:]...)

	if len(e.steps) == 0 {
		q.retireEntry(e)
		return
	}
	if idx == 0 && q.isHead(e) {
		close(e.steps[0])
	}
}

// releaseReaderMember decrements e's live count. Once it reaches zero
// the cohort is retired, regardless of whether it has reached the queue
// head yet — a cohort canceled out from under a still-running writer
// ahead of it must not linger in the queue forever.
func (q *Queue) releaseReaderMember(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e.count--
	if e.count > 0 {
		return
	}
	q.retireEntry(e)
}

// isHead reports whether e is the current queue head.
func (q *Queue) isHead(e *entry) bool {
	return len(q.items) > 0 && q.items[0] == e
}

// retireEntry removes the exhausted entry e (no steps left, or reader
// count at 0) from wherever it sits in the queue. If e was the head,
// the new head, if any, is resolved; otherwise e was just inert filler
// behind whatever is actually running, and removing it has no further
// effect.
func (q *Queue) retireEntry(e *entry) {
	idx := -1
	for i, it := range q.items {
		if it == e {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	wasHead := idx == 0
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	if !wasHead {
		return
	}
	q.resolveHead()
}

// resolveHead signals the current queue head's front step/cohort,
// skipping over any head entries that have already drained to no live
// work. This is defensive: releaseWriterStep and releaseReaderMember
// retire a drained entry at once wherever it sits, so none is expected.
func (q *Queue) resolveHead() {
	for len(q.items) > 0 {
		head := q.items[0]
		switch head.kind {
		case Writer:
			if len(head.steps) == 0 {
				q.items = q.items[1:]
				continue
			}
			close(head.steps[0])
			return
		case Reader:
			if head.count == 0 {
				q.items = q.items[1:]
				continue
			}
			close(head.ready)
			return
		}
	}
}

// Len reports the number of distinct items currently queued (not the
// number of coalesced members within them). Intended for metrics and
// tests, not for acquisition logic.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue currently holds no items.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// HeadReaderCount reports the live member count of the head item if it
// is a reader cohort, or 0 otherwise. Intended for metrics.
func (q *Queue) HeadReaderCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].kind != Reader {
		return 0
	}
	return q.items[0].count
}
