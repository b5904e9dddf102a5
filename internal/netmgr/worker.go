package netmgr

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// recvBufferSize and sendBufferSize size each socket's framing/pump scratch
// buffers (spec.md §3: "receive buffer, a send buffer (fixed size)"). The
// original gives these buffers to the worker itself, safe because its event
// loop is single-threaded; this port's per-socket pump goroutines read
// concurrently with the owning worker's loop, so a worker-wide buffer would
// be a data race across sockets sharing a worker. Ownership moves to
// socket/tlsRecordPump instead (see socket.recvAccum, tlsRecordPump.buf),
// which keeps the same fixed-size-scratch behavior per connection.
const (
	recvBufferSize = 64 * 1024
	sendBufferSize = 64 * 1024
)

// Worker is one event-loop worker thread (spec.md §2.1, §3). In this Go
// implementation "thread" is a goroutine running Worker.loop, which is the
// only goroutine permitted to mutate state on a socket pinned to this
// worker (socket.tid == worker.id). Accepts, dials, TLS handshakes and
// reads block in short-lived goroutines that post completion events back
// via submit; Handle.Send's write is the exception and runs inside loop
// (see tlsRecordPump.write).
type Worker struct {
	mgr *Manager
	id  int

	priorityQ   *eventQueue
	privilegedQ *eventQueue
	taskQ       *eventQueue
	normalQ     *eventQueue

	paused   atomic.Bool
	finished atomic.Bool

	// sockets owned by this worker, for diagnostics and for destroy-time
	// enumeration. Guarded by mu because the diagnostics goroutine reads it.
	mu      sync.Mutex
	sockets map[*socket]struct{}
}

func newWorker(mgr *Manager, id int, queueCap int) *Worker {
	return &Worker{
		mgr:         mgr,
		id:          id,
		priorityQ:   newEventQueue(queueCap),
		privilegedQ: newEventQueue(queueCap),
		taskQ:       newEventQueue(queueCap),
		normalQ:     newEventQueue(queueCap),
		sockets:     make(map[*socket]struct{}),
	}
}

func (w *Worker) logger() *slog.Logger { return w.mgr.logger }

// loop is the worker's event loop (spec.md §4.1 "Main loop"). It must run
// in its own goroutine for the worker's lifetime.
func (w *Worker) loop() {
	defer w.mgr.workerWG.Done()
	ctx := withTID(context.Background(), w.id)

	for {
		if w.drainReady(ctx) || w.blockForWork(ctx) {
			w.drainOnStop(ctx)
			w.finished.Store(true)
			return
		}
	}
}

// drainReady processes whatever is already queued, in strict priority
// order, without blocking. It returns true if a stop event terminated the
// batch (spec.md §5: "terminal for that batch: no further events from
// that batch are processed").
func (w *Worker) drainReady(ctx context.Context) bool {
	for {
		if ev, ok := w.priorityQ.tryPop(); ok {
			switch ev.kind {
			case evPause:
				stopping := w.runPaused(ctx)
				w.mgr.freeEvent(ev)
				if stopping {
					return true
				}
				continue
			case evStop:
				w.mgr.freeEvent(ev)
				return true
			case evShutdown:
				w.mgr.dispatch(ctx, ev)
				w.mgr.freeEvent(ev)
				continue
			}
		}
		if ev, ok := w.privilegedQ.tryPop(); ok {
			w.mgr.dispatch(ctx, ev)
			w.mgr.freeEvent(ev)
			continue
		}
		if ev, ok := w.taskQ.tryPop(); ok {
			w.mgr.dispatch(ctx, ev)
			w.mgr.freeEvent(ev)
			continue
		}
		if ev, ok := w.normalQ.tryPop(); ok {
			w.mgr.dispatch(ctx, ev)
			w.mgr.freeEvent(ev)
			continue
		}
		if w.anyCounterPositive() {
			// An item is scheduled (counter incremented by the producer)
			// but not yet visible on the channel; yield and retry rather
			// than fall through to blocking select, per spec.md §4.1.
			runtime.Gosched()
			continue
		}
		return false
	}
}

func (w *Worker) anyCounterPositive() bool {
	return w.priorityQ.len() > 0 || w.privilegedQ.len() > 0 ||
		w.taskQ.len() > 0 || w.normalQ.len() > 0
}

// blockForWork parks the loop goroutine until at least one event arrives,
// then processes exactly that event (the outer loop will call drainReady
// again to pick up anything else that has accumulated). Returns true if
// the event was a stop.
func (w *Worker) blockForWork(ctx context.Context) bool {
	select {
	case ev := <-w.priorityQ.ch:
		w.priorityQ.count.Add(-1)
		switch ev.kind {
		case evPause:
			stopping := w.runPaused(ctx)
			w.mgr.freeEvent(ev)
			return stopping
		case evStop:
			w.mgr.freeEvent(ev)
			return true
		default:
			w.mgr.dispatch(ctx, ev)
			w.mgr.freeEvent(ev)
			return false
		}
	case ev := <-w.privilegedQ.ch:
		w.privilegedQ.count.Add(-1)
		w.mgr.dispatch(ctx, ev)
		w.mgr.freeEvent(ev)
	case ev := <-w.taskQ.ch:
		w.taskQ.count.Add(-1)
		w.mgr.dispatch(ctx, ev)
		w.mgr.freeEvent(ev)
	case ev := <-w.normalQ.ch:
		w.normalQ.count.Add(-1)
		w.mgr.dispatch(ctx, ev)
		w.mgr.freeEvent(ev)
	}
	return false
}

// runPaused implements spec.md §4.1's pause behavior: the worker reports
// itself paused to the manager's barrier, then processes only priority
// events (via a blocking receive — the Go-idiomatic substitute for "waits
// on its priority condvar") until a resume (or stop) arrives, then drains
// its privileged queue once before returning control to the outer loop.
// Returns true if a stop was observed while paused, in which case the
// caller must treat it exactly like a normal evStop (drain privileged and
// task, mark finished, exit the loop) rather than resuming normally.
func (w *Worker) runPaused(ctx context.Context) bool {
	w.paused.Store(true)
	w.mgr.workerReportsPaused()

	stopping := false
loop:
	for {
		ev := <-w.priorityQ.ch
		w.priorityQ.count.Add(-1)
		switch ev.kind {
		case evResume:
			w.mgr.freeEvent(ev)
			break loop
		case evStop:
			stopping = true
			w.mgr.freeEvent(ev)
			break loop
		case evShutdown:
			w.mgr.dispatch(ctx, ev)
			w.mgr.freeEvent(ev)
		default:
			w.mgr.freeEvent(ev)
		}
	}

	w.paused.Store(false)

	// Resume requires every worker to drain privileged before the
	// pause-barrier releases any of them, whether or not a stop is also
	// pending; drainOnStop will run it a second time harmlessly if so
	// (it is just another empty-queue tryPop loop).
	for {
		ev, ok := w.privilegedQ.tryPop()
		if !ok {
			break
		}
		w.mgr.dispatch(ctx, ev)
		w.mgr.freeEvent(ev)
	}

	w.mgr.workerReportsResumed()
	return stopping
}

// drainOnStop flushes the privileged and task queues fully (spec.md §4.1
// table: both are "drained... on worker-stop"), then marks the worker
// finished. The normal queue is intentionally left undrained: a stop is
// terminal for its batch.
func (w *Worker) drainOnStop(ctx context.Context) {
	for {
		ev, ok := w.privilegedQ.tryPop()
		if !ok {
			break
		}
		w.mgr.dispatch(ctx, ev)
		w.mgr.freeEvent(ev)
	}
	for {
		ev, ok := w.taskQ.tryPop()
		if !ok {
			break
		}
		w.mgr.dispatch(ctx, ev)
		w.mgr.freeEvent(ev)
	}
}

// submit implements spec.md §4.1 "Thread-affine submission": if the
// calling context is already this worker's loop, dispatch inline;
// otherwise enqueue and let the channel send act as the wake signal.
func (w *Worker) submit(ctx context.Context, ev *event) {
	if tidFromContext(ctx) == w.id {
		w.mgr.dispatch(ctx, ev)
		w.mgr.freeEvent(ev)
		return
	}
	q := w.queueFor(ev.kind)
	q.push(ev)
}

func (w *Worker) queueFor(kind eventKind) *eventQueue {
	switch kind.classOf() {
	case queuePriority:
		return w.priorityQ
	case queuePrivileged:
		return w.privilegedQ
	case queueTask:
		return w.taskQ
	default:
		return w.normalQ
	}
}

func (w *Worker) trackSocket(s *socket) {
	w.mu.Lock()
	w.sockets[s] = struct{}{}
	w.mu.Unlock()
}

func (w *Worker) untrackSocket(s *socket) {
	w.mu.Lock()
	delete(w.sockets, s)
	w.mu.Unlock()
}

func (w *Worker) queueDepths() QueueDepths {
	return QueueDepths{
		WorkerID:   w.id,
		Priority:   w.priorityQ.len(),
		Privileged: w.privilegedQ.len(),
		Task:       w.taskQ.len(),
		Normal:     w.normalQ.len(),
	}
}
