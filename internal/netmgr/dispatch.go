package netmgr

import "context"

// dispatch is the event-dispatch layer of spec.md §2/§4.1: it routes a
// popped event to the handler for its kind. It always runs on the owning
// worker's loop goroutine (or inline via Worker.submit's thread-affine
// fast path), which is what makes it safe for handlers to mutate socket
// and handle state directly.
func (m *Manager) dispatch(ctx context.Context, ev *event) {
	switch ev.kind {
	case evTask, evPrivilegedTask:
		if ev.fn != nil {
			ev.fn()
		}
	case evShutdown:
		m.handleWorkerShutdown(ctx, tidFromContext(ctx))
	case evDetachSocket:
		if ev.sock != nil {
			ev.sock.unref()
		}
	case evDetachHandle:
		if ev.handle != nil {
			ev.handle.unref()
		}
	case evTLSDNSListen, evTLSDNSAccept, evTLSDNSConnect, evTLSDNSSend,
		evTLSDNSClose, evTLSDNSCancel, evTLSDNSCycle, evTLSDNSTimeout:
		// These per-operation kinds (spec.md §2's named network-event
		// taxonomy) exist for classification and stats; their payload is
		// a closure built by the call site with full type information
		// (addr, tls.Config, callbacks), so dispatch just runs it on the
		// owning worker's loop goroutine.
		if ev.fn != nil {
			ev.fn()
		}
	case evTLSDNSRead:
		m.handleTLSDNSRead(ctx, ev)
	default:
		m.logger.Warn("netmgr: dispatch received unhandled event kind", "kind", int(ev.kind))
	}
}

// handleWorkerShutdown begins a graceful close of every socket this
// worker owns. It is idempotent: sockets already closing ignore a second
// close request.
func (m *Manager) handleWorkerShutdown(ctx context.Context, tid int) {
	if tid == noTID {
		return
	}
	w := m.workers[tid]
	w.mu.Lock()
	socks := make([]*socket, 0, len(w.sockets))
	for s := range w.sockets {
		socks = append(socks, s)
	}
	w.mu.Unlock()

	for _, s := range socks {
		s.beginClose(ctx)
	}
}
