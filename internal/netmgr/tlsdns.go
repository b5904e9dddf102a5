package netmgr

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// AcceptFunc is called once per accepted connection, before the TLS
// handshake runs, per spec.md §4.4 ("invoke accept_cb once... before the
// TLS handshake — the user may reject"). Returning a non-nil error
// rejects the connection; the socket is torn down and no recv_cb is ever
// invoked for it.
type AcceptFunc func(h *Handle, err error) error

// RecvFunc delivers one framed DNS message. err is non-nil (with payload
// nil) on timeout/cancel/EOF/TLS failure.
type RecvFunc func(h *Handle, payload []byte, err error)

// ConnectFunc completes a ConnectTLSDNS call.
type ConnectFunc func(h *Handle, err error)

// workerRoundRobin drives pickWorker's round-robin socket placement across
// the worker pool for connect calls made outside any worker (spec.md §4.4 "allocates the
// socket on a random worker (or the current one if inside a worker)").
var workerRoundRobin atomic.Int64

func (m *Manager) pickWorker(ctx context.Context) *Worker {
	if tid := tidFromContext(ctx); tid != noTID {
		return m.workers[tid]
	}
	n := workerRoundRobin.Add(1)
	return m.workers[int(n)%len(m.workers)]
}

// ListenerHandle is the listener-socket reference returned by
// ListenTLSDNS, letting callers close every per-worker child listener.
type ListenerHandle struct {
	mgr      *Manager
	children []*socket
}

// Close stops accepting new connections on every per-worker child
// listener. In-flight connections are unaffected; call Manager.Shutdown
// to additionally tear those down.
func (l *ListenerHandle) Close() error {
	var firstErr error
	for _, s := range l.children {
		if s.listener != nil {
			if err := s.listener.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ListenTLSDNS implements spec.md §6's listen_tlsdns: one child listener
// per worker, load-balanced by the kernel via SO_REUSEPORT (golang.org/x/sys/unix),
// each accept loop feeding evTLSDNSAccept closures back to its own
// worker's normal queue so every accepted socket is constructed on its
// owning worker's loop goroutine from the start.
func (m *Manager) ListenTLSDNS(ctx context.Context, addr string, tlsConfig *tls.Config, acceptCB AcceptFunc, recvCB RecvFunc) (*ListenerHandle, error) {
	if m.isShutdown() {
		return nil, ErrShutdown
	}
	if tlsConfig == nil {
		return nil, fmt.Errorf("netmgr: ListenTLSDNS requires a non-nil tls.Config")
	}

	lh := &ListenerHandle{mgr: m}
	for _, w := range m.workers {
		ln, err := reusableListen(addr)
		if err != nil {
			_ = lh.Close()
			return nil, fmt.Errorf("netmgr: listen %s: %w", addr, err)
		}

		s := newSocket(m, w, socketKindTLSDNSListener)
		s.listener = ln
		s.localAddr = ln.Addr()
		w.trackSocket(s)
		lh.children = append(lh.children, s)
		m.stats.socketCreated()
		m.stats.incrListen()

		go m.acceptLoop(w, s, tlsConfig, acceptCB, recvCB)
	}
	return lh, nil
}

func (m *Manager) acceptLoop(w *Worker, listener *socket, tlsConfig *tls.Config, acceptCB AcceptFunc, recvCB RecvFunc) {
	for {
		conn, err := listener.listener.Accept()
		if err != nil {
			return
		}
		go m.admitConn(w, listener, conn, tlsConfig, acceptCB, recvCB)
	}
}

// admitConn implements spec.md §4.4's accept-time admission rule: "if a
// quota is configured the child attempts quota_attach with a callback; if
// quota is exhausted, the accept is parked and retried when quota becomes
// available". Parking happens here, in a per-connection goroutine, so one
// slow/exhausted quota never blocks acceptLoop's Accept() loop from taking
// the next kernel connection. The wait is canceled on manager shutdown.
func (m *Manager) admitConn(w *Worker, listener *socket, conn net.Conn, tlsConfig *tls.Config, acceptCB AcceptFunc, recvCB RecvFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	tok, err := m.quota.acquire(ctx)
	if err != nil {
		m.stats.incrQuotaDenied()
		_ = conn.Close()
		return
	}

	ev := m.allocEvent()
	ev.kind = evTLSDNSAccept
	ev.sock = listener
	ev.fn = func() { m.handleAccept(w, listener, conn, tlsConfig, acceptCB, recvCB, tok) }
	w.submit(context.Background(), ev)
}

func (m *Manager) handleAccept(w *Worker, listener *socket, rawConn net.Conn, tlsConfig *tls.Config, acceptCB AcceptFunc, recvCB RecvFunc, tok *QuotaToken) {
	if m.isShutdown() {
		tok.Release()
		_ = rawConn.Close()
		return
	}

	s := newSocket(m, w, socketKindTLSDNSConn)
	s.parent = listener
	s.isClient = false
	s.recvCB = recvCB
	s.quotaTok = tok
	s.peerAddr = rawConn.RemoteAddr()
	s.localAddr = rawConn.LocalAddr()
	listener.addChild(s)
	w.trackSocket(s)
	m.stats.socketCreated()

	h := s.newActiveHandle()
	h.peerAddr = s.peerAddr
	h.localAddr = s.localAddr
	s.handle = h

	if acceptCB != nil {
		if err := acceptCB(h, nil); err != nil {
			m.stats.incrAcceptFail()
			s.beginClose(context.Background())
			return
		}
	}

	tlsConn := tls.Server(rawConn, tlsConfig)
	s.conn = tlsConn
	s.timer = newConnTimer(func(p timerPurpose) { m.onTimerFire(s, p) })
	s.timer.start(timerConnect, connectTimerDuration(m.cfg))

	go m.runServerHandshake(w, s, tlsConn)
}

func (m *Manager) runServerHandshake(w *Worker, s *socket, tlsConn *tls.Conn) {
	err := tlsConn.HandshakeContext(context.Background())

	ev := m.allocEvent()
	ev.kind = evTLSDNSCycle
	ev.sock = s
	ev.fn = func() {
		if s.timer != nil {
			s.timer.stop()
		}
		if err != nil {
			m.stats.incrTLSError()
			s.failRead(ResultTLSError, err)
			s.beginClose(context.Background())
			return
		}
		m.stats.incrAccept()
		s.pump = newTLSRecordPump(s, tlsConn, m.cfg.RecvBufferSize)
		s.pump.start()
		armIdleTimer(m.cfg, s)
	}
	w.submit(context.Background(), ev)
}

// ConnectTLSDNS implements spec.md §6's connect_tlsdns: dials addr, waits
// for connect-timeout, runs the client TLS handshake, and invokes cb
// exactly once with the connection's persistent handle or an error.
func (m *Manager) ConnectTLSDNS(ctx context.Context, addr string, tlsConfig *tls.Config, recvCB RecvFunc, cb ConnectFunc) {
	w := m.pickWorker(ctx)

	if m.isShutdown() {
		if cb != nil {
			cb(nil, ErrShutdown)
		}
		return
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), connectTimerDuration(m.cfg))
	go func() {
		defer cancel()
		var d net.Dialer
		rawConn, err := d.DialContext(dialCtx, "tcp", addr)

		ev := m.allocEvent()
		ev.kind = evTLSDNSConnect
		ev.fn = func() { m.handleConnect(w, rawConn, err, addr, tlsConfig, recvCB, cb) }
		w.submit(context.Background(), ev)
	}()
}

func (m *Manager) handleConnect(w *Worker, rawConn net.Conn, dialErr error, addr string, tlsConfig *tls.Config, recvCB RecvFunc, cb ConnectFunc) {
	if dialErr != nil {
		m.stats.incrConnect()
		if cb != nil {
			cb(nil, classifyDialError(dialErr).Err())
		}
		return
	}

	s := newSocket(m, w, socketKindTLSDNSConn)
	s.isClient = true
	s.recvCB = recvCB
	s.peerAddr = rawConn.RemoteAddr()
	s.localAddr = rawConn.LocalAddr()
	w.trackSocket(s)
	m.stats.socketCreated()

	h := s.newActiveHandle()
	h.peerAddr = s.peerAddr
	h.localAddr = s.localAddr
	s.handle = h

	cfg := tlsConfig.Clone()
	if cfg.ServerName == "" {
		if host, _, splitErr := net.SplitHostPort(addr); splitErr == nil {
			cfg.ServerName = host
		}
	}
	tlsConn := tls.Client(rawConn, cfg)
	s.conn = tlsConn
	s.timer = newConnTimer(func(p timerPurpose) { m.onTimerFire(s, p) })
	s.timer.start(timerConnect, connectTimerDuration(m.cfg))

	go m.runClientHandshake(w, s, tlsConn, cb)
}

func (m *Manager) runClientHandshake(w *Worker, s *socket, tlsConn *tls.Conn, cb ConnectFunc) {
	err := tlsConn.HandshakeContext(context.Background())

	ev := m.allocEvent()
	ev.kind = evTLSDNSCycle
	ev.sock = s
	ev.fn = func() {
		if s.timer != nil {
			s.timer.stop()
		}
		m.stats.incrConnect()
		if err != nil {
			m.stats.incrTLSError()
			s.beginClose(context.Background())
			if cb != nil {
				cb(nil, ResultTLSError.Err())
			}
			return
		}
		s.pump = newTLSRecordPump(s, tlsConn, m.cfg.RecvBufferSize)
		s.pump.start()
		armIdleTimer(m.cfg, s)
		if cb != nil {
			cb(s.handle, nil)
		}
	}
	w.submit(context.Background(), ev)
}

// handleTLSDNSRead processes one pump read result: success delivers
// framed DNS messages via processSocketBuffer; failure fails the pending
// read and tears the socket down (spec.md §4.4/§7 propagation rules).
func (m *Manager) handleTLSDNSRead(ctx context.Context, ev *event) {
	s := ev.sock
	req := ev.req
	defer func() {
		if req != nil {
			s.recycleReq(req)
		}
	}()

	if s.getState() == stateDestroying || s.getState() == stateClosed {
		return
	}

	if ev.result != ResultSuccess {
		s.failRead(ev.result, ev.result.Err())
		s.beginClose(ctx)
		return
	}

	var chunk []byte
	if req != nil {
		chunk = req.buf
	}
	resume := m.processSocketBuffer(s, chunk)
	armIdleTimer(m.cfg, s)
	if resume && s.pump != nil && !s.pausedRead {
		s.pump.resume()
	}
}

// Send implements spec.md §6's send(handle, data, cb): frames data with
// its length prefix and submits an event whose closure performs the
// blocking write on the owning worker's loop goroutine and then calls cb
// there.
func (h *Handle) Send(data []byte, cb func(err error)) {
	s := h.sock
	if s == nil {
		if cb != nil {
			cb(ErrClosed)
		}
		return
	}
	s.ref()

	req := s.allocReq(reqSend)
	req.buf = frameBytes(nil, data)
	ev := s.mgr.allocEvent()
	ev.kind = evTLSDNSSend
	ev.sock = s
	ev.req = req
	ev.fn = func() {
		defer s.unref()
		defer s.recycleReq(req)
		if s.pump == nil || s.getState() == stateClosing || s.getState() == stateClosed {
			if cb != nil {
				cb(ErrClosed)
			}
			return
		}
		err := s.pump.write(req.buf)
		s.mgr.stats.incrSend()
		if cb != nil {
			if err != nil {
				cb(classifyDialError(err).Err())
			} else {
				cb(nil)
			}
		}
		if err != nil {
			s.beginClose(context.Background())
		}
	}
	// Send is public API: the caller may be the worker loop (from inside
	// recv_cb) or an arbitrary application goroutine. There is no way to
	// tell which from here, so submit with a no-tid context and always
	// enqueue; submit's inline fast path is reserved for code that is
	// genuinely running on the worker's own loop goroutine (see worker.go).
	s.worker.submit(context.Background(), ev)
}

// Read arms (or re-arms) the persistent recv callback for h's connection.
// Per spec.md §6, read/cancel_read/pause_read/resume_read operate on
// stream transports; they act on the whole socket's recv pipeline rather
// than per-handle, since a TLSDNS socket has exactly one logical stream.
func (h *Handle) Read(cb RecvFunc) {
	s := h.sock
	if s == nil {
		return
	}
	ev := s.mgr.allocEvent()
	ev.kind = evTLSDNSCycle
	ev.sock = s
	ev.fn = func() {
		s.recvCB = cb
		if s.pausedRead {
			s.pausedRead = false
			if s.pump != nil {
				s.pump.resume()
			}
		}
	}
	s.worker.submit(context.Background(), ev)
}

// CancelRead implements spec.md §6/§4.4's cancel_read: idempotently
// delivers at most one CANCELED completion to the pending read.
func (h *Handle) CancelRead() {
	s := h.sock
	if s == nil {
		return
	}
	ev := s.mgr.allocEvent()
	ev.kind = evTLSDNSCancel
	ev.sock = s
	ev.fn = func() {
		s.failRead(ResultCanceled, ResultCanceled.Err())
	}
	s.worker.submit(context.Background(), ev)
}

// PauseRead stops the pump from issuing further kernel reads until
// ResumeRead is called (spec.md §6).
func (h *Handle) PauseRead() {
	s := h.sock
	if s == nil {
		return
	}
	ev := s.mgr.allocEvent()
	ev.kind = evTLSDNSCycle
	ev.sock = s
	ev.fn = func() { s.pausedRead = true }
	s.worker.submit(context.Background(), ev)
}

// ResumeRead undoes PauseRead.
func (h *Handle) ResumeRead() {
	s := h.sock
	if s == nil {
		return
	}
	ev := s.mgr.allocEvent()
	ev.kind = evTLSDNSCycle
	ev.sock = s
	ev.fn = func() {
		if s.pausedRead {
			s.pausedRead = false
			if s.pump != nil {
				s.pump.resume()
			}
		}
	}
	s.worker.submit(context.Background(), ev)
}

// Release returns h to its socket's recycling pool. For the per-message
// handles server sockets hand to recv_cb, this is what lets sequential
// mode resume processing (spec.md scenario 5).
func (h *Handle) Release() {
	wasSequentialPause := h.sock != nil && h.sock.sequential && h.sock.pausedRead && !h.sock.isClient
	h.unref()
	if wasSequentialPause {
		s := h.sock
		ev := s.mgr.allocEvent()
		ev.kind = evTLSDNSCycle
		ev.sock = s
		ev.fn = func() {
			s.pausedRead = false
			resume := s.mgr.processSocketBuffer(s, nil)
			if resume && s.pump != nil {
				s.pump.resume()
			}
		}
		s.worker.submit(context.Background(), ev)
	}
}

// SetTimeout implements spec.md §6's handle_settimeout: overrides the idle
// timeout the init/idle/keepalive rules would otherwise pick, for as long
// as the socket lives or until ClearTimeout/another SetTimeout changes it.
func (h *Handle) SetTimeout(d time.Duration) {
	s := h.sock
	if s == nil {
		return
	}
	ev := s.mgr.allocEvent()
	ev.kind = evTLSDNSCycle
	ev.sock = s
	ev.fn = func() {
		s.timeoutDisabled = false
		s.timeoutOverride = d
		armIdleTimer(s.mgr.cfg, s)
	}
	s.worker.submit(context.Background(), ev)
}

// ClearTimeout implements spec.md §6's handle_cleartimeout: disables the
// idle timer entirely until a later SetTimeout re-enables it.
func (h *Handle) ClearTimeout() {
	s := h.sock
	if s == nil {
		return
	}
	ev := s.mgr.allocEvent()
	ev.kind = evTLSDNSCycle
	ev.sock = s
	ev.fn = func() {
		s.timeoutDisabled = true
		s.timeoutOverride = 0
		armIdleTimer(s.mgr.cfg, s)
	}
	s.worker.submit(context.Background(), ev)
}

// Attach implements spec.md §6's handle_attach: the exported counterpart
// of the package-internal ref, for callers that hold a Handle across an
// async boundary of their own and need the same "don't recycle out from
// under me" guarantee.
func (h *Handle) Attach() bool { return h.ref() }

// Detach implements spec.md §6's handle_detach, releasing a reference
// taken by Attach.
func (h *Handle) Detach() { h.unref() }

// TLSDNSSequential implements spec.md §6's tlsdns_sequential: disables
// pipelining on a server-accepted connection.
func TLSDNSSequential(h *Handle) {
	if h.sock != nil {
		h.sock.sequential = true
	}
}

// TLSDNSKeepalive implements spec.md §6/§9's tlsdns_keepalive, with the
// inverted-guard bug from original_source corrected per SPEC_FULL.md's
// Open Question resolution: it only applies to TLSDNS-flavored sockets.
func TLSDNSKeepalive(h *Handle, on bool) error {
	if h.sock == nil || h.sock.kind != socketKindTLSDNSConn {
		return ErrWrongSocketKind
	}
	h.sock.keepalive = on
	return nil
}

// failRead delivers a single error completion to the socket's current
// recv callback, matching spec.md's "fail the active read (exactly
// once)" propagation rule.
func (s *socket) failRead(result Result, err error) {
	if s.recvCB == nil {
		return
	}
	cb := s.recvCB
	s.recvCB = nil
	h := s.handle
	if h == nil {
		h = s.newActiveHandle()
	}
	cb(h, nil, err)
}

// beginClose implements spec.md §4.4's cancellation/shutdown table:
// soft-stops the socket depending on its current state, then schedules
// teardown. Idempotent via socket.closeOnce inside destroy, but the
// state check here additionally avoids redundant work on a socket
// already closing.
func (s *socket) beginClose(ctx context.Context) {
	switch s.getState() {
	case stateClosing, stateClosed, stateDestroying:
		return
	}
	s.setState(stateClosing)

	if s.timer != nil {
		s.timer.stop()
	}
	if s.pump != nil {
		s.pump.close()
	} else if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.quotaTok != nil {
		s.quotaTok.Release()
		s.quotaTok = nil
	}
	s.mgr.stats.incrClose()
	s.setState(stateClosed)
	s.unref()
}

// onTimerFire runs on the time.AfterFunc runtime goroutine, never on the
// worker loop, so it must submit with a no-tid context like any other
// off-worker caller.
func (m *Manager) onTimerFire(s *socket, purpose timerPurpose) {
	ev := m.allocEvent()
	ev.kind = evTLSDNSTimeout
	ev.sock = s
	ev.fn = func() {
		switch purpose {
		case timerConnect:
			m.stats.incrTimeout()
			s.failRead(ResultTimedOut, ResultTimedOut.Err())
			s.beginClose(context.Background())
		case timerIdle:
			m.stats.incrTimeout()
			s.failRead(ResultTimedOut, ResultTimedOut.Err())
			s.beginClose(context.Background())
		}
	}
	s.worker.submit(context.Background(), ev)
}

// reusableListen binds addr with SO_REUSEPORT set via golang.org/x/sys/unix
// so every worker's child listener can bind the same address and let the
// kernel load-balance accepted connections across them (spec.md §4.4's
// "a parent/child link for multi-worker listeners").
func reusableListen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: setReuseport}
	return lc.Listen(context.Background(), "tcp", addr)
}
