package netmgr

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const socketMagic = 0x4e4d534b // "NMSK"

// socketKind distinguishes the socket flavors spec.md's §4.2 design note
// says should be consolidated into a single state/kind enum rather than a
// sprawl of booleans. This port only implements the TLSDNS flavor (§4.4);
// the kind still exists as a type so Handle.Socket().kind checks (e.g.
// TLSDNSKeepalive's guard) have somewhere correct to live if a UDP/plain
// TCP flavor is added later.
type socketKind int

const (
	socketKindTLSDNSListener socketKind = iota
	socketKindTLSDNSConn
)

// socketState is the consolidated lifecycle state of spec.md §4.2's
// design note ("connecting/connected/listening/closing/closed/destroying,
// plus active/reading/accepting/paused flags, are better modeled as one
// state enum than a pile of booleans").
type socketState int

const (
	stateInitial socketState = iota
	stateConnecting
	stateConnected
	stateListening
	stateClosing
	stateClosed
	stateDestroying
)

// socket is spec.md §3's Socket object: a thread-affine (worker-pinned),
// reference-counted wrapper around one listening or connected endpoint,
// with its own active-handle table and recycled-handle/request stacks
// (§4.3, §4.5).
type socket struct {
	magic uint32

	mgr    *Manager
	worker *Worker
	tid    int

	kind  socketKind
	state atomic.Int32 // socketState, atomic so Stats/diag can read it cross-goroutine

	refcount atomic.Int32

	parent   *socket
	childrenMu sync.Mutex
	children []*socket

	mu sync.Mutex

	// activeHandles is the active-handle table; freeSlots is the
	// free-index stack that lets a released slot be reused without
	// compacting the table (spec.md §4.3).
	activeHandles []*Handle
	freeSlots     []int

	inactiveHandles []*Handle
	inactiveReqs    []*uvreq

	sequential   bool
	keepalive    bool
	isClient     bool
	sawFirstByte bool
	pausedRead   bool

	// timeoutOverride and timeoutDisabled implement handle_settimeout /
	// handle_cleartimeout (spec.md §6): a positive override takes priority
	// over the init/idle/keepalive defaults; timeoutDisabled wins over both
	// and suppresses the idle timer entirely until settimeout is called again.
	timeoutOverride time.Duration
	timeoutDisabled bool

	handle *Handle // the connection's own persistent handle

	recvCB  func(h *Handle, payload []byte, err error)
	recvArg any

	connectCB func(h *Handle, err error)
	acceptCB  func(h *Handle, err error)

	quotaTok *QuotaToken

	listener net.Listener
	conn     net.Conn

	localAddr net.Addr
	peerAddr  net.Addr

	pump  *tlsRecordPump
	timer *connTimer

	// recvAccum buffers bytes read from the connection until a full
	// length-prefixed frame (§6 wire protocol) is available.
	recvAccum []byte

	// senddata is a per-socket send scratch buffer (after original_source's
	// isc__nm_tlsdns_cleanup_data), allocated once in newSocket with
	// SendBufferSize capacity. Handle.Send does not use it: each send is
	// framed into a freshly allocated buffer.
	senddata []byte

	closeOnce sync.Once
}

func newSocket(mgr *Manager, w *Worker, kind socketKind) *socket {
	s := &socket{
		magic:  socketMagic,
		mgr:    mgr,
		worker: w,
		tid:    w.id,
		kind:   kind,
	}
	s.state.Store(int32(stateInitial))
	s.refcount.Store(1)
	s.senddata = make([]byte, 0, mgr.cfg.SendBufferSize)
	return s
}

func (s *socket) setState(st socketState) { s.state.Store(int32(st)) }
func (s *socket) getState() socketState   { return socketState(s.state.Load()) }

// ref increments the socket's reference count (spec invariant 2: "a
// socket is not destroyed while its refcount is nonzero").
func (s *socket) ref() { s.refcount.Add(1) }

// unref decrements the refcount and, once it reaches zero, runs destroy
// synchronously on the calling goroutine. tlsdns.go's beginClose calls
// unref directly from the worker loop, so TLSDNS socket teardown runs
// inline there; it is not handed off to another goroutine.
func (s *socket) unref() {
	if s.refcount.Add(-1) == 0 {
		s.destroy()
	}
}

func (s *socket) destroy() {
	s.closeOnce.Do(func() {
		s.setState(stateDestroying)
		if s.timer != nil {
			s.timer.stop()
		}
		if s.conn != nil {
			_ = s.conn.Close()
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		if s.parent != nil {
			s.parent.removeChild(s)
		}
		s.worker.untrackSocket(s)

		// Return this socket's recycled requests to the manager-wide pool
		// rather than letting them be garbage collected with the socket,
		// so the allocations they represent are still amortized across the
		// sockets that come after this one.
		s.mu.Lock()
		reqs := s.inactiveReqs
		s.inactiveReqs = nil
		s.mu.Unlock()
		for _, r := range reqs {
			s.mgr.freeReq(r)
		}

		s.mgr.stats.socketDestroyed()
		s.mgr.stats.incrDestroy()
	})
}

func (s *socket) addChild(c *socket) {
	s.childrenMu.Lock()
	s.children = append(s.children, c)
	s.childrenMu.Unlock()
}

func (s *socket) removeChild(c *socket) {
	s.childrenMu.Lock()
	for i, ch := range s.children {
		if ch == c {
			s.children = append(s.children[:i], s.children[i+1:]...)
			break
		}
	}
	s.childrenMu.Unlock()
}

// newActiveHandle installs h into the active-handle table, reusing a free
// slot from freeSlots (a LIFO) when one exists, per spec.md §4.3.
func (s *socket) newActiveHandle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var h *Handle
	if n := len(s.inactiveHandles); n > 0 {
		h = s.inactiveHandles[n-1]
		s.inactiveHandles = s.inactiveHandles[:n-1]
		h.magic = handleMagic
	} else {
		h = newHandle(0)
	}
	h.sock = s
	h.refcount.Store(1)
	h.TraceID = uuid.New()

	if n := len(s.freeSlots); n > 0 {
		idx := s.freeSlots[n-1]
		s.freeSlots = s.freeSlots[:n-1]
		s.activeHandles[idx] = h
		h.ahIndex = idx
	} else {
		h.ahIndex = len(s.activeHandles)
		s.activeHandles = append(s.activeHandles, h)
	}

	s.mgr.stats.handleCreated()
	return h
}

// recycleHandle removes h from the active table and pushes it onto the
// inactive stack for reuse, called by Handle.unref once its refcount
// reaches zero.
func (s *socket) recycleHandle(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ahIndex >= 0 && h.ahIndex < len(s.activeHandles) && s.activeHandles[h.ahIndex] == h {
		s.activeHandles[h.ahIndex] = nil
		s.freeSlots = append(s.freeSlots, h.ahIndex)
	}
	h.reset()
	h.magic = 0
	s.inactiveHandles = append(s.inactiveHandles, h)
	s.mgr.stats.handleReleased()
}

// activeHandleCount reports the live entries in the active-handle table,
// used by tests and internal/diag.
func (s *socket) activeHandleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.activeHandles {
		if h != nil {
			n++
		}
	}
	return n
}

func (s *socket) allocReq(kind reqKind) *uvreq {
	s.mu.Lock()
	var r *uvreq
	if n := len(s.inactiveReqs); n > 0 {
		r = s.inactiveReqs[n-1]
		s.inactiveReqs = s.inactiveReqs[:n-1]
	}
	s.mu.Unlock()

	if r == nil {
		r = s.mgr.allocReq()
	} else {
		r.reset()
	}
	r.sock = s
	r.kind = kind
	return r
}

func (s *socket) recycleReq(r *uvreq) {
	r.reset()
	s.mu.Lock()
	s.inactiveReqs = append(s.inactiveReqs, r)
	s.mu.Unlock()
}
