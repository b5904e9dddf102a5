package netmgr

import (
	"net"
	"sync/atomic"

	"github.com/google/uuid"
)

// handleMagic guards against use of a handle after it has been recycled
// into its socket's free list and handed back out as a different logical
// connection (spec.md §4.3's "magic" field).
const handleMagic = 0x4e4d4748 // "NMGH"

// Handle is the per-connection object exposed to callers of Read/Send
// (spec.md §3 "Handle object", §4.3). It is reference counted:
// newActiveHandle gives it one reference, Attach adds one, Detach and
// Release drop one, and it is recycled into its socket's inactive stack
// when the count reaches zero. Read and Send take no handle reference;
// Send holds a reference on the underlying socket until its write has
// completed.
type Handle struct {
	magic uint32

	sock *socket

	// TraceID is a per-handle identifier attached to log lines, using
	// github.com/google/uuid the same way the rest of this codebase uses
	// it for node/request identifiers.
	TraceID uuid.UUID

	peerAddr  net.Addr
	localAddr net.Addr

	// ahIndex is this handle's slot in its socket's active-handle table
	// (spec.md §4.3); -1 when not currently installed in the table.
	ahIndex int

	refcount atomic.Int32

	// extra is the spec's "extra bytes" trailer: a fixed region of
	// caller-opaque storage allocated alongside the handle so callers
	// needing small per-connection scratch space don't need a second
	// allocation.
	extra []byte

	userData any
	resetCB  func(*Handle)
	freeCB   func(*Handle)
}

func newHandle(extraBytes int) *Handle {
	return &Handle{
		magic:   handleMagic,
		ahIndex: -1,
		extra:   make([]byte, extraBytes),
	}
}

// reset clears a handle for reuse from its socket's inactive-handle
// stack, running the caller's reset callback if one was installed.
func (h *Handle) reset() {
	if h.resetCB != nil {
		h.resetCB(h)
	}
	h.userData = nil
	h.resetCB = nil
	h.freeCB = nil
	h.peerAddr = nil
	h.localAddr = nil
	h.ahIndex = -1
	h.refcount.Store(0)
	h.TraceID = uuid.UUID{}
	for i := range h.extra {
		h.extra[i] = 0
	}
}

// ref increments the handle's reference count. Returns false if the
// handle's magic no longer matches (already recycled), matching the
// original's defensive magic check rather than panicking.
func (h *Handle) ref() bool {
	if h.magic != handleMagic {
		return false
	}
	h.refcount.Add(1)
	return true
}

// unref decrements the reference count, recycling the handle into its
// socket's inactive stack once it reaches zero.
func (h *Handle) unref() {
	if h.refcount.Add(-1) == 0 {
		if h.freeCB != nil {
			h.freeCB(h)
		}
		if h.sock != nil {
			h.sock.recycleHandle(h)
		}
	}
}

// Socket returns the socket this handle belongs to. Exposed so callers
// can branch on socket-kind-dependent behavior (e.g. TLSDNSKeepalive only
// applies to TLSDNS-flavored sockets, per SPEC_FULL.md's resolution of
// the tlsdns_keepalive guard).
func (h *Handle) Socket() *socket { return h.sock }

// PeerAddr returns the remote endpoint associated with this connection.
func (h *Handle) PeerAddr() net.Addr { return h.peerAddr }

// LocalAddr returns the local endpoint associated with this connection.
func (h *Handle) LocalAddr() net.Addr { return h.localAddr }

// Extra returns the handle's fixed caller-opaque trailer storage.
func (h *Handle) Extra() []byte { return h.extra }

// SetData attaches caller-opaque data to the handle, along with optional
// reset/free callbacks invoked when the handle is recycled or destroyed
// (spec.md §4.3's "opaque user data + reset/free callbacks").
func (h *Handle) SetData(data any, resetCB, freeCB func(*Handle)) {
	h.userData = data
	h.resetCB = resetCB
	h.freeCB = freeCB
}

// Data returns the handle's caller-opaque data.
func (h *Handle) Data() any { return h.userData }

// statichandle is a non-owning reference to a Handle, used where spec.md
// §4.3 calls for observing a handle (e.g. diagnostics enumeration, log
// lines) without affecting its reference count. It is distinguished from
// Handle itself purely by convention: callers holding a statichandle must
// not call unref and must not retain it past the call that produced it.
type statichandle struct {
	h *Handle
}

func staticRefOf(h *Handle) statichandle { return statichandle{h: h} }

func (s statichandle) TraceID() uuid.UUID {
	if s.h == nil {
		return uuid.UUID{}
	}
	return s.h.TraceID
}
