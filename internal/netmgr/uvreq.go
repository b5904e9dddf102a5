package netmgr

import "net"

const uvreqMagic = 0x4e4d5251 // "NMRQ"

// reqKind distinguishes the three callback shapes a uvreq can carry
// (spec.md §3 "I/O request block... callback union for connect/send/recv").
type reqKind int

const (
	reqConnect reqKind = iota
	reqSend
	reqRecv
)

// uvreq is the pooled I/O request block of spec.md §3/§4.5: one is
// checked out per in-flight send or recv operation and recycled onto
// its socket's inactive-request stack once the operation completes. The
// "callback union" of spec.md §3 is realized here as the closure each
// operation (ListenTLSDNS's acceptLoop, ConnectTLSDNS, Handle.Send) builds
// and attaches to the event it submits, rather than a field on uvreq
// itself — Go closures over typed local state are the idiomatic
// substitute for a tagged callback union, and every such closure still
// only runs on the request's owning worker, preserving the thread-affine
// guarantee the union exists to support. uvreq itself carries the payload
// plumbing every kind shares: the socket/handle back-references, the
// length-prefix framing bytes, and the read/write scratch buffer.
type uvreq struct {
	magic uint32

	sock   *socket
	handle *Handle
	kind   reqKind

	// buf holds the request's payload: a copy of the bytes the pump read
	// for a recv, or the framed bytes in flight for a send.
	buf []byte

	// lenPrefix is room for the 2-byte big-endian DNS-over-TCP/TLS length
	// prefix (spec.md §6 wire protocol). Only reset touches it: framing
	// writes the prefix into buf (frameBytes) and reads it from the
	// socket's accumulator (takeFrame).
	lenPrefix [2]byte

	peerAddr  net.Addr
	localAddr net.Addr
}

// reset clears a uvreq for reuse, matching the handle/event reset pattern
// so pooled requests never leak a stale buffer or address reference.
func (r *uvreq) reset() {
	r.magic = uvreqMagic
	r.sock = nil
	r.handle = nil
	r.kind = reqConnect
	r.buf = nil
	r.lenPrefix = [2]byte{}
	r.peerAddr = nil
	r.localAddr = nil
}

func (m *Manager) allocReq() *uvreq {
	r := m.reqPool.Get()
	r.reset()
	return r
}

func (m *Manager) freeReq(r *uvreq) {
	m.reqPool.Put(r)
}
