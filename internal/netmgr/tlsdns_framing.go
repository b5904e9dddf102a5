package netmgr

import "encoding/binary"

// lengthPrefixSize is the 2-byte big-endian DNS-over-TCP/TLS frame length
// prefix of spec.md §6 ("Framing round-trip").
const lengthPrefixSize = 2

// takeFrame pulls the first complete length-prefixed frame out of accum,
// returning its payload and the number of leading bytes it
// consumed (caller is responsible for shifting accum). It does not copy:
// the returned slice aliases accum and is only valid until the next
// mutation of accum.
func takeFrame(accum []byte) (payload []byte, consumed int, ok bool) {
	if len(accum) < lengthPrefixSize {
		return nil, 0, false
	}
	n := int(binary.BigEndian.Uint16(accum[:lengthPrefixSize]))
	if len(accum) < lengthPrefixSize+n {
		return nil, 0, false
	}
	return accum[lengthPrefixSize : lengthPrefixSize+n], lengthPrefixSize + n, true
}

// frameBytes re-frames payload for the wire: u16(len(payload)) || payload
// (spec.md §6). dst is reused when it has enough capacity; Handle.Send
// passes nil, so each send gets a new buffer.
func frameBytes(dst []byte, payload []byte) []byte {
	total := lengthPrefixSize + len(payload)
	if cap(dst) < total {
		dst = make([]byte, total)
	} else {
		dst = dst[:total]
	}
	binary.BigEndian.PutUint16(dst[:lengthPrefixSize], uint16(len(payload)))
	copy(dst[lengthPrefixSize:], payload)
	return dst
}

// processSocketBuffer implements spec.md §4.4's read pump step 4: append
// newly read bytes to the socket's accumulator, then deliver every
// complete frame currently buffered. For a sequential server socket,
// delivery stops after the first frame until that frame's handle is
// released (enforced by the sequential-mode check inside the loop).
// Returns true if the pump should be resumed for another kernel read.
func (m *Manager) processSocketBuffer(s *socket, chunk []byte) (resumePump bool) {
	if len(chunk) > 0 {
		s.recvAccum = append(s.recvAccum, chunk...)
		s.sawFirstByte = true
	}

	for {
		payload, consumed, ok := takeFrame(s.recvAccum)
		if !ok {
			return true
		}

		h := m.frameHandle(s, payload)
		// Copy the payload out before shifting accum, since recv_cb may
		// retain the slice only for the duration of the call per
		// spec.md's "region pointing into the buffer (no copy)" — this
		// port copies once here because shifting accum below would
		// otherwise invalidate the aliasing slice handed to recv_cb.
		delivered := append([]byte(nil), payload...)
		s.recvAccum = append(s.recvAccum[:0], s.recvAccum[consumed:]...)

		if s.recvCB != nil {
			s.recvCB(h, delivered, nil)
		}
		m.stats.incrRead()

		if s.isClient {
			continue
		}
		if s.sequential {
			s.pausedRead = true
			return false
		}
	}
}

// frameHandle builds the handle passed to recv_cb for one delivered
// frame: a fresh per-message handle for server sockets, the connection's
// own persistent handle (statichandle semantics: not additionally
// ref'd) for client sockets, per spec.md §4.4 step 4.
func (m *Manager) frameHandle(s *socket, payload []byte) *Handle {
	if s.isClient {
		return s.handle
	}
	h := s.newActiveHandle()
	h.peerAddr = s.peerAddr
	h.localAddr = s.localAddr
	return h
}
