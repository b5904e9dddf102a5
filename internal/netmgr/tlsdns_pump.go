package netmgr

import (
	"context"
	"net"
)

// tlsRecordPump is this port's realization of spec.md §4.4's BIO pair: "two
// paired byte queues between application code and the TLS layer". Go's
// crypto/tls.Conn already is a full-duplex stream wrapping a real
// net.Conn, so rather than reimplementing a manual byte-queue pair in
// front of it, the pump goroutine performs the blocking Read/Write calls
// against the real *tls.Conn directly and hands results back to the
// owning worker as events — the queueing behavior the BIO pair exists to
// provide is realized by the pump's resumeCh backpressure gate instead of
// an explicit second buffer. conn here is always a *tls.Conn (or a type
// satisfying net.Conn for tests); the field is typed net.Conn so tests can
// substitute a net.Pipe() half without a real certificate.
type tlsRecordPump struct {
	sock *socket
	conn net.Conn

	buf []byte

	// resumeCh gates the next Read: the pump blocks here between reads so
	// the owning worker controls backpressure (pause_read, sequential
	// mode, and plain flow control all work by simply not sending here).
	resumeCh chan struct{}

	stopCh chan struct{}
}

func newTLSRecordPump(s *socket, conn net.Conn, bufSize int) *tlsRecordPump {
	return &tlsRecordPump{
		sock:     s,
		conn:     conn,
		buf:      make([]byte, bufSize),
		resumeCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// start launches the pump's read loop and primes it for one read.
func (p *tlsRecordPump) start() {
	p.resumeCh <- struct{}{}
	go p.readLoop()
}

// resume signals the pump to perform its next blocking Read. Called from
// the owning worker after it has finished processing the previous chunk
// (including, for sequential-mode server sockets, after the frame's
// handle has been released).
func (p *tlsRecordPump) resume() {
	select {
	case p.resumeCh <- struct{}{}:
	default:
	}
}

func (p *tlsRecordPump) readLoop() {
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.resumeCh:
		}

		n, err := p.conn.Read(p.buf)
		s := p.sock
		w := s.worker

		ev := s.mgr.allocEvent()
		ev.kind = evTLSDNSRead
		ev.sock = s
		req := s.allocReq(reqRecv)
		if n > 0 {
			req.buf = append([]byte(nil), p.buf[:n]...)
		}
		if err != nil {
			ev.result = classifyDialError(err)
		} else {
			ev.result = ResultSuccess
		}
		ev.req = req

		w.submit(context.Background(), ev)

		if err != nil {
			return
		}
	}
}

// write performs a single blocking write of the fully framed buf (length
// prefix already applied by the caller). It is safe to call from any
// goroutine; the pump does not serialize writes itself, so callers
// (Handle.Send's event closure) must serialize per socket, which they do by only
// running on the owning worker's loop.
func (p *tlsRecordPump) write(buf []byte) error {
	_, err := p.conn.Write(buf)
	return err
}

func (p *tlsRecordPump) close() {
	close(p.stopCh)
	_ = p.conn.Close()
}
