package netmgr

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setReuseport is a net.ListenConfig.Control callback enabling
// SO_REUSEPORT so every worker's child listener can bind the same
// address, letting the kernel load-balance accepted connections across
// them. Grounded on the teacher's internal/server/tcp_server.go
// listenTCPReusePort.
func setReuseport(_, _ string, c syscall.RawConn) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}
