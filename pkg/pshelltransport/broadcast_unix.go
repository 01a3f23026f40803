//go:build linux || darwin

package pshelltransport

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenBroadcastUDP binds addr with SO_BROADCAST set, needed for a UDP
// server whose configured host is "anybcast" or ends in ".255" (spec §4.4).
// Plain net.ListenPacket has no portable way to set socket options before
// bind, so this goes through net.ListenConfig.Control the way the pack's
// raw-socket examples (e.g. m-lab/tcp-info) reach for golang.org/x/sys/unix
// rather than syscall directly.
func listenBroadcastUDP(addr string) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.ListenPacket(context.Background(), "udp", addr)
}
