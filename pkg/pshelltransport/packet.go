package pshelltransport

import (
	"fmt"
	"net"
)

// ListenPacket binds a message-oriented server socket for the UDP or
// Unix-datagram transport kinds, used for the non-interactive request/reply
// wire protocol (spec §4.1, §4.5). A UDP addr whose host is "anybcast" or
// ends in ".255" binds with SO_BROADCAST set (spec §4.4).
func ListenPacket(kind Kind, addr string) (net.PacketConn, error) {
	switch kind {
	case UDP:
		if host, _, err := net.SplitHostPort(addr); err == nil && IsBroadcastHost(host) {
			return listenBroadcastUDP(addr)
		}
		return net.ListenPacket("udp", addr)
	case UnixDgram:
		return net.ListenPacket("unixgram", addr)
	default:
		return nil, fmt.Errorf("pshelltransport: %v is not a datagram transport", kind)
	}
}

// ResolvePacketAddr resolves addr for the given datagram kind.
// pshellcontrol resolves its destinations itself and does not call it.
func ResolvePacketAddr(kind Kind, addr string) (net.Addr, error) {
	switch kind {
	case UDP:
		return net.ResolveUDPAddr("udp", addr)
	case UnixDgram:
		return net.ResolveUnixAddr("unixgram", addr)
	default:
		return nil, fmt.Errorf("pshelltransport: %v is not a datagram transport", kind)
	}
}
