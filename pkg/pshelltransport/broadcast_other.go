//go:build !linux && !darwin

package pshelltransport

import "net"

// listenBroadcastUDP falls back to a plain bind on platforms where this
// package does not special-case SO_BROADCAST (spec §4.4's requirement is
// advisory outside the two platforms the teacher builds for).
func listenBroadcastUDP(addr string) (net.PacketConn, error) {
	return net.ListenPacket("udp", addr)
}
