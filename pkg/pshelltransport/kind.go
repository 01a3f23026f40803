// Package pshelltransport provides the four socket kinds a PSHELL server or
// control client can bind: UDP, a Unix domain datagram socket, TCP, and an
// in-process "local" loopback with no underlying socket at all. Listener and
// connection bookkeeping follows internal/ron/server.go's
// map-plus-mutex idiom.
package pshelltransport

import (
	"fmt"
	"strings"
)

// Kind identifies one of the four transport types PSHELL servers and
// control clients can use (spec §4.1, §4.6).
type Kind int

const (
	UDP Kind = iota
	UnixDgram
	TCP
	Local
)

func (k Kind) String() string {
	switch k {
	case UDP:
		return "udp"
	case UnixDgram:
		return "unix"
	case TCP:
		return "tcp"
	case Local:
		return "local"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Datagram reports whether k is message-oriented (UDP, UnixDgram) as
// opposed to stream-oriented (TCP, Local).
func (k Kind) Datagram() bool {
	return k == UDP || k == UnixDgram
}

// ParseKind recognizes the transport-kind spellings used in config files and
// command-line specs (spec §6.2, §6.4): "udp", "unix", "tcp", "local".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "udp":
		return UDP, nil
	case "unix", "unixgram", "unixdgram":
		return UnixDgram, nil
	case "tcp":
		return TCP, nil
	case "local":
		return Local, nil
	default:
		return 0, fmt.Errorf("pshelltransport: unrecognized transport kind %q", s)
	}
}
