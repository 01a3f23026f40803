package pshelltransport

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
)

// UnixSocketDir is the well-known directory Unix-domain server and client
// sockets live under (spec §6.5).
const UnixSocketDir = "/tmp/pshell/unix-sockets"

// Special destination-host strings recognized by servers and control
// clients (spec §6.7).
const (
	HostAny       = "anyhost"
	HostBroadcast = "anybcast"
	HostMine      = "myhost"
	HostLocal     = "localhost"
)

// ResolveHost maps the special host strings of spec §6.7 to a concrete
// address; anything else is returned unchanged (a numeric IP or a name the
// OS resolver will handle).
func ResolveHost(host string) (string, error) {
	switch host {
	case HostAny:
		return "0.0.0.0", nil
	case HostBroadcast:
		return "255.255.255.255", nil
	case HostLocal:
		return "127.0.0.1", nil
	case HostMine:
		name, err := os.Hostname()
		if err != nil {
			return "", fmt.Errorf("pshelltransport: resolving %q: %v", HostMine, err)
		}
		return name, nil
	default:
		return host, nil
	}
}

// IsBroadcastHost reports whether host selects a broadcast bind (spec
// §4.4: "Broadcast bind supported when host is anybcast or ends in
// .255").
func IsBroadcastHost(host string) bool {
	if host == HostBroadcast {
		return true
	}
	return len(host) >= 4 && host[len(host)-4:] == ".255"
}

// UnixServerPath returns the filesystem path a Unix-datagram server named
// name binds to (spec §6.5: "<dir>/<serverName>").
func UnixServerPath(serverName string) string {
	return filepath.Join(UnixSocketDir, serverName)
}

// BindRandomUnixSocket binds a client-side Unix-datagram socket under
// UnixSocketDir using the given name prefix plus a random suffix in
// [0,1000), retrying up to 1000 times to find a free name (spec §4.6:
// "the binder retries up to 1000 times to find a free name").
func BindRandomUnixSocket(prefix string) (net.PacketConn, string, error) {
	if err := os.MkdirAll(UnixSocketDir, 0755); err != nil {
		return nil, "", fmt.Errorf("pshelltransport: creating %s: %v", UnixSocketDir, err)
	}

	const attempts = 1000
	var lastErr error
	for i := 0; i < attempts; i++ {
		name := fmt.Sprintf("%s%d", prefix, rand.Intn(1000))
		path := filepath.Join(UnixSocketDir, name)

		conn, err := net.ListenPacket("unixgram", path)
		if err == nil {
			return conn, path, nil
		}
		lastErr = err
	}

	return nil, "", fmt.Errorf("pshelltransport: could not bind a free client socket under %s after %d attempts: %v", UnixSocketDir, attempts, lastErr)
}
