package pshelltransport

import (
	"fmt"
	"net"
	"sync"
)

// localAddr satisfies net.Addr for the in-process local transport, which has
// no underlying socket family.
type localAddr string

func (a localAddr) Network() string { return "local" }
func (a localAddr) String() string  { return string(a) }

// localListener hands out connected net.Pipe endpoints to in-process
// dialers, standing in for a socket listener when the transport kind is
// Local (spec §4.1: "a server may offer a local, in-process interactive
// shell with no network exposure at all").
type localListener struct {
	addr      localAddr
	conns     chan net.Conn
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newLocalListener(name string) *localListener {
	return &localListener{
		addr:    localAddr(name),
		conns:   make(chan net.Conn),
		closeCh: make(chan struct{}),
	}
}

func (l *localListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closeCh:
		return nil, fmt.Errorf("pshelltransport: local listener %q closed", l.addr)
	}
}

func (l *localListener) Close() error {
	l.closeOnce.Do(func() { close(l.closeCh) })
	return nil
}

func (l *localListener) Addr() net.Addr { return l.addr }

// dial connects a new in-process client to this listener, blocking until
// Accept consumes it or the listener closes.
func (l *localListener) dial() (net.Conn, error) {
	server, client := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.closeCh:
		server.Close()
		client.Close()
		return nil, fmt.Errorf("pshelltransport: local listener %q closed", l.addr)
	}
}
