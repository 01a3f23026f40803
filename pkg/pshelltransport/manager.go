package pshelltransport

import (
	"fmt"
	"net"
	"sync"

	"github.com/dgrid-labs/pshell/pkg/plog"
)

// Manager tracks a server's active listeners and connections, grounded on
// internal/ron/server.go's Server type (conns/listeners maps each guarded by
// their own mutex, a Destroy that closes everything and waits for listeners
// to report back). PSHELL has no per-VM client registry to mirror, so
// Manager narrows ron's bookkeeping down to listeners and connections.
type Manager struct {
	listenersLock sync.Mutex
	listeners     map[string]net.Listener
	localLn       map[string]*localListener

	connsLock sync.Mutex
	conns     map[string]net.Conn

	Log *plog.Logger
}

// NewManager returns an empty Manager ready to accept Listen/Dial calls.
func NewManager() *Manager {
	return &Manager{
		listeners: make(map[string]net.Listener),
		localLn:   make(map[string]*localListener),
		conns:     make(map[string]net.Conn),
		Log:       plog.Default,
	}
}

// Listen opens a stream listener (TCP or Local) at addr. For TCP, addr is a
// "host:port" or ":port" string passed to net.Listen. For Local, addr is an
// arbitrary name other Dial calls within the same process use to find it.
func (m *Manager) Listen(kind Kind, addr string) (net.Listener, error) {
	m.listenersLock.Lock()
	defer m.listenersLock.Unlock()

	if _, ok := m.listeners[addr]; ok {
		return nil, fmt.Errorf("pshelltransport: already listening on %v", addr)
	}

	switch kind {
	case TCP:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		m.listeners[addr] = ln
		m.logf("listening on tcp %v", addr)
		return ln, nil
	case Local:
		ln := newLocalListener(addr)
		m.listeners[addr] = ln
		m.localLn[addr] = ln
		m.logf("listening on local %v", addr)
		return ln, nil
	default:
		return nil, fmt.Errorf("pshelltransport: %v is not a stream transport", kind)
	}
}

// CloseListener closes and forgets the listener registered at addr.
func (m *Manager) CloseListener(addr string) error {
	m.listenersLock.Lock()
	defer m.listenersLock.Unlock()

	ln, ok := m.listeners[addr]
	if !ok {
		return nil
	}

	delete(m.listeners, addr)
	delete(m.localLn, addr)
	return ln.Close()
}

// DialLocal connects to a Local listener registered under addr within this
// process. There is no network traffic involved: the two ends are an
// in-memory net.Pipe.
func (m *Manager) DialLocal(addr string) (net.Conn, error) {
	m.listenersLock.Lock()
	ln, ok := m.localLn[addr]
	m.listenersLock.Unlock()

	if !ok {
		return nil, fmt.Errorf("pshelltransport: no local listener registered as %q", addr)
	}
	return ln.dial()
}

// TrackConn registers an accepted or dialed connection under key so it can
// be closed later via CloseConn or Shutdown.
func (m *Manager) TrackConn(key string, c net.Conn) {
	m.connsLock.Lock()
	defer m.connsLock.Unlock()
	m.conns[key] = c
}

// CloseConn closes and forgets the connection registered under key.
func (m *Manager) CloseConn(key string) error {
	m.connsLock.Lock()
	defer m.connsLock.Unlock()

	c, ok := m.conns[key]
	if !ok {
		return nil
	}
	delete(m.conns, key)
	return c.Close()
}

// Shutdown closes every tracked listener and connection.
func (m *Manager) Shutdown() {
	m.listenersLock.Lock()
	for addr, ln := range m.listeners {
		ln.Close()
		delete(m.listeners, addr)
	}
	for addr := range m.localLn {
		delete(m.localLn, addr)
	}
	m.listenersLock.Unlock()

	m.connsLock.Lock()
	for key, c := range m.conns {
		c.Close()
		delete(m.conns, key)
	}
	m.connsLock.Unlock()
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.Log != nil {
		m.Log.Info(format, args...)
	}
}
