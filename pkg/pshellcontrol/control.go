// Package pshellcontrol implements PSHELL's Control Client: it lets one host
// program act as a programmatic client of another PSHELL server, with
// request/response correlation, per-session timeouts, and multicast groups
// (spec §4.6). Grounded on internal/ron/{server.go,command.go}'s per-client
// sequence/command bookkeeping and internal/meshage/message.go's lollipop
// sequence numbers and Recipients-style broadcast semantics.
package pshellcontrol

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgrid-labs/pshell/pkg/plog"
	"github.com/dgrid-labs/pshell/pkg/pshelltransport"
	"github.com/dgrid-labs/pshell/pkg/pshellwire"
)

// SID is an opaque handle to a connected control session (spec §3).
type SID int

// InvalidSID is the sentinel returned when a connect fails or a lookup
// doesn't resolve to a live session.
const InvalidSID SID = -1

// UnixControl is the sentinel port value selecting the Unix-datagram
// transport; remoteHost is then interpreted as a server name under the
// well-known socket directory instead of a hostname (spec §4.6).
const UnixControl = -1

// Hard invariants on table sizes (spec §3): the session table holds at most
// sessionTableCap entries; the multicast group table holds at most
// groupTableCap groups of at most groupMemberCap members each.
const (
	sessionTableCap = 100
	groupTableCap   = 100
	groupMemberCap  = 100
)

const (
	initialPayloadSize = 4096
	growChunkSize      = 4096
)

// ResultCode is the typed result of a control-client call (spec §7). The
// first three values share their numeric space with pshellwire.MsgType's
// control-reply codes by construction; the socket-failure codes occupy a
// disjoint range so a ResultCode is never ambiguous with a MsgType on its
// own (see DESIGN.md on the msgType 0-2 / 1-5 overlap, resolved the same
// way here: by Go type, not by value).
type ResultCode int

const (
	CommandSuccess         ResultCode = ResultCode(pshellwire.CommandSuccess)
	CommandNotFound        ResultCode = ResultCode(pshellwire.CommandNotFound)
	CommandInvalidArgCount ResultCode = ResultCode(pshellwire.CommandInvalidArgCnt)

	SocketSendFailure ResultCode = iota + 100
	SocketSelectFailure
	SocketReceiveFailure
	SocketTimeout
	SocketNotConnected
)

// GetResponseString renders a ResultCode's name, for diagnostics.
func GetResponseString(code ResultCode) string {
	switch code {
	case CommandSuccess:
		return "PSHELL_COMMAND_SUCCESS"
	case CommandNotFound:
		return "PSHELL_COMMAND_NOT_FOUND"
	case CommandInvalidArgCount:
		return "PSHELL_COMMAND_INVALID_ARG_COUNT"
	case SocketSendFailure:
		return "PSHELL_SOCKET_SEND_FAILURE"
	case SocketSelectFailure:
		return "PSHELL_SOCKET_SELECT_FAILURE"
	case SocketReceiveFailure:
		return "PSHELL_SOCKET_RECEIVE_FAILURE"
	case SocketTimeout:
		return "PSHELL_SOCKET_TIMEOUT"
	case SocketNotConnected:
		return "PSHELL_SOCKET_NOT_CONNECTED"
	default:
		return fmt.Sprintf("PSHELL_UNKNOWN_RESPONSE(%d)", int(code))
	}
}

// session is one connected control session (spec §3, Control Session).
type session struct {
	name           string
	kind           pshelltransport.Kind
	conn           net.PacketConn
	destAddr       net.Addr
	defaultTimeout time.Duration
	seqNum         uint32
	unixPath       string // non-empty for a Unix-datagram client socket, removed on disconnect
	buf            []byte // per-session scratch receive buffer, grown on UPDATE_PAYLOAD_SIZE
}

// multicastGroup is a keyword plus a set of member SIDs (spec §3). The
// wildcard keyword "*" matches every outgoing command.
type multicastGroup struct {
	keyword string
	members map[SID]bool
}

// ControlClient holds a process's control sessions and multicast groups.
// The zero value is not usable; construct with New. Multiple independent
// ControlClients may coexist in one process (spec §5, §9 DESIGN NOTES).
type ControlClient struct {
	mu       sync.Mutex
	sessions [sessionTableCap]*session

	groupsMu sync.Mutex
	groups   map[string]*multicastGroup

	Log *plog.Logger
}

// New returns an empty ControlClient.
func New() *ControlClient {
	return &ControlClient{
		groups: make(map[string]*multicastGroup),
		Log:    plog.Default,
	}
}

func (c *ControlClient) logf(format string, args ...interface{}) {
	if c.Log != nil {
		c.Log.Warn(format, args...)
	}
}

// allocSlot finds a free session-table index, or returns an error if the
// table (capacity sessionTableCap, spec §3) is full.
func (c *ControlClient) allocSlot() (SID, error) {
	for i, s := range c.sessions {
		if s == nil {
			return SID(i), nil
		}
	}
	return InvalidSID, fmt.Errorf("pshellcontrol: session table full (capacity %d)", sessionTableCap)
}

// ConnectServer opens a new control session to remoteHost:port (or, when
// port == UnixControl, to the Unix-datagram socket named remoteHost under
// the well-known directory) and returns its SID (spec §4.6).
func (c *ControlClient) ConnectServer(name, remoteHost string, port, defaultTimeoutMs int) (SID, error) {
	var (
		kind     = pshelltransport.UDP
		destAddr net.Addr
		conn     net.PacketConn
		unixPath string
		err      error
	)

	if port == UnixControl {
		kind = pshelltransport.UnixDgram

		serverPath := pshelltransport.UnixServerPath(remoteHost)
		destAddr, err = net.ResolveUnixAddr("unixgram", serverPath)
		if err != nil {
			return InvalidSID, fmt.Errorf("pshellcontrol: resolving unix server %q: %v", remoteHost, err)
		}

		conn, unixPath, err = pshelltransport.BindRandomUnixSocket("pshellControlClient")
		if err != nil {
			return InvalidSID, err
		}
	} else {
		host, rerr := pshelltransport.ResolveHost(remoteHost)
		if rerr != nil {
			return InvalidSID, rerr
		}

		destAddr, err = net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			return InvalidSID, fmt.Errorf("pshellcontrol: resolving %s:%d: %v", host, port, err)
		}

		conn, err = net.ListenPacket("udp", ":0")
		if err != nil {
			return InvalidSID, fmt.Errorf("pshellcontrol: binding client socket: %v", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sid, err := c.allocSlot()
	if err != nil {
		conn.Close()
		if unixPath != "" {
			removeUnixPath(unixPath)
		}
		return InvalidSID, err
	}

	c.sessions[sid] = &session{
		name:           name,
		kind:           kind,
		conn:           conn,
		destAddr:       destAddr,
		defaultTimeout: time.Duration(defaultTimeoutMs) * time.Millisecond,
		unixPath:       unixPath,
		buf:            make([]byte, initialPayloadSize),
	}

	return sid, nil
}

func removeUnixPath(path string) {
	_ = os.Remove(path)
}

// DisconnectServer releases sid's slot and closes its socket. The slot may
// be reused by a subsequent ConnectServer (spec §8: round-trip invariant).
func (c *ControlClient) DisconnectServer(sid SID) error {
	c.mu.Lock()
	sess, err := c.lookupLocked(sid)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.sessions[sid] = nil
	c.mu.Unlock()

	c.purgeFromGroups(sid)

	sess.conn.Close()
	if sess.unixPath != "" {
		removeUnixPath(sess.unixPath)
	}
	return nil
}

func (c *ControlClient) lookupLocked(sid SID) (*session, error) {
	if sid < 0 || int(sid) >= sessionTableCap || c.sessions[sid] == nil {
		return nil, fmt.Errorf("pshellcontrol: %w: sid %d", ErrNotConnected, sid)
	}
	return c.sessions[sid], nil
}

// ErrNotConnected is returned by any operation on an unknown or
// already-disconnected SID.
var ErrNotConnected = errors.New("pshellcontrol: no session for sid")

// SetDefaultTimeout updates sid's default response timeout.
func (c *ControlClient) SetDefaultTimeout(sid SID, ms int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.lookupLocked(sid)
	if err != nil {
		return err
	}
	sess.defaultTimeout = time.Duration(ms) * time.Millisecond
	return nil
}

// SendCommand1 sends command+args to sid using its default timeout,
// discarding any reply payload.
func (c *ControlClient) SendCommand1(sid SID, command string, args ...string) (ResultCode, error) {
	code, _, err := c.send(sid, nil, false, nil, command, args)
	return code, err
}

// SendCommand2 sends command+args to sid, overriding the session's default
// timeout for this call only.
func (c *ControlClient) SendCommand2(sid SID, timeoutMs int, command string, args ...string) (ResultCode, error) {
	t := time.Duration(timeoutMs) * time.Millisecond
	code, _, err := c.send(sid, &t, false, nil, command, args)
	return code, err
}

// SendCommand3 sends command+args to sid using its default timeout and
// copies the reply payload into results, truncating with NUL-termination
// and returning the number of bytes copied.
func (c *ControlClient) SendCommand3(sid SID, results []byte, command string, args ...string) (ResultCode, int, error) {
	return c.send(sid, nil, true, results, command, args)
}

// SendCommand4 is SendCommand3 with a per-call timeout override.
func (c *ControlClient) SendCommand4(sid SID, timeoutMs int, results []byte, command string, args ...string) (ResultCode, int, error) {
	t := time.Duration(timeoutMs) * time.Millisecond
	return c.send(sid, &t, true, results, command, args)
}

// send implements the send-and-wait sequence of spec §4.6 steps 1-6.
func (c *ControlClient) send(sid SID, timeoutOverride *time.Duration, dataNeeded bool, results []byte, command string, args []string) (ResultCode, int, error) {
	c.mu.Lock()
	sess, err := c.lookupLocked(sid)
	if err != nil {
		c.mu.Unlock()
		return SocketNotConnected, 0, err
	}

	sess.seqNum++
	seq := sess.seqNum
	timeout := sess.defaultTimeout
	if timeoutOverride != nil {
		timeout = *timeoutOverride
	}
	c.mu.Unlock()

	respNeeded := timeout != 0
	line := joinCommand(command, args)
	frame := pshellwire.Encode(pshellwire.ControlCommand, respNeeded, dataNeeded, seq, []byte(line))

	if _, err := sess.conn.WriteTo(frame, sess.destAddr); err != nil {
		return SocketSendFailure, 0, fmt.Errorf("pshellcontrol: send: %w", err)
	}

	if !respNeeded {
		return CommandSuccess, 0, nil
	}

	reply, err := c.waitForReply(sess, seq, timeout)
	if err != nil {
		switch {
		case errors.Is(err, ErrSelectFailure):
			return SocketSelectFailure, 0, err
		case errors.Is(err, ErrReceiveFailure):
			return SocketReceiveFailure, 0, err
		}
		return SocketTimeout, 0, err
	}

	n := 0
	if results != nil {
		n = copyTruncated(results, reply.Payload, c.Log)
	}

	return ResultCode(reply.MsgType), n, nil
}

// waitForReply reads frames from sess until one whose SeqNum is want or
// later, discarding earlier (stale) replies left over from a prior, shorter-timeout
// call without restarting the deadline's wall-clock budget (spec §4.6 step
// 5, and §9 Open Questions: a monotonic deadline computed once up front,
// not a reused/mutated timeval).
func (c *ControlClient) waitForReply(sess *session, want uint32, timeout time.Duration) (*pshellwire.Frame, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := sess.conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("pshellcontrol: %w: %v", ErrSelectFailure, err)
		}

		n, _, err := sess.conn.ReadFrom(sess.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("pshellcontrol: %w: %v", ErrReceiveFailure, err)
		}

		frame, err := pshellwire.Decode(sess.buf[:n])
		if err != nil {
			continue
		}

		if frame.MsgType == pshellwire.UpdatePayloadSize {
			newSize, perr := strconv.Atoi(strings.TrimSpace(string(frame.Payload)))
			if perr == nil && newSize > len(sess.buf) {
				sess.buf = make([]byte, newSize)
			}
			continue
		}

		if frame.SeqNum < want {
			// Stale reply to an earlier, already-timed-out call; keep
			// flushing without resetting the deadline.
			continue
		}

		// Copy the payload out of the scratch buffer before the next loop
		// iteration (or caller) can overwrite it.
		out := &pshellwire.Frame{
			MsgType:    frame.MsgType,
			RespNeeded: frame.RespNeeded,
			DataNeeded: frame.DataNeeded,
			SeqNum:     frame.SeqNum,
			Payload:    append([]byte(nil), frame.Payload...),
		}
		return out, nil
	}
}

// Sentinel errors returned by waitForReply, wrapped into the result-code
// path by send/ExtractCommands.
var (
	ErrTimeout        = errors.New("pshellcontrol: socket timeout")
	ErrSelectFailure  = errors.New("pshellcontrol: select failure")
	ErrReceiveFailure = errors.New("pshellcontrol: receive failure")
)

func copyTruncated(dst, src []byte, log *plog.Logger) int {
	n := copy(dst, src)
	if n < len(dst) {
		dst[n] = 0
	} else if len(src) > len(dst) {
		if log != nil {
			log.Warn("pshellcontrol: reply (%d bytes) truncated to caller's %d-byte buffer", len(src), len(dst))
		}
		if len(dst) > 0 {
			dst[len(dst)-1] = 0
		}
	}
	return n
}

func joinCommand(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + strings.Join(args, " ")
}

// ExtractCommands queries sid's COMMANDS1-rendered help listing and copies
// it into results (spec §4.6).
func (c *ControlClient) ExtractCommands(sid SID, results []byte) (int, error) {
	c.mu.Lock()
	sess, err := c.lookupLocked(sid)
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	sess.seqNum++
	seq := sess.seqNum
	timeout := sess.defaultTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	c.mu.Unlock()

	frame := pshellwire.Encode(pshellwire.QueryCommands1, true, true, seq, nil)
	if _, err := sess.conn.WriteTo(frame, sess.destAddr); err != nil {
		return 0, fmt.Errorf("pshellcontrol: send: %w", err)
	}

	reply, err := c.waitForReply(sess, seq, timeout)
	if err != nil {
		return 0, err
	}

	return copyTruncated(results, reply.Payload, c.Log), nil
}

// AddMulticast adds sid to the group identified by keyword, creating the
// group on first use. Idempotent: adding the same (keyword, sid) pair twice
// yields one entry (spec §3, §8).
func (c *ControlClient) AddMulticast(sid SID, keyword string) error {
	c.mu.Lock()
	_, err := c.lookupLocked(sid)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.groupsMu.Lock()
	defer c.groupsMu.Unlock()

	g, ok := c.groups[keyword]
	if !ok {
		if len(c.groups) >= groupTableCap {
			return fmt.Errorf("pshellcontrol: multicast group table full (capacity %d)", groupTableCap)
		}
		g = &multicastGroup{keyword: keyword, members: make(map[SID]bool)}
		c.groups[keyword] = g
	}

	if !g.members[sid] {
		if len(g.members) >= groupMemberCap {
			return fmt.Errorf("pshellcontrol: multicast group %q full (capacity %d)", keyword, groupMemberCap)
		}
		g.members[sid] = true
	}

	return nil
}

// SendMulticast fires command+args, fire-and-forget (respNeeded=false,
// dataNeeded=false), at every SID belonging to a group whose keyword is "*"
// or is a literal prefix of the outgoing command line (spec §4.6). Best
// effort: a send failure to one member is logged and does not stop
// delivery to the rest.
func (c *ControlClient) SendMulticast(command string, args ...string) error {
	line := joinCommand(command, args)

	c.groupsMu.Lock()
	var targets []SID
	seen := make(map[SID]bool)
	for keyword, g := range c.groups {
		if keyword != "*" && !strings.HasPrefix(line, keyword) {
			continue
		}
		for sid := range g.members {
			if !seen[sid] {
				seen[sid] = true
				targets = append(targets, sid)
			}
		}
	}
	c.groupsMu.Unlock()

	var firstErr error
	for _, sid := range targets {
		c.mu.Lock()
		sess, err := c.lookupLocked(sid)
		c.mu.Unlock()
		if err != nil {
			continue
		}

		sess.seqNum++
		frame := pshellwire.Encode(pshellwire.ControlCommand, false, false, sess.seqNum, []byte(line))
		if _, err := sess.conn.WriteTo(frame, sess.destAddr); err != nil {
			c.logf("pshellcontrol: multicast send to sid %d failed: %v", sid, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (c *ControlClient) purgeFromGroups(sid SID) {
	c.groupsMu.Lock()
	defer c.groupsMu.Unlock()
	for _, g := range c.groups {
		delete(g.members, sid)
	}
}
