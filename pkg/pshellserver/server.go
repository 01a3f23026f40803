// Package pshellserver implements the Shell Server: the transport loops for
// all four server kinds (spec §4.4), the payload-size growth policies
// (§4.5), and the host-program APIs (addCommand/runCommand/printf/wheel/
// march/flush) a program embeds it with (§5).
package pshellserver

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgrid-labs/pshell/internal/pshellconf"
	"github.com/dgrid-labs/pshell/pkg/plog"
	"github.com/dgrid-labs/pshell/pkg/pshellcli"
	"github.com/dgrid-labs/pshell/pkg/pshellterm"
	"github.com/dgrid-labs/pshell/pkg/pshelltransport"
	"github.com/dgrid-labs/pshell/pkg/pshellwire"
)

// commandsDelimiter separates names in a QUERY_COMMANDS2 reply, used by a
// remote client for TAB completion (spec §4.4). Not specified further by
// spec.md; "/" is chosen as a character command names rarely use.
// pshellcli.Registry.Add only rejects whitespace in a name, so a name
// containing "/" is accepted and would be split by a client.
const commandsDelimiter = "/"

// Config parameterizes a Server. A build-time choice of server kind and
// growth policy in the C library becomes runtime fields here, since one Go
// binary is not recompiled per server kind (spec.md §4.5).
type Config struct {
	// Name identifies this server for its Unix-domain socket path (spec
	// §6.5) and its "<name>.startup" file (spec §6.2).
	Name   string
	Title  string
	Banner string
	Prompt string

	Kind pshelltransport.Kind
	Host string // interface/hostname for UDP and TCP; ignored for Unix/Local
	Port int    // UDP/TCP only

	// IdleTimeout closes a quiet TCP session (spec §4.4, default 10 min).
	IdleTimeout time.Duration

	InitialPayloadSize int
	ChunkSize          int
	Guardband          int
	GrowPolicy         GrowPolicy

	Log *plog.Logger
}

func withDefaults(cfg Config) Config {
	if cfg.InitialPayloadSize <= 0 {
		cfg.InitialPayloadSize = DefaultInitialPayloadSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Guardband <= 0 {
		cfg.Guardband = DefaultGuardband
	}
	if cfg.IdleTimeout <= 0 && cfg.Kind == pshelltransport.TCP {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.Log == nil {
		cfg.Log = plog.Default
	}
	if cfg.Host == "" {
		cfg.Host = pshelltransport.HostAny
	}
	return cfg
}

// ApplyFileConfig overlays pshell-server.conf's recognized options for
// cfg.Name onto cfg, for a caller that wants config-file overrides (spec
// §6.2). A missing file, or a file with no matching server name, leaves cfg
// unchanged. This is a separate call rather than something New does
// implicitly, so constructing a Server never performs hidden file I/O.
func ApplyFileConfig(cfg Config) (Config, error) {
	all, err := pshellconf.LoadServerConfig()
	if err != nil {
		return cfg, err
	}
	opts, ok := all[cfg.Name]
	if !ok {
		return cfg, nil
	}
	if opts.Title != "" {
		cfg.Title = opts.Title
	}
	if opts.Banner != "" {
		cfg.Banner = opts.Banner
	}
	if opts.Prompt != "" {
		cfg.Prompt = opts.Prompt
	}
	if opts.Host != "" {
		cfg.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}
	if opts.Type != "" {
		kind, err := pshelltransport.ParseKind(opts.Type)
		if err != nil {
			return cfg, fmt.Errorf("pshellserver: %s.type: %v", cfg.Name, err)
		}
		cfg.Kind = kind
	}
	if opts.Timeout != 0 {
		cfg.IdleTimeout = time.Duration(opts.Timeout) * time.Minute
	}
	return cfg, nil
}

// Server is one PSHELL shell server. The zero value is not usable;
// construct with New. Multiple independent Servers may coexist in one
// process (spec §5, §9 DESIGN NOTES: no global singleton).
type Server struct {
	cfg       Config
	Registry  *pshellcli.Registry
	transport *pshelltransport.Manager
	log       *plog.Logger

	// dispatchTicket is a capacity-1 channel used as a cooperative
	// exclusion lock between a network-triggered dispatch and a
	// host-initiated RunCommand (spec §5, §9: explicit message passing
	// instead of a "while (!flag) sleep(1)" busy-wait).
	dispatchTicket chan struct{}

	quitRequested int32 // atomic; set by the native "quit" callback

	pconn    net.PacketConn // bound when Kind is UDP or UnixDgram
	unixPath string         // non-empty for UnixDgram, removed on Stop

	listener net.Listener // bound when Kind is TCP

	buf *replyBuffer // the server's single send-buffer (spec §5: "per-server singleton")

	outMu sync.Mutex // serializes Printf against itself across host goroutines

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Server and registers its native commands (help, quit
// when the kind supports an interactive session, batch, and whatever
// tracefilter.Engine.Init added before this call). It performs no I/O; call
// Open (or Start, which calls it) to bind.
func New(cfg Config, registry *pshellcli.Registry) (*Server, error) {
	cfg = withDefaults(cfg)
	if registry == nil {
		registry = pshellcli.NewRegistry()
	}

	s := &Server{
		cfg:            cfg,
		Registry:       registry,
		transport:      pshelltransport.NewManager(),
		log:            cfg.Log,
		dispatchTicket: make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	s.transport.Log = cfg.Log
	s.buf = newReplyBuffer(cfg.InitialPayloadSize, cfg.GrowPolicy, cfg.ChunkSize, cfg.Guardband, nil)

	caps := pshellcli.Capabilities{
		Help:  true,
		Quit:  cfg.Kind == pshelltransport.TCP || cfg.Kind == pshelltransport.Local,
		Batch: true,
	}
	quitCb := func(ctx *pshellcli.Context) error {
		atomic.StoreInt32(&s.quitRequested, 1)
		return nil
	}
	if err := registry.AddNativeCommands(caps, s.helpCommand, quitCb, s.batchCommand); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Warn(format, args...)
	}
}

// acquireDispatch/releaseDispatch implement the single-slot cooperative
// exclusion ticket of spec §5.
func (s *Server) acquireDispatch() { s.dispatchTicket <- struct{}{} }
func (s *Server) releaseDispatch() { <-s.dispatchTicket }

// helpCommand is the native "help" callback (spec §4.2).
func (s *Server) helpCommand(ctx *pshellcli.Context) error {
	args, _ := ctx.Args()
	if len(args) == 0 {
		ctx.Printf("%s", s.Registry.HelpText())
		return nil
	}
	cmd, err := s.Registry.Find(args[0])
	if err != nil {
		return err
	}
	ctx.Printf("%s\n", s.Registry.UsageText(cmd))
	return nil
}

// batchCommand is the native "batch <filename> [rate=<sec>]
// [repeat=<n>|forever] [clear]" callback (spec §6.3). It dispatches through
// pshellcli.Dispatch directly rather than through Server.RunCommand, since
// the dispatch ticket is already held by whichever caller invoked "batch"
// itself; re-acquiring it here would deadlock.
func (s *Server) batchCommand(ctx *pshellcli.Context) error {
	args, _ := ctx.Args()
	filename := args[0]

	rateSeconds := 0
	repeat := 1
	forever := false
	clear := false

	for _, a := range args[1:] {
		switch {
		case a == "clear":
			clear = true
		case a == "forever":
			forever = true
		case strings.HasPrefix(a, "rate="):
			n, err := strconv.Atoi(strings.TrimPrefix(a, "rate="))
			if err != nil {
				return fmt.Errorf("pshellserver: batch: invalid rate %q", a)
			}
			rateSeconds = n
		case strings.HasPrefix(a, "repeat="):
			n, err := strconv.Atoi(strings.TrimPrefix(a, "repeat="))
			if err != nil {
				return fmt.Errorf("pshellserver: batch: invalid repeat %q", a)
			}
			repeat = n
		default:
			return fmt.Errorf("pshellserver: batch: unrecognized option %q", a)
		}
	}

	path, ok := pshellconf.BatchFile(filename)
	if !ok {
		return fmt.Errorf("pshellserver: batch file %q not found", filename)
	}
	lines, err := pshellconf.ReadCommandLines(path)
	if err != nil {
		return fmt.Errorf("pshellserver: batch: %v", err)
	}

	iterations := repeat
	if forever {
		iterations = -1
	}

	for i := 0; iterations < 0 || i < iterations; i++ {
		if clear {
			ctx.Printf("\033[2J\033[H")
		}
		for _, line := range lines {
			res := pshellcli.Dispatch(s.Registry, line)
			if res.Output != "" {
				ctx.Printf("%s", res.Output)
			}
		}
		if rateSeconds > 0 {
			time.Sleep(time.Duration(rateSeconds) * time.Second)
		}
	}

	return nil
}

// AddCommand registers a user command, forwarding to the underlying
// registry (spec §5's host-callable "addCommand").
func (s *Server) AddCommand(name, description, usage string, minArgs, maxArgs int, showUsage bool, cb pshellcli.Callback) error {
	return s.Registry.Add(name, description, usage, minArgs, maxArgs, showUsage, cb)
}

// RunCommand dispatches line as a host-initiated command, serialized
// against network dispatch by the same cooperative ticket (spec §5). A
// not-found, ambiguous, or bad-arg-count result is a silent no-op, matching
// spec §7's "runCommand from the host is a silent no-op" propagation rule.
func (s *Server) RunCommand(line string) string {
	s.acquireDispatch()
	defer s.releaseDispatch()

	res := pshellcli.Dispatch(s.Registry, line)
	if res.NotFound || res.Ambiguous || res.BadArgCount {
		return ""
	}
	return res.Output
}

// Printf writes a host-formatted line directly to the server's console,
// serialized against concurrent Printf calls from other host goroutines
// (spec §5's host-callable "printf").
func (s *Server) Printf(format string, args ...interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Printf(format, args...)
}

// Open binds the configured transport kind and runs the server's startup
// file, if any (spec §6.2). Start calls Open automatically; exported so
// StartBackground can report a bind failure synchronously before handing
// the accept loop to a worker goroutine (spec §4.4: "socket setup failures
// abort the server start").
func (s *Server) Open() error {
	switch s.cfg.Kind {
	case pshelltransport.UDP:
		host, err := pshelltransport.ResolveHost(s.cfg.Host)
		if err != nil {
			return fmt.Errorf("pshellserver: %v", err)
		}
		addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
		conn, err := pshelltransport.ListenPacket(pshelltransport.UDP, addr)
		if err != nil {
			return fmt.Errorf("pshellserver: binding udp %s: %v", addr, err)
		}
		s.pconn = conn

	case pshelltransport.UnixDgram:
		path := pshelltransport.UnixServerPath(s.cfg.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("pshellserver: %v", err)
		}
		os.Remove(path) // stale socket removal (spec §4.4)
		conn, err := pshelltransport.ListenPacket(pshelltransport.UnixDgram, path)
		if err != nil {
			return fmt.Errorf("pshellserver: binding unix %s: %v", path, err)
		}
		s.pconn = conn
		s.unixPath = path

	case pshelltransport.TCP:
		host, err := pshelltransport.ResolveHost(s.cfg.Host)
		if err != nil {
			return fmt.Errorf("pshellserver: %v", err)
		}
		addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
		ln, err := s.transport.Listen(pshelltransport.TCP, addr)
		if err != nil {
			return fmt.Errorf("pshellserver: listening tcp %s: %v", addr, err)
		}
		s.listener = ln

	case pshelltransport.Local:
		// No bind: the local loop reads the process's own stdin/stdout.

	default:
		return fmt.Errorf("pshellserver: unrecognized server kind %v", s.cfg.Kind)
	}

	return s.loadStartup()
}

func (s *Server) loadStartup() error {
	path, ok := pshellconf.StartupFile(s.cfg.Name)
	if !ok {
		return nil
	}
	lines, err := pshellconf.ReadCommandLines(path)
	if err != nil {
		return fmt.Errorf("pshellserver: reading startup file %s: %v", path, err)
	}
	for _, line := range lines {
		pshellcli.Dispatch(s.Registry, line)
	}
	return nil
}

// Start opens the server (if not already open) and runs its accept/dispatch
// loop on the calling goroutine -- BLOCKING mode (spec §4.4, §5). It
// returns when the loop ends (Stop was called, or the local session ran
// "quit"). A TCP session's "quit" ends only that session; the loop then
// accepts the next connection.
func (s *Server) Start() error {
	if err := s.Open(); err != nil {
		return err
	}
	return s.serve()
}

// StartBackground opens the server synchronously (so a bind failure
// surfaces to the caller immediately) and then runs the accept/dispatch
// loop on a dedicated goroutine -- BACKGROUND mode (spec §4.4, §5).
func (s *Server) StartBackground() error {
	if err := s.Open(); err != nil {
		return err
	}
	go s.serve()
	return nil
}

func (s *Server) serve() error {
	switch s.cfg.Kind {
	case pshelltransport.UDP, pshelltransport.UnixDgram:
		return s.runDatagram()
	case pshelltransport.TCP:
		return s.runTCP()
	case pshelltransport.Local:
		return s.runLocal()
	default:
		return fmt.Errorf("pshellserver: unrecognized server kind %v", s.cfg.Kind)
	}
}

// Addr returns the bound local address, valid after Open/Start returns
// successfully. Useful for tests that bind to port 0 and need the OS-chosen
// port.
func (s *Server) Addr() net.Addr {
	if s.pconn != nil {
		return s.pconn.LocalAddr()
	}
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

func (s *Server) stopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Stop closes the server's transport resources and unlinks its Unix socket,
// if any (spec §5: "filesystem artifacts... must be unlinked on clean
// shutdown"). Safe to call more than once or concurrently with Start.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.pconn != nil {
			s.pconn.Close()
		}
		s.transport.Shutdown()
		if s.unixPath != "" {
			os.Remove(s.unixPath)
		}
	})
	return nil
}

func completions(r *pshellcli.Registry, prefix string) []string {
	lower := strings.ToLower(prefix)
	var out []string
	for _, name := range r.CompletionNames() {
		if strings.HasPrefix(strings.ToLower(name), lower) {
			out = append(out, name)
		}
	}
	return out
}

// crlf translates outbound newlines to CR/LF for a telnet-style stream
// client (spec §4.4).
func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// runTCP accepts one session at a time -- "a new accept is not serviced
// until the current session ends" (spec §4.4) -- by design: the loop body
// blocks on pshellterm.RunTCP before calling Accept again.
func (s *Server) runTCP() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopping() {
				return nil
			}
			return fmt.Errorf("pshellserver: tcp accept: %v", err)
		}

		atomic.StoreInt32(&s.quitRequested, 0)

		sess := &pshellterm.Session{
			Banner:   s.cfg.Banner,
			Prompt:   func() string { return s.cfg.Prompt },
			Complete: func(prefix string) []string { return completions(s.Registry, prefix) },
			Dispatch: func(line string) string {
				s.acquireDispatch()
				defer s.releaseDispatch()
				return crlf(pshellcli.Dispatch(s.Registry, line).Output)
			},
			Quit:        func() bool { return atomic.LoadInt32(&s.quitRequested) != 0 },
			IdleTimeout: s.cfg.IdleTimeout,
		}

		pshellterm.RunTCP(sess, conn, s.log)

		if s.stopping() {
			return nil
		}
	}
}

// runLocal drives the in-process interactive loop over the host process's
// own stdin/stdout (spec §4.4).
func (s *Server) runLocal() error {
	atomic.StoreInt32(&s.quitRequested, 0)

	sess := &pshellterm.Session{
		Banner:   s.cfg.Banner,
		Prompt:   func() string { return s.cfg.Prompt },
		Complete: func(prefix string) []string { return completions(s.Registry, prefix) },
		Dispatch: func(line string) string {
			s.acquireDispatch()
			defer s.releaseDispatch()
			return pshellcli.Dispatch(s.Registry, line).Output
		},
		Quit: func() bool { return atomic.LoadInt32(&s.quitRequested) != 0 },
	}

	pshellterm.RunLocal(sess, os.Stdout, s.log)
	return nil
}

// runDatagram is the UDP/Unix-datagram request/reply loop (spec §4.4).
func (s *Server) runDatagram() error {
	recvBuf := make([]byte, 65536)

	for {
		n, addr, err := s.pconn.ReadFrom(recvBuf)
		if err != nil {
			if s.stopping() {
				return nil
			}
			s.logf("pshellserver: recv: %v", err)
			continue
		}

		frame, err := pshellwire.Decode(recvBuf[:n])
		if err != nil {
			s.logf("pshellserver: decode from %v: %v", addr, err)
			continue
		}

		s.handleDatagramFrame(frame, addr)
	}
}

func (s *Server) handleDatagramFrame(f *pshellwire.Frame, addr net.Addr) {
	switch f.MsgType {
	case pshellwire.QueryVersion:
		s.replyMeta(f, addr, []byte(strconv.Itoa(pshellwire.Version)))
	case pshellwire.QueryPayloadSize:
		s.replyMeta(f, addr, []byte(strconv.Itoa(cap(s.buf.buf))))
	case pshellwire.QueryName:
		s.replyMeta(f, addr, []byte(s.cfg.Name))
	case pshellwire.QueryTitle:
		s.replyMeta(f, addr, []byte(s.cfg.Title))
	case pshellwire.QueryBanner:
		s.replyMeta(f, addr, []byte(s.cfg.Banner))
	case pshellwire.QueryPrompt:
		s.replyMeta(f, addr, []byte(s.cfg.Prompt))
	case pshellwire.QueryCommands1:
		s.replyMeta(f, addr, []byte(s.Registry.HelpText()))
	case pshellwire.QueryCommands2:
		s.replyMeta(f, addr, []byte(s.Registry.CommandsDelimited(commandsDelimiter)))
	case pshellwire.UserCommand, pshellwire.ControlCommand:
		s.dispatchDatagram(f, addr)
	default:
		s.logf("pshellserver: unexpected msgType %d from %v", f.MsgType, addr)
	}
}

// replyMeta answers one of the meta-queries with payload, echoing the
// request's msgType and seqNum (spec §4.4; the numeric overlap with
// control-reply codes is resolved by the client knowing it sent a query,
// never a CONTROL_COMMAND -- spec §9 Open Questions).
func (s *Server) replyMeta(f *pshellwire.Frame, addr net.Addr, payload []byte) {
	if !f.RespNeeded {
		return
	}
	reply := pshellwire.Encode(f.MsgType, false, f.DataNeeded, f.SeqNum, payload)
	if _, err := s.pconn.WriteTo(reply, addr); err != nil {
		s.logf("pshellserver: meta reply to %v: %v", addr, err)
	}
}

// dispatchDatagram runs one USER_COMMAND or CONTROL_COMMAND request to
// completion: tokenize, find, validate, invoke, reply (spec §4.4, §4.5).
func (s *Server) dispatchDatagram(f *pshellwire.Frame, addr net.Addr) {
	isControl := f.MsgType == pshellwire.ControlCommand
	line := string(f.Payload)

	s.acquireDispatch()
	defer s.releaseDispatch()

	// Per spec §4.4: "payload is dropped when the inbound dataNeeded=0
	// and the server is executing a control command" -- suppress both
	// intermediate flushes and the final payload in that case.
	suppressed := isControl && !f.DataNeeded

	var out io.Writer = io.Discard
	if !suppressed {
		s.buf.reset(isControl)
		s.buf.flush = func(payload []byte) error {
			frame := pshellwire.Encode(pshellwire.CommandComplete, false, true, f.SeqNum, payload)
			_, err := s.pconn.WriteTo(frame, addr)
			return err
		}
		out = s.buf
	}

	res := pshellcli.DispatchTo(s.Registry, line, out)
	if res.Output != "" && !suppressed {
		out.Write([]byte(res.Output))
	}

	replyMsgType := pshellwire.CommandComplete
	if isControl {
		switch {
		case res.NotFound, res.Ambiguous:
			replyMsgType = pshellwire.CommandNotFound
		case res.BadArgCount:
			replyMsgType = pshellwire.CommandInvalidArgCnt
		default:
			replyMsgType = pshellwire.CommandSuccess
		}
	}

	if !f.RespNeeded {
		return
	}

	var payload []byte
	if !suppressed {
		if grew, newSize := s.buf.Grew(); grew {
			update := pshellwire.Encode(pshellwire.UpdatePayloadSize, false, true, f.SeqNum, []byte(strconv.Itoa(newSize)))
			if _, err := s.pconn.WriteTo(update, addr); err != nil {
				s.logf("pshellserver: update-payload-size to %v: %v", addr, err)
			}
		}
		payload = s.buf.Bytes()
	}

	reply := pshellwire.Encode(replyMsgType, false, f.DataNeeded, f.SeqNum, payload)
	if _, err := s.pconn.WriteTo(reply, addr); err != nil {
		s.logf("pshellserver: reply to %v: %v", addr, err)
	}
}
