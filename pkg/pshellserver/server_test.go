package pshellserver

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dgrid-labs/pshell/pkg/pshellcli"
	"github.com/dgrid-labs/pshell/pkg/pshellcontrol"
	"github.com/dgrid-labs/pshell/pkg/pshelltransport"
	"github.com/dgrid-labs/pshell/pkg/pshellwire"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	cfg.Name = "test"
	cfg.Host = "127.0.0.1"

	s, err := New(cfg, pshellcli.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	go s.serve()
	t.Cleanup(func() { s.Stop() })
	return s
}

func udpClient(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestUserCommandEcho is scenario 1 of spec.md §8: echo's arguments come
// back joined by a space in a COMMAND_COMPLETE reply with the request's
// seqNum.
func TestUserCommandEcho(t *testing.T) {
	s := newTestServer(t, Config{Kind: pshelltransport.UDP})

	if err := s.AddCommand("echo", "echo arguments", "<text>...", 1, 8, true, func(ctx *pshellcli.Context) error {
		args, _ := ctx.Args()
		ctx.Printf("%s", strings.Join(args, " "))
		return nil
	}); err != nil {
		t.Fatalf("AddCommand: %v", err)
	}

	client := udpClient(t)
	serverAddr := s.Addr()

	req := pshellwire.Encode(pshellwire.UserCommand, true, true, 42, []byte("echo hello world"))
	if _, err := client.WriteTo(req, serverAddr); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := client.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}

	frame, err := pshellwire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if frame.MsgType != pshellwire.CommandComplete {
		t.Fatalf("MsgType = %v, want CommandComplete", frame.MsgType)
	}
	if frame.SeqNum != 42 {
		t.Fatalf("SeqNum = %d, want 42", frame.SeqNum)
	}
	if got := string(frame.Payload); got != "hello world" {
		t.Fatalf("Payload = %q, want %q", got, "hello world")
	}
}

// TestControlCommandNotFound is scenario 2 of spec.md §8.
func TestControlCommandNotFound(t *testing.T) {
	s := newTestServer(t, Config{Kind: pshelltransport.UDP})

	client := udpClient(t)

	req := pshellwire.Encode(pshellwire.ControlCommand, true, true, 7, []byte("doesnotexist"))
	if _, err := client.WriteTo(req, s.Addr()); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := client.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}

	frame, err := pshellwire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if frame.MsgType != pshellwire.CommandNotFound {
		t.Fatalf("MsgType = %v, want CommandNotFound", frame.MsgType)
	}
	if frame.SeqNum != 7 {
		t.Fatalf("SeqNum = %d, want 7", frame.SeqNum)
	}
}

// TestPayloadGrowthNotifiesControlClient is scenario 3 of spec.md §8: a
// 5000-byte reply from a 4096-byte initial buffer under ChunkGrow forces
// one UPDATE_PAYLOAD_SIZE("8192") frame before the final reply, and
// pshellcontrol.ControlClient must already handle that notification
// transparently.
func TestPayloadGrowthNotifiesControlClient(t *testing.T) {
	s := newTestServer(t, Config{
		Kind:               pshelltransport.UDP,
		InitialPayloadSize: 4096,
		ChunkSize:          4096,
		GrowPolicy:         ChunkGrow,
	})

	if err := s.AddCommand("big", "write a large reply", "", 0, 0, false, func(ctx *pshellcli.Context) error {
		ctx.Printf("%s", strings.Repeat("x", 5000))
		return nil
	}); err != nil {
		t.Fatalf("AddCommand: %v", err)
	}

	addr := s.Addr().(*net.UDPAddr)

	cc := pshellcontrol.New()
	sid, err := cc.ConnectServer("test", "127.0.0.1", addr.Port, 2000)
	if err != nil {
		t.Fatalf("ConnectServer: %v", err)
	}
	defer cc.DisconnectServer(sid)

	results := make([]byte, 8192)
	code, n, err := cc.SendCommand3(sid, results, "big")
	if err != nil {
		t.Fatalf("SendCommand3: %v", err)
	}
	if code != pshellcontrol.CommandSuccess {
		t.Fatalf("code = %v, want CommandSuccess", code)
	}
	if n != 5000 {
		t.Fatalf("n = %d, want 5000", n)
	}
}

// TestControlCommandDataNotNeededSuppressesPayload covers spec.md §4.4's
// short-circuit: dataNeeded=0 on a control command drops the reply payload
// even though the callback wrote output.
func TestControlCommandDataNotNeededSuppressesPayload(t *testing.T) {
	s := newTestServer(t, Config{Kind: pshelltransport.UDP})

	if err := s.AddCommand("noisy", "writes output", "", 0, 0, false, func(ctx *pshellcli.Context) error {
		ctx.Printf("should not reach the client")
		return nil
	}); err != nil {
		t.Fatalf("AddCommand: %v", err)
	}

	client := udpClient(t)

	req := pshellwire.Encode(pshellwire.ControlCommand, true, false, 1, []byte("noisy"))
	if _, err := client.WriteTo(req, s.Addr()); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := client.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}

	frame, err := pshellwire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.MsgType != pshellwire.CommandSuccess {
		t.Fatalf("MsgType = %v, want CommandSuccess", frame.MsgType)
	}
	if len(frame.Payload) != 0 {
		t.Fatalf("Payload = %q, want empty", frame.Payload)
	}
}

// TestRunCommandSilentOnNotFound covers spec.md §7: a host-initiated
// RunCommand for an unknown command is a silent no-op.
func TestRunCommandSilentOnNotFound(t *testing.T) {
	s := newTestServer(t, Config{Kind: pshelltransport.UDP})

	if got := s.RunCommand("doesnotexist"); got != "" {
		t.Fatalf("RunCommand = %q, want empty", got)
	}
}

// TestHelpNativeCommand covers spec.md §4.2: help with no arguments renders
// every registered command's description.
func TestHelpNativeCommand(t *testing.T) {
	s := newTestServer(t, Config{Kind: pshelltransport.UDP})

	if err := s.AddCommand("ping", "replies pong", "", 0, 0, false, func(ctx *pshellcli.Context) error {
		ctx.Printf("pong")
		return nil
	}); err != nil {
		t.Fatalf("AddCommand: %v", err)
	}

	out := s.RunCommand("help")
	if !strings.Contains(out, "ping") || !strings.Contains(out, "replies pong") {
		t.Fatalf("help output = %q, missing ping entry", out)
	}
}
