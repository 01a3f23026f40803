package pshellcontrol_test

import (
	"net"
	"testing"
	"time"

	"github.com/dgrid-labs/pshell/pkg/pshellcontrol"
	"github.com/dgrid-labs/pshell/pkg/pshellwire"
)

func TestSIDReuseAfterDisconnect(t *testing.T) {
	c := pshellcontrol.New()

	sid1, err := c.ConnectServer("s1", "127.0.0.1", 59999, 1000)
	if err != nil {
		t.Fatalf("ConnectServer: %v", err)
	}

	if err := c.DisconnectServer(sid1); err != nil {
		t.Fatalf("DisconnectServer: %v", err)
	}

	sid2, err := c.ConnectServer("s1", "127.0.0.1", 59999, 1000)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if sid2 != sid1 {
		t.Errorf("sid2 = %d, want reused sid %d", sid2, sid1)
	}

	c.DisconnectServer(sid2)
}

func TestAddMulticastIdempotent(t *testing.T) {
	ln, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer ln.Close()

	received := make(chan struct{}, 10)
	go func() {
		buf := make([]byte, 4096)
		for {
			_, _, err := ln.ReadFrom(buf)
			if err != nil {
				return
			}
			received <- struct{}{}
		}
	}()

	addr := ln.LocalAddr().(*net.UDPAddr)

	c := pshellcontrol.New()
	sid, err := c.ConnectServer("fake", "127.0.0.1", addr.Port, 0)
	if err != nil {
		t.Fatalf("ConnectServer: %v", err)
	}
	defer c.DisconnectServer(sid)

	if err := c.AddMulticast(sid, "foo"); err != nil {
		t.Fatalf("AddMulticast: %v", err)
	}
	if err := c.AddMulticast(sid, "foo"); err != nil {
		t.Fatalf("AddMulticast (again): %v", err)
	}

	if err := c.SendMulticast("foo bar"); err != nil {
		t.Fatalf("SendMulticast: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for multicast datagram")
	}

	select {
	case <-received:
		t.Fatal("idempotent AddMulticast should not cause a duplicate delivery")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStaleReplyDiscarded(t *testing.T) {
	ln, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer ln.Close()

	go func() {
		buf := make([]byte, 4096)
		n, from, err := ln.ReadFrom(buf)
		if err != nil {
			return
		}
		f, err := pshellwire.Decode(buf[:n])
		if err != nil {
			return
		}

		// A stale reply left over from an earlier, already-timed-out call
		// (lower seqNum) must be discarded in favor of the matching one.
		stale := pshellwire.Encode(pshellwire.CommandNotFound, false, false, f.SeqNum-1, nil)
		ln.WriteTo(stale, from)

		time.Sleep(20 * time.Millisecond)

		good := pshellwire.Encode(pshellwire.CommandSuccess, false, false, f.SeqNum, []byte("ok"))
		ln.WriteTo(good, from)
	}()

	addr := ln.LocalAddr().(*net.UDPAddr)

	c := pshellcontrol.New()
	sid, err := c.ConnectServer("fake", "127.0.0.1", addr.Port, 2000)
	if err != nil {
		t.Fatalf("ConnectServer: %v", err)
	}
	defer c.DisconnectServer(sid)

	code, err := c.SendCommand1(sid, "ping")
	if err != nil {
		t.Fatalf("SendCommand1: %v", err)
	}
	if code != pshellcontrol.CommandSuccess {
		t.Errorf("code = %v, want CommandSuccess (stale reply should have been skipped)", code)
	}
}

func TestSendCommand3CopiesAndTruncates(t *testing.T) {
	ln, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer ln.Close()

	go func() {
		buf := make([]byte, 4096)
		n, from, err := ln.ReadFrom(buf)
		if err != nil {
			return
		}
		f, err := pshellwire.Decode(buf[:n])
		if err != nil {
			return
		}
		reply := pshellwire.Encode(pshellwire.CommandComplete, false, true, f.SeqNum, []byte("hello world"))
		ln.WriteTo(reply, from)
	}()

	addr := ln.LocalAddr().(*net.UDPAddr)

	c := pshellcontrol.New()
	sid, err := c.ConnectServer("fake", "127.0.0.1", addr.Port, 2000)
	if err != nil {
		t.Fatalf("ConnectServer: %v", err)
	}
	defer c.DisconnectServer(sid)

	results := make([]byte, 5)
	_, n, err := c.SendCommand3(sid, results, "echo", "hello", "world")
	if err != nil {
		t.Fatalf("SendCommand3: %v", err)
	}
	if n != 5 {
		t.Errorf("n = %d, want 5", n)
	}
	// Truncation NUL-terminates in place: the last byte becomes 0.
	if string(results) != "hell\x00" {
		t.Errorf("results = %q, want %q", results, "hell\x00")
	}
}

func TestUpdatePayloadSizeGrowsClientBuffer(t *testing.T) {
	ln, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer ln.Close()

	go func() {
		buf := make([]byte, 4096)
		n, from, err := ln.ReadFrom(buf)
		if err != nil {
			return
		}
		f, err := pshellwire.Decode(buf[:n])
		if err != nil {
			return
		}

		update := pshellwire.Encode(pshellwire.UpdatePayloadSize, false, false, f.SeqNum, []byte("8192"))
		ln.WriteTo(update, from)

		time.Sleep(10 * time.Millisecond)

		big := make([]byte, 5000)
		for i := range big {
			big[i] = 'x'
		}
		final := pshellwire.Encode(pshellwire.CommandComplete, false, true, f.SeqNum, big)
		ln.WriteTo(final, from)
	}()

	addr := ln.LocalAddr().(*net.UDPAddr)

	c := pshellcontrol.New()
	sid, err := c.ConnectServer("fake", "127.0.0.1", addr.Port, 2000)
	if err != nil {
		t.Fatalf("ConnectServer: %v", err)
	}
	defer c.DisconnectServer(sid)

	results := make([]byte, 5000)
	_, n, err := c.SendCommand3(sid, results, "bigcmd")
	if err != nil {
		t.Fatalf("SendCommand3: %v", err)
	}
	if n != 5000 {
		t.Errorf("n = %d, want 5000", n)
	}
}
