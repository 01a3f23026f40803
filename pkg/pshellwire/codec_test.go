package pshellwire_test

import (
	"bytes"
	"testing"

	"github.com/dgrid-labs/pshell/pkg/pshellwire"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name       string
		msgType    pshellwire.MsgType
		respNeeded bool
		dataNeeded bool
		seqNum     uint32
		payload    []byte
	}{
		{"empty payload", pshellwire.UserCommand, true, true, 42, nil},
		{"with payload", pshellwire.CommandComplete, false, true, 7, []byte("hello world")},
		{"max seq", pshellwire.ControlCommand, true, false, 0xFFFFFFFF, []byte("x")},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := pshellwire.Encode(c.msgType, c.respNeeded, c.dataNeeded, c.seqNum, c.payload)

			f, err := pshellwire.Decode(buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			if f.MsgType != c.msgType {
				t.Errorf("msgType = %v, want %v", f.MsgType, c.msgType)
			}
			if f.RespNeeded != c.respNeeded {
				t.Errorf("respNeeded = %v, want %v", f.RespNeeded, c.respNeeded)
			}
			if f.DataNeeded != c.dataNeeded {
				t.Errorf("dataNeeded = %v, want %v", f.DataNeeded, c.dataNeeded)
			}
			if f.SeqNum != c.seqNum {
				t.Errorf("seqNum = %v, want %v", f.SeqNum, c.seqNum)
			}
			if !bytes.Equal(f.Payload, c.payload) {
				t.Errorf("payload = %q, want %q", f.Payload, c.payload)
			}

			// Encode -> decode -> encode must be byte-identical.
			buf2 := pshellwire.EncodeFrame(f)
			if !bytes.Equal(buf, buf2) {
				t.Errorf("re-encode mismatch: %v != %v", buf, buf2)
			}
		})
	}
}

func TestDecodeShortFrame(t *testing.T) {
	for n := 0; n < pshellwire.HeaderSize; n++ {
		if _, err := pshellwire.Decode(make([]byte, n)); err != pshellwire.ErrShortFrame {
			t.Errorf("len %d: err = %v, want ErrShortFrame", n, err)
		}
	}
}

func TestDecodeEmptyPayloadStillValid(t *testing.T) {
	buf := pshellwire.Encode(pshellwire.UserCommand, true, true, 1, nil)
	f, err := pshellwire.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(f.Payload) != 0 {
		t.Errorf("payload = %q, want empty", f.Payload)
	}
}
