// Package pshellwire implements PSHELL's wire codec: a fixed 8-byte header
// followed by a variable-length ASCII payload. See spec §3 (Message Frame)
// and §4.1 (Wire Codec).
package pshellwire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed header length in bytes: msgType, respNeeded,
// dataNeeded, pad, seqNum (4 bytes, big-endian).
const HeaderSize = 8

// MsgType is the single-byte message kind. The numeric space is shared
// between request codes, control-reply codes, and query codes; which
// interpretation applies is determined by the sender's role (server vs.
// client), never by the wire itself -- see spec §4.1 and §9 Open Questions.
type MsgType uint8

const (
	// Control-command reply codes (server -> client, in response to
	// CONTROL_COMMAND).
	CommandSuccess       MsgType = 0
	CommandNotFound      MsgType = 1
	CommandInvalidArgCnt MsgType = 2

	// Query request codes (client -> server).
	QueryVersion     MsgType = 1
	QueryPayloadSize MsgType = 2
	QueryName        MsgType = 3
	QueryCommands1   MsgType = 4
	QueryCommands2   MsgType = 5

	// Notify (server -> client).
	UpdatePayloadSize MsgType = 6

	// User-command request/reply.
	UserCommand     MsgType = 7
	CommandComplete MsgType = 8

	QueryBanner MsgType = 9
	QueryTitle  MsgType = 10
	QueryPrompt MsgType = 11

	ControlCommand MsgType = 12
)

// Version is the wire protocol version.
const Version = 1

// Frame is a decoded message: header fields plus payload.
type Frame struct {
	MsgType    MsgType
	RespNeeded bool
	DataNeeded bool
	SeqNum     uint32
	Payload    []byte
}

// ErrShortFrame is returned by Decode when buf is shorter than HeaderSize.
var ErrShortFrame = fmt.Errorf("pshellwire: frame shorter than %d-byte header", HeaderSize)

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Encode serializes a frame into a newly allocated byte slice. It never
// allocates more than HeaderSize+len(payload) bytes.
func Encode(msgType MsgType, respNeeded, dataNeeded bool, seqNum uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))

	buf[0] = byte(msgType)
	buf[1] = boolByte(respNeeded)
	buf[2] = boolByte(dataNeeded)
	buf[3] = 0 // pad
	binary.BigEndian.PutUint32(buf[4:8], seqNum)

	copy(buf[HeaderSize:], payload)

	return buf
}

// EncodeFrame is a convenience wrapper around Encode taking a *Frame.
func EncodeFrame(f *Frame) []byte {
	return Encode(f.MsgType, f.RespNeeded, f.DataNeeded, f.SeqNum, f.Payload)
}

// Decode parses buf into a Frame. It rejects (returns an error, never
// panics) buffers shorter than the header. The returned Frame's Payload
// aliases buf -- callers that retain the Frame past the lifetime of a reused
// receive buffer must copy it.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < HeaderSize {
		return nil, ErrShortFrame
	}

	f := &Frame{
		MsgType:    MsgType(buf[0]),
		RespNeeded: buf[1] != 0,
		DataNeeded: buf[2] != 0,
		SeqNum:     binary.BigEndian.Uint32(buf[4:8]),
	}

	if len(buf) > HeaderSize {
		f.Payload = buf[HeaderSize:]
	}

	return f, nil
}

// String renders a human-readable summary, used in diagnostics.
func (f *Frame) String() string {
	return fmt.Sprintf("msgType=%d respNeeded=%v dataNeeded=%v seqNum=%d payloadLen=%d",
		f.MsgType, f.RespNeeded, f.DataNeeded, f.SeqNum, len(f.Payload))
}
