package tracefilter

import (
	"bytes"
	"runtime"
	"strconv"
)

// callerThreadID identifies "the caller's OS thread" for the thread filter
// axis (spec §3, Thread Filter). Go goroutines are not pinned to OS threads,
// so there is no faithful equivalent of the C library's pthread id; this
// repo substitutes the calling goroutine's id, captured the same way the
// runtime itself prints it in a stack trace. This is a deliberate
// substitution, not an oversight: goroutine identity is the closest stable "which flow of
// control is tracing right now" concept Go offers.
func callerThreadID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Stack trace starts with "goroutine 123 [running]:"
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(b[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
