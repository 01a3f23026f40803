// Package pshellterm drives the interactive line-editing loop shared by
// PSHELL's local and TCP transports. Local sessions reuse github.com/peterh/
// liner the way pkg/miniclient does for its Attach method; TCP sessions have
// no local tty to hand liner, so they run a hand-rolled VT100/telnet byte
// editor instead (spec §4.4).
package pshellterm

import "time"

// HistoryCapacity and LineCapacity bound the TCP editor's history ring and
// maximum line length (spec §4.4).
const (
	HistoryCapacity = 256
	LineCapacity    = 180
)

// Session carries the behavior an interactive loop needs from its owning
// server: how to render a prompt, how to complete a partial command, and
// how to dispatch a finished line. Neither RunLocal nor RunTCP know
// anything about pshellcli or pshellserver directly, so a Server can reuse
// the same Session shape for both transports.
type Session struct {
	Banner string
	Prompt func() string

	// Complete returns every completion candidate matching prefix.
	Complete func(prefix string) []string

	// Dispatch runs one complete line and returns the text to print back to
	// the client (which may be empty).
	Dispatch func(line string) string

	// Quit, if non-nil, is checked after each Dispatch call; once it reports
	// true the loop prints Dispatch's return value (if any) and returns,
	// ending the session (spec §4.2: the native "quit" command). Dispatch
	// itself only returns the reply text, so the server sets a flag Quit can
	// read rather than overloading the return value.
	Quit func() bool

	// IdleTimeout, if non-zero, closes a TCP session whose current line is
	// not completed within that long (spec §4.4: "quiet connections are
	// reclaimed"). The deadline is reset before each line is read, not on
	// each keystroke, and no notice is sent before the connection closes.
	IdleTimeout time.Duration
}
