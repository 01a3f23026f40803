package pshellcli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
)

// ErrDispatchEnded is returned by every Context accessor once the dispatch
// that owns it has completed. The C library backs its tokenizer with
// storage that is freed at the end of dispatch and documents calling it
// afterward as an error that yields an empty token list; re-architected as
// an explicit per-call Context (see DESIGN NOTES: no global _tokenList),
// this is the Go equivalent -- a value that outlives its validity window
// and says so instead of reading freed memory.
var ErrDispatchEnded = errors.New("pshellcli: context used outside its dispatch")

// Context carries the tokenized argument vector and the reply sink for one
// command invocation. A Callback must not retain ctx past its own return.
type Context struct {
	args []string
	cmd  *Command
	out  io.Writer

	done int32 // atomic; 0 = active, 1 = ended

	wheelPos int
}

// NewContext constructs a Context for a dispatch. Intended for use by
// pshellserver; exported so Callback implementations can be unit tested
// without a running server.
func NewContext(args []string, cmd *Command, out io.Writer) *Context {
	return &Context{args: args, cmd: cmd, out: out}
}

// End marks the context invalid. Called by the dispatcher once the
// callback returns.
func (c *Context) End() {
	atomic.StoreInt32(&c.done, 1)
}

func (c *Context) active() bool {
	return atomic.LoadInt32(&c.done) == 0
}

// Command returns the matched registry entry.
func (c *Context) Command() *Command {
	return c.cmd
}

// NArgs returns the argument count, or an error if called outside dispatch.
func (c *Context) NArgs() (int, error) {
	if !c.active() {
		return 0, ErrDispatchEnded
	}
	return len(c.args), nil
}

// Args returns the full argument vector, or an error (and a nil slice)
// outside dispatch.
func (c *Context) Args() ([]string, error) {
	if !c.active() {
		return nil, ErrDispatchEnded
	}
	return c.args, nil
}

// Arg returns the i'th argument (0-indexed).
func (c *Context) Arg(i int) (string, error) {
	if !c.active() {
		return "", ErrDispatchEnded
	}
	if i < 0 || i >= len(c.args) {
		return "", fmt.Errorf("pshellcli: argument index %d out of range (have %d)", i, len(c.args))
	}
	return c.args[i], nil
}

// GetInt parses the i'th argument as a base-10 integer.
func (c *Context) GetInt(i int) (int64, error) {
	s, err := c.Arg(i)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

// GetHexInt parses the i'th argument as a hexadecimal integer. When
// requirePrefix is true, the argument must begin with "0x"/"0X".
func (c *Context) GetHexInt(i int, requirePrefix bool) (int64, error) {
	s, err := c.Arg(i)
	if err != nil {
		return 0, err
	}

	trimmed := s
	hasPrefix := strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
	if hasPrefix {
		trimmed = s[2:]
	} else if requirePrefix {
		return 0, fmt.Errorf("pshellcli: argument %q missing required 0x prefix", s)
	}

	return strconv.ParseInt(trimmed, 16, 64)
}

// GetFloat parses the i'th argument as a floating point value.
func (c *Context) GetFloat(i int) (float64, error) {
	s, err := c.Arg(i)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

// booleanWords maps recognized spellings to their boolean value (spec
// §4.3: "{true,yes,on}" and their negatives).
var booleanWords = map[string]bool{
	"true": true, "yes": true, "on": true,
	"false": false, "no": false, "off": false,
}

// GetBool parses the i'th argument as a boolean, recognizing
// true/yes/on and false/no/off (case-insensitive).
func (c *Context) GetBool(i int) (bool, error) {
	s, err := c.Arg(i)
	if err != nil {
		return false, err
	}

	b, ok := booleanWords[strings.ToLower(s)]
	if !ok {
		return false, fmt.Errorf("pshellcli: argument %q is not a recognized boolean", s)
	}
	return b, nil
}

// GetOption parses the i'th argument as either "-X<value>" or
// "<name>=<value>" and returns the option name and value.
func (c *Context) GetOption(i int) (name, value string, err error) {
	s, err := c.Arg(i)
	if err != nil {
		return "", "", err
	}

	if strings.HasPrefix(s, "-") && len(s) > 1 {
		return s[1:2], s[2:], nil
	}

	if idx := strings.IndexByte(s, '='); idx >= 0 {
		return s[:idx], s[idx+1:], nil
	}

	return "", "", fmt.Errorf("pshellcli: argument %q is not -X<value> or name=value", s)
}

// Printf writes formatted output to the reply sink. Multiple calls
// accumulate into the same reply payload; pshellserver is responsible for
// buffering and growth (spec §4.5).
func (c *Context) Printf(format string, args ...interface{}) (int, error) {
	if !c.active() {
		return 0, ErrDispatchEnded
	}
	return fmt.Fprintf(c.out, format, args...)
}

// wheelChars cycles a four-position progress spinner a long-running
// callback can drive without knowing how many iterations remain.
var wheelChars = [...]byte{'|', '/', '-', '\\'}

// Wheel advances and prints the next spinner frame, overwriting the
// previous one with a carriage return, preceded by an optional label
// (spec §5's host-callable "wheel" API).
func (c *Context) Wheel(label string) {
	if !c.active() {
		return
	}
	ch := wheelChars[c.wheelPos%len(wheelChars)]
	c.wheelPos++
	fmt.Fprintf(c.out, "\r%s%c", label, ch)
}

// March prints s with no trailing newline, letting a long-running callback
// append one token at a time to build up a progress line (spec §5's
// host-callable "march" API).
func (c *Context) March(s string) {
	if !c.active() {
		return
	}
	fmt.Fprint(c.out, s)
}

// flusher is implemented by pshellserver's replyBuffer, under every growth
// policy.
type flusher interface {
	Flush() error
}

// Flush sends whatever has been written so far as an intermediate reply
// frame immediately, instead of waiting for overflow or dispatch end (spec
// §4.5, §5's host-callable "flush" API). It is a no-op when the underlying
// writer does not implement Flush, e.g. the plain buffer Dispatch uses for
// TCP, local and RunCommand output, or a writer a unit test hands to ctx.
func (c *Context) Flush() error {
	if !c.active() {
		return ErrDispatchEnded
	}
	if f, ok := c.out.(flusher); ok {
		return f.Flush()
	}
	return nil
}
