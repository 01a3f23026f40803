package pshellterm

import (
	"bufio"
	"errors"
	"strings"
)

// Key bytes recognized by the line editor (spec §4.4). Arrow keys and Home/
// End/Delete arrive as three-byte ANSI escape sequences (ESC '[' <code>);
// everything else is a single control byte.
const (
	keyBackspace1 = 0x08
	keyBackspace2 = 0x7f
	keyTab        = '\t'
	keyEnterCR    = '\r'
	keyEnterLF    = '\n'
	keyCtrlA      = 0x01 // home
	keyCtrlB      = 0x02 // cursor left
	keyCtrlC      = 0x03 // abort line
	keyCtrlD      = 0x04 // EOF on an empty line
	keyCtrlE      = 0x05 // end
	keyCtrlF      = 0x06 // cursor right
	keyCtrlK      = 0x0b // kill to end of line
	keyCtrlL      = 0x0c // redraw line
	keyCtrlN      = 0x0e // next history entry
	keyCtrlP      = 0x10 // previous history entry
	keyCtrlU      = 0x15 // kill whole line
	keyCtrlW      = 0x17 // kill previous word
	keyEsc        = 0x1b
	keyBell       = 0x07
)

// tabColumns is the assumed terminal width used to lay out a TAB-completion
// grid; the TCP transport has no way to query the remote terminal's actual
// width.
const tabColumns = 80

// ErrAbort is returned by (*lineEditor).readLine when the client sends
// Ctrl-C or Ctrl-D on an empty line.
var ErrAbort = errors.New("pshellterm: line aborted")

// ErrLineTooLong names the line-capacity condition. readLine does not return
// it: a byte that would exceed LineCapacity is discarded and a bell is
// written back.
var ErrLineTooLong = errors.New("pshellterm: line exceeds capacity")

// history is a fixed-capacity ring buffer of previously submitted lines.
type history struct {
	lines []string
	pos   int // cursor into lines while browsing with up/down; len(lines) means "not browsing"
}

func newHistory() *history {
	return &history{}
}

func (h *history) add(line string) {
	if line == "" {
		return
	}
	h.lines = append(h.lines, line)
	if len(h.lines) > HistoryCapacity {
		h.lines = h.lines[len(h.lines)-HistoryCapacity:]
	}
	h.pos = len(h.lines)
}

func (h *history) up() (string, bool) {
	if h.pos == 0 {
		return "", false
	}
	h.pos--
	return h.lines[h.pos], true
}

func (h *history) down() (string, bool) {
	if h.pos >= len(h.lines) {
		return "", false
	}
	h.pos++
	if h.pos == len(h.lines) {
		return "", true
	}
	return h.lines[h.pos], true
}

// lineEditor is a byte-at-a-time VT100 line editor for connections with no
// underlying tty (spec §4.4). liner (used by RunLocal) assumes it owns the
// process's own controlling terminal and cannot drive a raw net.Conn, so the
// TCP transport gets its own minimal editor instead.
type lineEditor struct {
	r *bufio.Reader
	w writeFlusher

	buf    []rune
	cursor int
	hist   *history

	prompt        string
	lastTabPrefix string // non-empty when the previous key was an ambiguous TAB
}

type writeFlusher interface {
	WriteString(s string) (int, error)
	WriteByte(c byte) error
	Flush() error
}

func newLineEditor(r *bufio.Reader, w writeFlusher, hist *history) *lineEditor {
	return &lineEditor{r: r, w: w, hist: hist}
}

// readLine echoes input back to the client, interpreting the key table
// above, and returns the finished line once Enter is pressed.
func (e *lineEditor) readLine(prompt string, complete func(string) []string) (string, error) {
	e.buf = e.buf[:0]
	e.cursor = 0
	e.prompt = prompt
	e.lastTabPrefix = ""

	e.w.WriteString(prompt)
	e.w.Flush()

	for {
		b, err := e.r.ReadByte()
		if err != nil {
			return "", err
		}

		if b != keyTab {
			e.lastTabPrefix = ""
		}

		switch {
		case b == keyEnterCR || b == keyEnterLF:
			// Swallow a following LF that completes a CRLF pair.
			if b == keyEnterCR {
				if next, err := e.r.Peek(1); err == nil && len(next) == 1 && next[0] == keyEnterLF {
					e.r.ReadByte()
				}
			}
			e.w.WriteString("\r\n")
			e.w.Flush()
			line := string(e.buf)
			e.hist.add(line)
			return line, nil

		case b == keyCtrlC:
			e.w.WriteString("\r\n")
			e.w.Flush()
			return "", ErrAbort

		case b == keyCtrlD:
			if len(e.buf) == 0 {
				e.w.WriteString("\r\n")
				e.w.Flush()
				return "", ErrAbort
			}

		case b == keyBackspace1 || b == keyBackspace2:
			e.deleteBefore()

		case b == keyCtrlA:
			e.moveTo(0)
		case b == keyCtrlE:
			e.moveTo(len(e.buf))
		case b == keyCtrlB:
			e.moveTo(e.cursor - 1)
		case b == keyCtrlF:
			e.moveTo(e.cursor + 1)
		case b == keyCtrlU:
			e.killAll()
		case b == keyCtrlK:
			e.killToEnd()
		case b == keyCtrlW:
			e.killWordBefore()
		case b == keyCtrlP:
			if line, ok := e.hist.up(); ok {
				e.replace(line)
			}
		case b == keyCtrlN:
			if line, ok := e.hist.down(); ok {
				e.replace(line)
			}
		case b == keyCtrlL:
			e.redrawPrompt()

		case b == keyTab:
			if complete != nil {
				e.tabComplete(complete)
			}

		case b == keyEsc:
			if err := e.handleEscape(); err != nil {
				return "", err
			}

		default:
			if b < 0x20 {
				continue // unrecognized control byte
			}
			e.insert(rune(b))
		}
	}
}

// handleEscape consumes a "[" plus one trailing code byte, the shape every
// arrow/Home/End/Delete sequence takes from a VT100-compatible client.
func (e *lineEditor) handleEscape() error {
	b1, err := e.r.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '[' {
		return nil
	}
	b2, err := e.r.ReadByte()
	if err != nil {
		return err
	}

	switch b2 {
	case 'A': // up
		if line, ok := e.hist.up(); ok {
			e.replace(line)
		}
	case 'B': // down
		if line, ok := e.hist.down(); ok {
			e.replace(line)
		}
	case 'C': // right
		e.moveTo(e.cursor + 1)
	case 'D': // left
		e.moveTo(e.cursor - 1)
	case '3': // delete: "ESC [ 3 ~"
		if b3, err := e.r.ReadByte(); err == nil && b3 == '~' {
			e.deleteAt()
		}
	}
	return nil
}

func (e *lineEditor) insert(r rune) {
	if len(e.buf) >= LineCapacity {
		e.w.WriteByte(keyBell)
		e.w.Flush()
		return
	}

	e.buf = append(e.buf, 0)
	copy(e.buf[e.cursor+1:], e.buf[e.cursor:])
	e.buf[e.cursor] = r
	e.cursor++

	e.redrawTail(e.cursor - 1)
}

func (e *lineEditor) deleteBefore() {
	if e.cursor == 0 {
		return
	}
	e.cursor--
	e.buf = append(e.buf[:e.cursor], e.buf[e.cursor+1:]...)
	e.redrawTail(e.cursor)
	e.w.WriteString(" \b") // erase the trailing character left over on screen
	e.w.Flush()
}

func (e *lineEditor) deleteAt() {
	if e.cursor >= len(e.buf) {
		return
	}
	e.buf = append(e.buf[:e.cursor], e.buf[e.cursor+1:]...)
	e.redrawTail(e.cursor)
	e.w.WriteString(" \b")
	e.w.Flush()
}

func (e *lineEditor) killAll() {
	e.moveTo(0)
	e.buf = e.buf[:0]
	e.redrawTail(0)
}

func (e *lineEditor) killToEnd() {
	e.buf = e.buf[:e.cursor]
	e.redrawTail(e.cursor)
}

func (e *lineEditor) killWordBefore() {
	start := e.cursor
	for start > 0 && e.buf[start-1] == ' ' {
		start--
	}
	for start > 0 && e.buf[start-1] != ' ' {
		start--
	}
	e.buf = append(e.buf[:start], e.buf[e.cursor:]...)
	e.cursor = start
	e.redrawTail(e.cursor)
}

func (e *lineEditor) replace(line string) {
	e.buf = []rune(line)
	e.cursor = len(e.buf)
	e.redrawTail(0)
}

func (e *lineEditor) moveTo(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(e.buf) {
		pos = len(e.buf)
	}
	if pos == e.cursor {
		return
	}
	if pos < e.cursor {
		for i := 0; i < e.cursor-pos; i++ {
			e.w.WriteString("\b")
		}
	} else {
		e.w.WriteString(string(e.buf[e.cursor:pos]))
	}
	e.cursor = pos
	e.w.Flush()
}

// redrawTail repaints the buffer from from to the end of the line, clears
// any leftover trailing characters, and restores the cursor to its current
// logical position. from is the rune index the caller changed the buffer
// starting at.
func (e *lineEditor) redrawTail(from int) {
	tail := string(e.buf[from:])
	e.w.WriteString("\r")
	e.w.WriteString(tail)
	e.w.WriteString(" ") // guarantee at least one trailing blank to erase stale chars
	back := len(e.buf) - e.cursor + 1
	for i := 0; i < back; i++ {
		e.w.WriteString("\b")
	}
	e.w.Flush()
}

// tabComplete implements spec §4.4's TAB table entry: a unique match
// auto-inserts with a trailing space, no match rings the bell, and an empty
// prefix or a repeated TAB against the same ambiguous prefix lists every
// match in a grid (spec §8). A first TAB against a non-empty, ambiguous
// prefix just rings the bell, matching liner's TabPrints style of requiring
// a second press before listing.
func (e *lineEditor) tabComplete(complete func(string) []string) {
	prefix := string(e.buf[:e.cursor])
	matches := complete(prefix)

	switch len(matches) {
	case 0:
		e.w.WriteByte(keyBell)
		e.w.Flush()
	case 1:
		e.replace(matches[0] + " ")
	default:
		if prefix != "" && e.lastTabPrefix != prefix {
			e.w.WriteByte(keyBell)
			e.w.Flush()
			e.lastTabPrefix = prefix
			return
		}
		e.listMatches(matches)
	}
}

// listMatches prints matches in column-aligned rows below the current line,
// then redraws the prompt and buffer so editing can continue.
func (e *lineEditor) listMatches(matches []string) {
	widest := 0
	for _, m := range matches {
		if len(m) > widest {
			widest = len(m)
		}
	}
	colWidth := widest + 2
	perRow := tabColumns / colWidth
	if perRow < 1 {
		perRow = 1
	}

	e.w.WriteString("\r\n")
	for i, m := range matches {
		e.w.WriteString(m)
		if (i+1)%perRow == 0 || i == len(matches)-1 {
			e.w.WriteString("\r\n")
		} else {
			e.w.WriteString(strings.Repeat(" ", colWidth-len(m)))
		}
	}
	e.redrawPrompt()
}

// redrawPrompt reprints the prompt and current buffer, used by Ctrl-L and
// after a TAB-completion match listing.
func (e *lineEditor) redrawPrompt() {
	e.w.WriteString(e.prompt)
	e.w.WriteString(string(e.buf))
	for i := 0; i < len(e.buf)-e.cursor; i++ {
		e.w.WriteString("\b")
	}
	e.w.Flush()
}
