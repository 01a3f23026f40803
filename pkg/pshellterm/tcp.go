package pshellterm

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/ziutek/telnet"

	"github.com/dgrid-labs/pshell/pkg/plog"
)

// bufWriter adapts *bufio.Writer to the writeFlusher interface the editor
// needs without exposing bufio directly to editor.go.
type bufWriter struct{ *bufio.Writer }

// RunTCP drives an interactive loop over an accepted TCP connection.
// Telnet option negotiation (IAC bytes) is stripped transparently by
// wrapping conn in a github.com/ziutek/telnet Conn; everything past that is
// the hand-rolled VT100 editor in editor.go, since liner has no way to
// drive a remote, non-tty byte stream (spec §4.4).
func RunTCP(sess *Session, conn net.Conn, log *plog.Logger) {
	defer conn.Close()

	tc := telnet.NewConn(conn)

	if sess.IdleTimeout > 0 {
		tc.SetDeadline(time.Now().Add(sess.IdleTimeout))
	}

	r := bufio.NewReader(tc)
	w := bufWriter{bufio.NewWriter(tc)}

	if sess.Banner != "" {
		w.WriteString(sess.Banner)
		w.WriteString("\r\n")
		w.Flush()
	}

	hist := newHistory()
	ed := newLineEditor(r, w, hist)

	for {
		if sess.IdleTimeout > 0 {
			tc.SetDeadline(time.Now().Add(sess.IdleTimeout))
		}

		prompt := ""
		if sess.Prompt != nil {
			prompt = sess.Prompt()
		}

		line, err := ed.readLine(prompt, sess.Complete)
		if errors.Is(err, ErrAbort) {
			continue
		}
		if err != nil {
			if err != io.EOF && log != nil {
				if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
					log.Error("pshellterm: tcp session: %v", err)
				}
			}
			return
		}

		if line == "" {
			continue
		}

		reply := sess.Dispatch(line)
		if reply != "" {
			w.WriteString(reply)
			w.Flush()
		}
		if sess.Quit != nil && sess.Quit() {
			return
		}
	}
}
