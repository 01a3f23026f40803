package pshellterm

import (
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"

	"github.com/dgrid-labs/pshell/pkg/plog"
)

// RunLocal drives an interactive command loop against the process's own
// controlling terminal, grounded on pkg/miniclient.Conn.Attach: a
// liner.NewLiner with Ctrl-C aborting the current line instead of killing
// the process, tab completion wired to Session.Complete, and history
// appended after each accepted line.
func RunLocal(sess *Session, out io.Writer, log *plog.Logger) {
	if sess.Banner != "" {
		fmt.Fprintln(out, sess.Banner)
	}

	input := liner.NewLiner()
	defer input.Close()

	input.SetCtrlCAborts(true)
	input.SetTabCompletionStyle(liner.TabPrints)
	if sess.Complete != nil {
		input.SetCompleter(func(line string) []string { return sess.Complete(line) })
	}

	for {
		prompt := ""
		if sess.Prompt != nil {
			prompt = sess.Prompt()
		}

		line, err := input.Prompt(prompt)
		if err == liner.ErrPromptAborted {
			continue
		} else if err == io.EOF {
			fmt.Fprintln(out)
			return
		} else if err != nil {
			if log != nil {
				log.Error("pshellterm: local prompt: %v", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		input.AppendHistory(line)

		reply := sess.Dispatch(line)
		if reply != "" {
			fmt.Fprint(out, reply)
		}
		if sess.Quit != nil && sess.Quit() {
			return
		}
	}
}
