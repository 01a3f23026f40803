package pshellcli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DispatchResult carries the outcome of a single Dispatch call -- enough
// for pshellserver to pick the right reply msgType (spec §4.4).
type DispatchResult struct {
	Output      string
	NotFound    bool
	Ambiguous   bool
	BadArgCount bool
	ShowedUsage bool
	Err         error
}

// Dispatch tokenizes line, resolves the command, validates its argument
// count, and invokes the callback, buffering its output. It never panics:
// any error from Find, arg-count validation, or the callback itself is
// reported in the result rather than propagated, matching the "runCommand
// silent no-op" / per-request error policy of spec §7.
func Dispatch(r *Registry, line string) DispatchResult {
	var buf bytes.Buffer
	res := DispatchTo(r, line, &buf)
	res.Output = buf.String() + res.Output
	return res
}

// hasHelpToken reports whether args asks for usage rather than a normal
// invocation -- "?", "-h", "-help", "--help" anywhere in the argument vector
// (spec §4.4), mirroring the tokens Registry.Find recognizes in the command
// position itself.
func hasHelpToken(args []string) bool {
	for _, a := range args {
		switch a {
		case "?", "-h", "-help", "--help":
			return true
		}
	}
	return false
}

// DispatchTo behaves like Dispatch but writes the callback's reply directly
// to out instead of an internal buffer, so pshellserver can hand it a
// growable replyBuffer and observe the write as it happens (spec §4.5).
// The early-exit cases (empty line, not-found, ambiguous, bad arg count)
// still return their diagnostic text through DispatchResult.Output rather
// than writing to out, since no Context -- and so no reply frame -- exists
// yet at that point.
func DispatchTo(r *Registry, line string, out io.Writer) DispatchResult {
	argv := Tokenize(line, " \t")
	if len(argv) == 0 {
		return DispatchResult{}
	}

	cmd, err := r.Find(argv[0])
	if err != nil {
		if errors.Is(err, ErrAmbiguous) {
			return DispatchResult{
				Ambiguous: true,
				Err:       err,
				Output:    fmt.Sprintf("PSHELL_ERROR: Ambiguous command abbreviation: '%s'\n", argv[0]),
			}
		}
		return DispatchResult{
			NotFound: true,
			Err:      err,
			Output:   fmt.Sprintf("PSHELL_ERROR: Command: '%s' not found\n", argv[0]),
		}
	}

	args := argv[1:]
	if cmd.ShowUsage && hasHelpToken(args) {
		return DispatchResult{
			ShowedUsage: true,
			Output:      r.UsageText(cmd) + "\n",
		}
	}

	if len(args) < cmd.MinArgs || len(args) > cmd.MaxArgs {
		res := DispatchResult{BadArgCount: true}
		if cmd.ShowUsage {
			res.Output = r.UsageText(cmd) + "\n"
			res.ShowedUsage = true
		}
		return res
	}

	ctx := NewContext(args, cmd, out)
	callErr := cmd.callback(ctx)
	ctx.End()

	res := DispatchResult{}
	if callErr != nil {
		res.Err = callErr
		res.Output = fmt.Sprintf("PSHELL_ERROR: %v\n", callErr)
	}
	return res
}
