package tracefilter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dgrid-labs/pshell/pkg/pshellcli"
)

// registerTraceCommand wires the "trace" shell command into e.Registry
// (spec §4.7: "the trace shell command configures the engine").
func (e *Engine) registerTraceCommand() error {
	return e.Registry.Add(
		"trace",
		"configure the dynamic trace filter",
		"on|off|filter|level|local|global|file|function|thread|show ...",
		1, 32, true, e.traceCallback,
	)
}

func resolveWord(word string, options ...string) (string, error) {
	if word == "" {
		return "", fmt.Errorf("expected one of %s", strings.Join(options, ", "))
	}

	var match string
	for _, o := range options {
		if strings.HasPrefix(o, word) {
			if match != "" {
				return "", fmt.Errorf("ambiguous abbreviation %q (matches %q and %q)", word, match, o)
			}
			match = o
		}
	}
	if match == "" {
		return "", fmt.Errorf("unrecognized %q, expected one of %s", word, strings.Join(options, ", "))
	}
	return match, nil
}

func (e *Engine) traceCallback(ctx *pshellcli.Context) error {
	args, err := ctx.Args()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("trace: missing subcommand")
	}

	sub, err := resolveWord(args[0], "on", "off", "filter", "level", "local", "global", "file", "function", "thread", "show")
	if err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	rest := args[1:]

	switch sub {
	case "on":
		e.setEnabled(&e.traceEnabled, true)
		return nil
	case "off":
		e.setEnabled(&e.traceEnabled, false)
		return nil
	case "filter":
		return e.cmdFilter(rest)
	case "level":
		return e.cmdLevel(rest)
	case "local":
		return e.cmdLocal(rest)
	case "global":
		return e.cmdGlobal(rest)
	case "file":
		return e.cmdAxis(rest, axisFile)
	case "function":
		return e.cmdAxis(rest, axisFunction)
	case "thread":
		return e.cmdAxis(rest, axisThread)
	case "show":
		return e.cmdShow(ctx, rest)
	}

	return fmt.Errorf("trace: unhandled subcommand %q", sub)
}

func (e *Engine) setEnabled(flag *bool, val bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	*flag = val
}

func (e *Engine) cmdFilter(rest []string) error {
	if len(rest) != 1 {
		return fmt.Errorf("trace filter: expected on|off")
	}
	word, err := resolveWord(rest[0], "on", "off")
	if err != nil {
		return fmt.Errorf("trace filter: %w", err)
	}
	e.setEnabled(&e.filterEnabled, word == "on")
	return nil
}

func (e *Engine) cmdLocal(rest []string) error {
	if len(rest) != 1 {
		return fmt.Errorf("trace local: expected on|off")
	}
	word, err := resolveWord(rest[0], "on", "off")
	if err != nil {
		return fmt.Errorf("trace local: %w", err)
	}
	e.setEnabled(&e.localFilterEnabled, word == "on")
	return nil
}

// cmdLevel implements "trace level all | default | <n>". Setting a
// hierarchical level implicitly disables the filter engine (spec §4.7).
func (e *Engine) cmdLevel(rest []string) error {
	if len(rest) != 1 {
		return fmt.Errorf("trace level: expected all|default|<n>")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch rest[0] {
	case "all":
		e.hierarchicalLevel = maxLevels - 1
	case "default":
		highest := 0
		for _, l := range e.levels {
			if l != nil && l.IsDefault && l.Index > highest {
				highest = l.Index
			}
		}
		e.hierarchicalLevel = highest
	default:
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("trace level: %q is not all, default, or an integer", rest[0])
		}
		e.hierarchicalLevel = n
	}

	e.filterEnabled = false
	return nil
}

func (e *Engine) resolveLevelMask(name string) (uint32, error) {
	l, ok := e.levelByName[name]
	if !ok {
		return 0, fmt.Errorf("unknown trace level %q", name)
	}
	return l.Mask, nil
}

// cmdGlobal implements "trace global on|off|all|default|[+|-]<level> ...".
func (e *Engine) cmdGlobal(rest []string) error {
	if len(rest) == 0 {
		return fmt.Errorf("trace global: missing argument")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(rest) == 1 {
		switch rest[0] {
		case "on":
			e.globalFilterEnabled = true
			return nil
		case "off":
			e.globalFilterEnabled = false
			return nil
		case "all":
			e.globalLevel = e.allMask
			return nil
		case "default":
			e.globalLevel = e.defaultMask
			return nil
		}
	}

	// Otherwise: a list of [+|-]<level> tokens. A token with no +/- prefix
	// starts a fresh replacement set; unmaskable levels can never be
	// removed and are always folded back in.
	replacing := false
	for _, tok := range rest {
		if !strings.HasPrefix(tok, "+") && !strings.HasPrefix(tok, "-") {
			replacing = true
			break
		}
	}
	if replacing {
		e.globalLevel = e.unmaskableMask
	}

	for _, tok := range rest {
		op := byte(0)
		name := tok
		if len(tok) > 0 && (tok[0] == '+' || tok[0] == '-') {
			op = tok[0]
			name = tok[1:]
		}

		mask, err := e.resolveLevelMask(name)
		if err != nil {
			return fmt.Errorf("trace global: %w", err)
		}

		switch op {
		case '+':
			e.globalLevel |= mask
		case '-':
			if mask&e.unmaskableMask != 0 {
				// unmaskable levels cannot be removed; silently keep.
				continue
			}
			e.globalLevel &^= mask
		default:
			e.globalLevel |= mask
		}
	}

	return nil
}

type axisKind int

const (
	axisFile axisKind = iota
	axisFunction
	axisThread
)

func (k axisKind) name() string {
	switch k {
	case axisFile:
		return "file"
	case axisFunction:
		return "function"
	default:
		return "thread"
	}
}

// cmdAxis implements "trace {file|function|thread} {on|off|
// [+|-]<name>[:<lineSpec>][:<levelSpec>] ...}". lineSpec only applies to
// the file axis.
func (e *Engine) cmdAxis(rest []string, kind axisKind) error {
	if len(rest) == 0 {
		return fmt.Errorf("trace %s: missing argument", kind.name())
	}

	if len(rest) == 1 {
		switch rest[0] {
		case "on":
			e.mu.Lock()
			e.setAxisEnabled(kind, true)
			e.mu.Unlock()
			return nil
		case "off":
			e.mu.Lock()
			e.setAxisEnabled(kind, false)
			e.mu.Unlock()
			return nil
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, tok := range rest {
		remove := false
		name := tok
		if len(tok) > 0 && (tok[0] == '+' || tok[0] == '-') {
			remove = tok[0] == '-'
			name = tok[1:]
		}

		parts := strings.Split(name, ":")

		var spec, lineSpec, levelSpec string
		switch kind {
		case axisFile:
			spec = parts[0]
			switch len(parts) {
			case 3:
				lineSpec, levelSpec = parts[1], parts[2]
			case 2:
				// A single extra field is a line spec if it parses as one
				// (digits, commas, dashes); otherwise it's a level list.
				if looksLikeLineSpec(parts[1]) {
					lineSpec = parts[1]
				} else {
					levelSpec = parts[1]
				}
			}
		default:
			spec = parts[0]
			if len(parts) > 1 {
				levelSpec = parts[1]
			}
		}

		if remove {
			switch kind {
			case axisFile:
				e.removeFileFilter(spec)
			case axisFunction:
				e.removeFunctionFilter(spec)
			case axisThread:
				e.removeThreadFilter(spec)
			}
			continue
		}

		mask := e.defaultMask
		if levelSpec != "" {
			m, err := e.parseLevelList(levelSpec)
			if err != nil {
				return fmt.Errorf("trace %s: %w", kind.name(), err)
			}
			mask = m
		}

		switch kind {
		case axisFile:
			var ranges []lineRange
			if lineSpec != "" {
				r, err := parseLineSpec(lineSpec)
				if err != nil {
					return fmt.Errorf("trace file: %w", err)
				}
				ranges = r
			}
			if err := e.setFileFilter(spec, mask, ranges); err != nil {
				return fmt.Errorf("trace file: %w", err)
			}
		case axisFunction:
			if err := e.setFunctionFilter(spec, mask); err != nil {
				return fmt.Errorf("trace function: %w", err)
			}
		case axisThread:
			if err := e.setThreadFilter(spec, mask); err != nil {
				return fmt.Errorf("trace thread: %w", err)
			}
		}
	}

	return nil
}

func (e *Engine) setAxisEnabled(kind axisKind, val bool) {
	switch kind {
	case axisFile:
		e.fileFilterEnabled = val
	case axisFunction:
		e.functionFilterEnabled = val
	case axisThread:
		e.threadFilterEnabled = val
	}
	if val {
		e.localFilterEnabled = true
	} else {
		e.collapseAxes()
	}
}

// parseLevelList parses a comma-separated level list, or the keyword
// "default", into a combined mask.
func (e *Engine) parseLevelList(spec string) (uint32, error) {
	if spec == "default" {
		return e.defaultMask, nil
	}

	var mask uint32
	for _, name := range strings.Split(spec, ",") {
		m, err := e.resolveLevelMask(name)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

// looksLikeLineSpec reports whether spec parses cleanly as a line spec
// (digits, commas, and dashes only), used to disambiguate the optional
// second colon-field of a file filter entry from a level list.
func looksLikeLineSpec(spec string) bool {
	for _, r := range spec {
		if (r < '0' || r > '9') && r != ',' && r != '-' {
			return false
		}
	}
	_, err := parseLineSpec(spec)
	return err == nil
}

// parseLineSpec parses a comma-separated line list, with inclusive ranges
// expressed via "-" (e.g. "10,20-30,45").
func parseLineSpec(spec string) ([]lineRange, error) {
	var out []lineRange
	for _, tok := range strings.Split(spec, ",") {
		if tok == "" {
			continue
		}
		if idx := strings.IndexByte(tok, '-'); idx > 0 {
			lo, err := strconv.Atoi(tok[:idx])
			if err != nil {
				return nil, fmt.Errorf("invalid line range %q", tok)
			}
			hi, err := strconv.Atoi(tok[idx+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid line range %q", tok)
			}
			out = append(out, lineRange{lo: lo, hi: hi})
		} else {
			n, err := strconv.Atoi(tok)
			if err != nil {
				return nil, fmt.Errorf("invalid line number %q", tok)
			}
			out = append(out, lineRange{lo: n, hi: n})
		}
	}
	return out, nil
}

// cmdShow implements "trace show {config|levels|threads [<thread>]|symbols
// [<symbol>]}". Symbol lookup (compile-time symbol table) has no Go
// analogue, so "symbols" reports registered file/function filter names
// instead of a linker symbol table.
func (e *Engine) cmdShow(ctx *pshellcli.Context, rest []string) error {
	if len(rest) == 0 {
		return fmt.Errorf("trace show: missing argument")
	}

	word, err := resolveWord(rest[0], "config", "levels", "threads", "symbols")
	if err != nil {
		return fmt.Errorf("trace show: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	switch word {
	case "config":
		ctx.Printf("trace:    %v\n", e.traceEnabled)
		ctx.Printf("filter:   %v\n", e.filterEnabled)
		ctx.Printf("local:    %v\n", e.localFilterEnabled)
		ctx.Printf("global:   %v (mask=%#x)\n", e.globalFilterEnabled, e.globalLevel)
		ctx.Printf("file:     %v\n", e.fileFilterEnabled)
		ctx.Printf("function: %v\n", e.functionFilterEnabled)
		ctx.Printf("thread:   %v\n", e.threadFilterEnabled)
		ctx.Printf("hierarchical level: %d\n", e.hierarchicalLevel)
	case "levels":
		var names []string
		for _, l := range e.levels {
			if l != nil {
				names = append(names, l.Name)
			}
		}
		sort.Strings(names)
		for _, n := range names {
			l := e.levelByName[n]
			ctx.Printf("%-16s index=%d mask=%#x default=%v maskable=%v\n", l.Name, l.Index, l.Mask, l.IsDefault, l.IsMaskable)
		}
	case "threads":
		for name, t := range e.threads {
			if len(rest) > 1 && rest[1] != name {
				continue
			}
			ctx.Printf("%-16s id=%d mask=%#x\n", name, t.id, t.mask)
		}
	case "symbols":
		for name, f := range e.files {
			if len(rest) > 1 && rest[1] != name {
				continue
			}
			ctx.Printf("file %-24s mask=%#x ranges=%v\n", name, f.mask, f.ranges)
		}
		for name, f := range e.funcs {
			if len(rest) > 1 && rest[1] != name {
				continue
			}
			ctx.Printf("function %-20s mask=%#x\n", name, f.mask)
		}
	}

	return nil
}
