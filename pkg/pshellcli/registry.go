// Package pshellcli implements the command registry, tokenizer, and
// per-dispatch argument helpers described in spec §4.2 and §4.3: an ordered
// table of registered callbacks with validation and help formatting, plus
// the typed accessors a callback uses to read its own arguments.
package pshellcli

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// Registration and lookup errors. Find distinguishes NotFound from
// Ambiguous so callers can render the two spec-mandated diagnostics
// separately (see spec §7).
var (
	ErrInvalidArgument = errors.New("pshellcli: invalid argument")
	ErrDuplicate       = errors.New("pshellcli: duplicate command")
	ErrNotFound        = errors.New("pshellcli: command not found")
	ErrAmbiguous       = errors.New("pshellcli: ambiguous command abbreviation")
)

// Callback is invoked when a registered command's pattern matches. It reads
// its arguments and options from ctx and writes its reply through ctx.
type Callback func(ctx *Context) error

// Command is a registered entry in the table (spec §3, Registered Command).
type Command struct {
	Name        string
	Description string
	Usage       string
	MinArgs     int
	MaxArgs     int
	ShowUsage   bool
	callback    Callback

	// native marks help/quit/batch -- inserted after user registration
	// and reordered to the front of the table (spec §4.2). The trace
	// command is added through Add and is not marked native.
	native bool
	// interactiveOnly is set on a user-registered "help" or "quit" that
	// collides with a native name. Nothing reads it: dispatch treats such a
	// command like any other.
	interactiveOnly bool
}

// Registry is the ordered table of registered commands. The zero value is
// not usable; construct with NewRegistry. A single writer mutex guards the
// table (spec §5: "Command registry... must be guarded by a single writer
// mutex"), since the host may register commands from one goroutine while a
// server dispatch loop reads the table from another.
type Registry struct {
	mu       sync.RWMutex
	commands []*Command
	byName   map[string]*Command

	maxCommandLength int

	// AllowDuplicateFunction disables the duplicate-callback check. The
	// teacher's minicli permits re-registering distinct patterns that share
	// a Call; PSHELL's flatter registry applies the same escape hatch.
	AllowDuplicateFunction bool

	nativeAdded bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Command)}
}

func hasWhitespace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}

// Add registers a new command. See spec §4.2 for the full validation list.
func (r *Registry) Add(name, description, usage string, minArgs, maxArgs int, showUsage bool, cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidArgument)
	}
	if hasWhitespace(name) {
		return fmt.Errorf("%w: name %q must not contain whitespace", ErrInvalidArgument, name)
	}
	if description == "" {
		return fmt.Errorf("%w: description must not be empty", ErrInvalidArgument)
	}
	if cb == nil {
		return fmt.Errorf("%w: callback must not be nil", ErrInvalidArgument)
	}
	if minArgs > maxArgs {
		if maxArgs == 0 {
			// minArgs > maxArgs == 0 means "no upper bound specified";
			// raise maxArgs to minArgs per spec's Registered Command
			// invariant rather than rejecting the registration.
			maxArgs = minArgs
		} else {
			return fmt.Errorf("%w: minArgs (%d) > maxArgs (%d)", ErrInvalidArgument, minArgs, maxArgs)
		}
	}
	if minArgs == 0 && maxArgs == 0 && usage != "" {
		return fmt.Errorf("%w: command %q takes no arguments but declares a usage string", ErrInvalidArgument, name)
	}
	if maxArgs > 0 && usage == "" {
		return fmt.Errorf("%w: command %q takes arguments but has no usage string", ErrInvalidArgument, name)
	}

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %q already registered", ErrDuplicate, name)
	}
	if !r.AllowDuplicateFunction {
		for _, c := range r.commands {
			if sameFunc(c.callback, cb) {
				return fmt.Errorf("%w: callback already bound to %q", ErrDuplicate, c.Name)
			}
		}
	}

	cmd := &Command{
		Name:        name,
		Description: description,
		Usage:       usage,
		MinArgs:     minArgs,
		MaxArgs:     maxArgs,
		ShowUsage:   showUsage,
		callback:    cb,
	}

	r.commands = append(r.commands, cmd)
	r.byName[name] = cmd

	if len(name) > r.maxCommandLength {
		r.maxCommandLength = len(name)
	}

	return nil
}

// Find resolves prefix against the registry. An exact or unambiguous prefix
// match returns the command; "?", "-h", "-help", "--help" resolve to the
// registered "help" command when there is one (otherwise they are matched
// like any other prefix); more than one match returns ErrAmbiguous; zero
// matches returns ErrNotFound.
func (r *Registry) Find(prefix string) (*Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch prefix {
	case "?", "-h", "-help", "--help":
		if h, ok := r.byName["help"]; ok {
			return h, nil
		}
	}

	if c, ok := r.byName[prefix]; ok {
		return c, nil
	}

	var match *Command
	for _, c := range r.commands {
		if strings.HasPrefix(c.Name, prefix) {
			if match != nil {
				return nil, fmt.Errorf("%w: %q", ErrAmbiguous, prefix)
			}
			match = c
		}
	}

	if match == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, prefix)
	}

	return match, nil
}

// List returns the registered commands in insertion order (after native
// commands have been reordered to the front, once AddNativeCommands runs).
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// CompletionNames returns every registered name, used for TAB completion
// (QUERY_COMMANDS2 and pshellterm's completer).
func (r *Registry) CompletionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.commands))
	for i, c := range r.commands {
		names[i] = c.Name
	}
	return names
}

// HelpText renders COMMANDS1-style output: one "<name padded> - <description>"
// line per command, in table order.
func (r *Registry) HelpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, c := range r.commands {
		fmt.Fprintf(&b, "%-*s  -  %s\n", r.maxCommandLength, c.Name, c.Description)
	}
	return b.String()
}

// CommandsDelimited renders COMMANDS2-style output: names separated by a
// single delimiter, for client-side TAB completion.
func (r *Registry) CommandsDelimited(delim string) string {
	return strings.Join(r.CompletionNames(), delim)
}

// UsageText renders "Usage: <name> <usage>" or "Usage: <name>" when the
// command has no usage string.
func (r *Registry) UsageText(cmd *Command) string {
	if cmd.Usage == "" {
		return fmt.Sprintf("Usage: %s", cmd.Name)
	}
	return fmt.Sprintf("Usage: %s %s", cmd.Name, cmd.Usage)
}

func sameFunc(a, b Callback) bool {
	// Go cannot compare func values for equality directly; reflect is the
	// idiomatic way to compare underlying code pointers.
	return funcPointer(a) == funcPointer(b)
}
