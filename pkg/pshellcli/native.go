package pshellcli

import "reflect"

func funcPointer(f Callback) uintptr {
	if f == nil {
		return 0
	}
	return reflect.ValueOf(f).Pointer()
}

// Capabilities describes which native commands a server kind supports, so
// AddNativeCommands can omit e.g. "quit" for a kind that has no notion of
// terminating a session (spec §4.2: "their availability depends on server
// kind").
type Capabilities struct {
	Help  bool
	Quit  bool
	Batch bool
}

// AddNativeCommands inserts help/quit/batch (as supported by caps) and
// reorders the table so native commands appear first, matching spec §4.2.
// helpCb/quitCb/batchCb may be nil when the corresponding capability is
// false. Calling this twice is a no-op.
func (r *Registry) AddNativeCommands(caps Capabilities, helpCb, quitCb, batchCb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nativeAdded {
		return nil
	}
	r.nativeAdded = true

	type native struct {
		name, desc, usage string
		minArgs, maxArgs  int
		showUsage         bool
		cb                Callback
		enabled           bool
	}

	natives := []native{
		{"help", "show a list of commands, or detailed help for one command", "[command]", 0, 1, false, helpCb, caps.Help},
		{"quit", "terminate the interactive session", "", 0, 0, false, quitCb, caps.Quit},
		{"batch", "run commands from a file", "<filename> [rate=<sec>] [repeat=<n>|forever] [clear]", 1, 4, true, batchCb, caps.Batch},
	}

	var added []*Command

	for _, n := range natives {
		if !n.enabled {
			continue
		}

		if existing, ok := r.byName[n.name]; ok {
			// A user command already named help/quit stays in place and
			// the native one is skipped. No warning is logged, and the
			// user command is not restricted to any mode of use.
			existing.interactiveOnly = true
			continue
		}

		if n.cb == nil {
			continue
		}

		cmd := &Command{
			Name:        n.name,
			Description: n.desc,
			Usage:       n.usage,
			MinArgs:     n.minArgs,
			MaxArgs:     n.maxArgs,
			ShowUsage:   n.showUsage,
			callback:    n.cb,
			native:      true,
		}
		r.byName[n.name] = cmd
		if len(n.name) > r.maxCommandLength {
			r.maxCommandLength = len(n.name)
		}
		added = append(added, cmd)
	}

	// Reorder: native commands first, in the order added, followed by the
	// existing user commands.
	r.commands = append(added, r.commands...)

	return nil
}
