package tracefilter

import "fmt"

// condition is the sole active condition callback (spec §3, §4.7). At most
// one may be active at a time.
type condition struct {
	file, function, name string
	line                 int
	fn                   func() bool
	control              ControlPolicy

	last  bool
	hits  int
}

func (c *condition) budgetExhausted() bool {
	return c.control == Once && c.hits > 0
}

// Callback sets the sole condition callback, replacing any previous one.
func (e *Engine) Callback(file string, line int, function, name string, fn func() bool, control ControlPolicy) error {
	if fn == nil {
		return fmt.Errorf("tracefilter: callback function must not be nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cond = &condition{
		file: file, line: line, function: function, name: name,
		fn: fn, control: control,
	}

	return nil
}

// ClearCallback removes the active condition callback, if any.
func (e *Engine) ClearCallback() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cond = nil
}

// emitCallback logs the two-line callback trace (spec §4.7 step 7).
func (e *Engine) emitCallback(c *condition, result bool) {
	e.logf("callback %s: %s:%d transitioned to %v", c.name, c.file, c.line, result)
	e.logf("callback %s: %s suppressing ordinary trace output", c.name, c.function)
}
