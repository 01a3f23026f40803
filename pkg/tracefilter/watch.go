package tracefilter

import (
	"fmt"
	"sync"
	"unsafe"
)

// watchpoint is the sole active memory watch (spec §3, §4.7). At most one
// may be active at a time; setting a new one replaces the last.
type watchpoint struct {
	mu sync.Mutex

	file, function, symbol string
	line                   int
	addr                   unsafe.Pointer
	width                  int
	format                 string
	control                ControlPolicy

	prev      uint64
	havePrev  bool
	hits      int
	lastFile  string
	lastLine  int
	lastValue uint64
}

func (w *watchpoint) read() uint64 {
	switch w.width {
	case 1:
		return uint64(*(*uint8)(w.addr))
	case 2:
		return uint64(*(*uint16)(w.addr))
	case 4:
		return uint64(*(*uint32)(w.addr))
	case 8:
		return *(*uint64)(w.addr)
	}
	return 0
}

// poll reads the watched memory and reports whether it changed since the
// previous poll, respecting the control policy's hit budget.
func (w *watchpoint) poll() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cur := w.read()

	if !w.havePrev {
		w.prev = cur
		w.havePrev = true
		return false
	}

	if cur == w.prev {
		return false
	}

	if w.control == Once && w.hits > 0 {
		// Once already consumed its single transition; stay silent but
		// keep tracking so a later Continuous re-arm starts fresh.
		w.prev = cur
		return false
	}

	w.hits++
	w.prev = cur
	return true
}

func (w *watchpoint) formatValue(v uint64) string {
	if w.format == "" {
		return fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf(w.format, v)
}

// Watch sets the sole watchpoint. width must be 1, 2, 4, or 8 bytes.
func (e *Engine) Watch(file string, line int, function, symbol string, address unsafe.Pointer, width int, formatSpec string, control ControlPolicy) error {
	switch width {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("tracefilter: watch width %d must be one of 1, 2, 4, 8", width)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.watch = &watchpoint{
		file: file, line: line, function: function, symbol: symbol,
		addr: address, width: width, format: formatSpec, control: control,
	}

	return nil
}

// ClearWatch removes the active watchpoint, if any.
func (e *Engine) ClearWatch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watch = nil
}

func (e *Engine) activeWatch() *watchpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.watch
}

// emitWatch logs the two-line watch trace: the previous site/value, then
// the current site/value (spec §4.7 step 1). The site printed on both lines
// is the one passed to Watch (the previous one is empty on the first
// report); the trace call that observed the change is not reported.
func (e *Engine) emitWatch(w *watchpoint) {
	w.mu.Lock()
	prevFile, prevLine, prevVal := w.lastFile, w.lastLine, w.lastValue
	w.lastFile, w.lastLine, w.lastValue = w.file, w.line, w.prev
	cur := w.prev
	hits := w.hits
	control := w.control
	symbol := w.symbol
	w.mu.Unlock()

	e.logf("watch %s: previous %s:%d value=%s", symbol, prevFile, prevLine, w.formatValue(prevVal))
	e.logf("watch %s: current  %s:%d value=%s", symbol, w.file, w.line, w.formatValue(cur))

	if control == Abort {
		e.Abort(fmt.Sprintf("watchpoint %q changed to %s after %d hit(s)", symbol, w.formatValue(cur), hits))
	}
}
