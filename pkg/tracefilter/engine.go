// Package tracefilter implements PSHELL's dynamic trace filter: a
// runtime-tunable predicate evaluated at every trace site, with
// file/function/thread/level axes, watchpoints, and condition callbacks
// (spec §4.7).
package tracefilter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgrid-labs/pshell/pkg/pshellcli"
	"github.com/dgrid-labs/pshell/pkg/plog"
)

// ControlPolicy governs how many times a watchpoint or condition callback
// transition is reported (spec §3).
type ControlPolicy int

const (
	Once ControlPolicy = iota
	Continuous
	Abort
)

// DefaultCapacity values (spec §4.7: "Line, function, and thread filter
// capacities are fixed (default 500/500/100)").
const (
	DefaultFileCapacity     = 500
	DefaultFunctionCapacity = 500
	DefaultThreadCapacity   = 100
)

// AbortFunc is invoked when a watchpoint or condition callback with control
// policy Abort fires. Defaults to a panic so library callers see the
// abort even if they never check a return value; callers may replace it.
type AbortFunc func(reason string)

// Engine is a trace filter instance. The zero value is not usable;
// construct with NewEngine. Multiple independent Engines may coexist in one
// process (spec §5, §9 DESIGN NOTES: no global singleton).
type Engine struct {
	mu sync.RWMutex

	levels      [maxLevels]*Level
	levelByName map[string]*Level
	initialized bool

	allMask        uint32
	defaultMask    uint32
	unmaskableMask uint32

	traceEnabled          bool
	filterEnabled         bool
	localFilterEnabled    bool
	globalFilterEnabled   bool
	fileFilterEnabled     bool
	functionFilterEnabled bool
	threadFilterEnabled   bool

	globalLevel       uint32
	hierarchicalLevel int

	files   map[string]*fileFilter
	funcs   map[string]*functionFilter
	threads map[string]*threadFilter // keyed by registered name

	fileCapacity, funcCapacity, threadCapacity int

	watch *watchpoint
	cond  *condition

	reentrancy int32 // atomic guard against a condition callback tracing recursively

	Registry *pshellcli.Registry
	Log      *plog.Logger
	Abort    AbortFunc
}

// NewEngine returns an Engine with default capacities and no levels. Call
// AddLevel for each level, then Init.
func NewEngine() *Engine {
	return &Engine{
		levelByName:   make(map[string]*Level),
		files:         make(map[string]*fileFilter),
		funcs:         make(map[string]*functionFilter),
		threads:       make(map[string]*threadFilter),
		fileCapacity:  DefaultFileCapacity,
		funcCapacity:  DefaultFunctionCapacity,
		threadCapacity: DefaultThreadCapacity,
		traceEnabled:  true,
		filterEnabled: true,
		globalFilterEnabled: true,
		Log:           plog.Default,
		Abort:         func(reason string) { panic("tracefilter: " + reason) },
	}
}

// Init locks in the registered level universe, computes the aggregate
// masks, sets the initial global level, and -- if Registry is non-nil --
// registers the "trace" shell command (spec §4.7).
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return fmt.Errorf("tracefilter: Init called twice")
	}

	for _, l := range e.levels {
		if l == nil {
			continue
		}
		e.allMask |= l.Mask
		if !l.IsMaskable {
			e.unmaskableMask |= l.Mask
		}
		if l.IsDefault || !l.IsMaskable {
			e.defaultMask |= l.Mask
		}
	}

	e.globalLevel = e.defaultMask
	e.initialized = true

	if e.Registry != nil {
		if err := e.registerTraceCommand(); err != nil {
			return err
		}
	}

	return nil
}

// TLAll returns the union of every registered level's mask.
func (e *Engine) TLAll() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.allMask
}

// TLDefault returns the default-enabled mask (default levels plus all
// unmaskable levels).
func (e *Engine) TLDefault() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defaultMask
}

// TLUnmaskable returns the mask of levels that can never be removed from an
// enabled set.
func (e *Engine) TLUnmaskable() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unmaskableMask
}

// GlobalLevel returns the current global mask applied when no local axis
// matches.
func (e *Engine) GlobalLevel() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.globalLevel
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.Log != nil {
		e.Log.Warn(format, args...)
	}
}

// IsFilterPassed is the hot-path predicate evaluated at every trace site
// (spec §4.7). levelIndex must name a level registered with AddLevel.
func (e *Engine) IsFilterPassed(file string, line int, function string, levelIndex int) bool {
	// Step 1: watchpoint short-circuit.
	if w := e.activeWatch(); w != nil {
		if changed := w.poll(); changed {
			e.emitWatch(w)
			return false
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.traceEnabled {
		return false
	}

	if !e.filterEnabled {
		passed := e.hierarchicalLevel >= levelIndex
		return e.maybeCallback(passed, levelIndex)
	}

	lvl := e.levels[levelIndexSafe(levelIndex)]
	if lvl == nil {
		return false
	}

	if lvl.Mask&e.unmaskableMask != 0 {
		return e.maybeCallback(true, levelIndex)
	}

	var passed bool

	if e.localFilterEnabled {
		fileResult, fileMatched := e.evalFile(file, line, lvl.Mask)
		funcResult, funcMatched := e.evalFunction(function, lvl.Mask)
		threadResult, threadMatched := e.evalThread(callerThreadID(), lvl.Mask)

		if !fileMatched && !funcMatched && !threadMatched {
			passed = e.globalFilterEnabled && lvl.Mask&e.globalLevel != 0
		} else {
			passed = true
			if fileMatched {
				passed = passed && fileResult
			}
			if funcMatched {
				passed = passed && funcResult
			}
			if threadMatched {
				passed = passed && threadResult
			}
		}
	} else if e.globalFilterEnabled {
		passed = lvl.Mask&e.globalLevel != 0
	}

	return e.maybeCallback(passed, levelIndex)
}

func levelIndexSafe(i int) int {
	if i < 0 || i >= maxLevels {
		return 0
	}
	return i
}

// maybeCallback implements step 7 of IsFilterPassed: if a condition
// callback is active, evaluate it (guarded against reentrancy) and flip the
// ordinary pass/fail result to false on an edge transition, since that
// transition gets its own two-line trace instead.
func (e *Engine) maybeCallback(passed bool, levelIndex int) bool {
	c := e.cond
	if c == nil {
		return passed
	}

	if !atomic.CompareAndSwapInt32(&e.reentrancy, 0, 1) {
		// Already inside the callback on this goroutine's call chain;
		// don't recurse.
		return passed
	}
	defer atomic.StoreInt32(&e.reentrancy, 0)

	result := c.fn()
	edge := result != c.last
	c.last = result

	if edge && !c.budgetExhausted() {
		c.hits++
		e.emitCallback(c, result)
		if c.control == Abort {
			e.Abort(fmt.Sprintf("condition callback %q transitioned to %v", c.name, result))
		}
		return false
	}

	return passed
}
