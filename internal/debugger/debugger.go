// Package debugger defines the contract between the protocol adapter and
// the script engine's runtime debugger.
package debugger

import "errors"

// Errors shared by Engine implementations.
var (
	// ErrNotPaused is returned for operations that require a paused script.
	ErrNotPaused = errors.New("debugger: script is not paused")

	// ErrUnknownSource is returned when a source index is out of range.
	ErrUnknownSource = errors.New("debugger: unknown source")
)

// Action is a control action the adapter queues on the engine.
type Action int

const (
	// ActionRun resumes execution until the next breakpoint or trap.
	ActionRun Action = iota
	// ActionStepOver runs to the next statement at the same call depth or above.
	ActionStepOver
	// ActionStepIn runs to the next statement, entering calls.
	ActionStepIn
	// ActionStepOut runs until the current function returns.
	ActionStepOut
)

// String returns the action name used in logs.
func (a Action) String() string {
	switch a {
	case ActionRun:
		return "run"
	case ActionStepOver:
		return "stepOver"
	case ActionStepIn:
		return "stepIn"
	case ActionStepOut:
		return "stepOut"
	default:
		return "unknown"
	}
}

// WatchKind selects a category of live debugger state.
type WatchKind int

const (
	// WatchCallStack is the paused call stack, innermost frame first.
	WatchCallStack WatchKind = iota
	// WatchLocals is the local variables of the innermost script frame.
	WatchLocals
	// WatchThreads is the set of live coroutines.
	WatchThreads
)

// NoSource marks a WatchItem that is not attributable to script source.
const NoSource = -1

// WatchItem is one entry of live debugger state: a stack frame, a local
// variable, or a coroutine. Value is nil for entries that carry no value
// (frames, unset locals).
type WatchItem struct {
	Name      string
	Value     Value
	SourceIdx int // index into the engine's source table, or NoSource
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// Value is an evaluated script value. Structured values expose children.
type Value interface {
	// TypeName is the script-level dynamic type name.
	TypeName() string

	// Display is the human-readable rendering of the value.
	Display() string

	// Children returns named child values for structured values,
	// or nil for scalars.
	Children() []NamedValue
}

// NamedValue pairs a child value with its key or field name.
type NamedValue struct {
	Name  string
	Value Value
}

// Engine is the debugger surface the adapter drives. Implementations own
// the run/pause state machine; the adapter only queues actions and reads
// state while the script is paused.
type Engine interface {
	// Version names the interpreter, for diagnostics.
	Version() string

	// Queue enqueues a control action. It never blocks; the actual
	// transition is reported later through the EventSink.
	Queue(a Action)

	// RequestPause asks the engine to stop at the next reachable
	// statement. It only sets a flag; no pause is guaranteed to have
	// happened when it returns.
	RequestPause()

	// Evaluate evaluates an expression in the global context of the
	// paused script. A nil Value result is valid (the expression
	// produced nil). Runtime errors are delivered to the sink's
	// OnRuntimeError, not returned here.
	Evaluate(expr string) (Value, error)

	// Watches returns the current watch list for a category. Only valid
	// while paused; implementations may return nil otherwise.
	Watches(kind WatchKind) []WatchItem

	// FindSource maps a client path to a source index, or false if the
	// engine has never seen that source.
	FindSource(path string) (int, bool)

	// SourcePath returns the display path for a source index.
	SourcePath(idx int) string

	// SourceOverride returns the on-disk file the engine substituted
	// for the source originally named, or false when the source was
	// read from its own path.
	SourceOverride(idx int) (string, bool)

	// SetBreakpoints replaces the breakpoint set for one source with the
	// requested lines and returns the subset it could actually arm.
	SetBreakpoints(idx int, lines []int) []int

	// CurrentCoroutine returns the name of the coroutine the engine is
	// paused in, or "" when paused in the main coroutine.
	CurrentCoroutine() string

	// SetSink registers the single event sink. Passing nil unregisters.
	SetSink(sink EventSink)

	// Config returns the process-wide session configuration the engine
	// consults for error trapping.
	Config() *Config
}

// EventSink receives push notifications from the engine. Callbacks may
// run on the engine's execution goroutine, concurrently with request
// handling.
type EventSink interface {
	// OnStop fires when execution pauses for any reason.
	OnStop()

	// OnWatchesChanged fires when a watch category has new contents.
	OnWatchesChanged(kind WatchKind)

	// OnSourceLoaded fires when the engine registers a new source.
	OnSourceLoaded(idx int)

	// OnExecutionEnded fires when the script runs to completion.
	OnExecutionEnded()

	// OnRuntimeError fires for runtime errors, including those raised
	// by Evaluate.
	OnRuntimeError(err error)
}
