package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/luadap/internal/dap"
	"github.com/dshills/luadap/internal/debugger"
)

// ErrCodeBadBreakpointSource is the structured error code for a
// setBreakpoints request whose source descriptor has no usable path.
const ErrCodeBadBreakpointSource = 3010

// defaultStackLevels bounds a stackTrace request that did not ask for a
// specific frame count.
const defaultStackLevels = 200

// Adapter routes DAP requests to the script engine's debugger and
// relays engine notifications back as protocol events. One request is
// fully handled before the next; engine callbacks may interleave and
// are serialized against handle resolution by the reference table.
type Adapter struct {
	engine debugger.Engine
	events dap.EventSender
	refs   *RefTable
	cfg    *debugger.Config
	repl   *repl
	log    zerolog.Logger

	mu         sync.Mutex
	registered bool
	post       []func() // events to push after the current response
}

// New creates an adapter bridging the engine to the given event sender.
func New(engine debugger.Engine, events dap.EventSender, log zerolog.Logger) *Adapter {
	a := &Adapter{
		engine: engine,
		events: events,
		refs:   NewRefTable(),
		cfg:    engine.Config(),
		log:    log,
	}
	a.repl = newRepl(a.cfg, a.console)
	return a
}

// HandleRequest dispatches one request and returns its response body.
func (a *Adapter) HandleRequest(req *dap.Request) (interface{}, error) {
	switch req.Command {
	case "initialize":
		return a.initialize()
	case "attach", "launch":
		// The engine runs in-process; there is nothing to start.
		return nil, nil
	case "disconnect":
		return a.disconnect()
	case "continue":
		a.engine.Queue(debugger.ActionRun)
		return dap.ContinueResponseBody{AllThreadsContinued: true}, nil
	case "next":
		a.engine.Queue(debugger.ActionStepOver)
		return nil, nil
	case "stepIn":
		a.engine.Queue(debugger.ActionStepIn)
		return nil, nil
	case "stepOut":
		a.engine.Queue(debugger.ActionStepOut)
		return nil, nil
	case "pause":
		a.engine.RequestPause()
		a.console("Pause requested; the script will stop at the next statement.")
		return nil, nil
	case "evaluate":
		var args dap.EvaluateArguments
		if err := unmarshalArgs(req.Arguments, &args); err != nil {
			return nil, err
		}
		return a.evaluate(args)
	case "scopes":
		return a.scopes()
	case "setBreakpoints":
		var args dap.SetBreakpointsArguments
		if err := unmarshalArgs(req.Arguments, &args); err != nil {
			return nil, err
		}
		return a.setBreakpoints(args)
	case "stackTrace":
		var args dap.StackTraceArguments
		if err := unmarshalArgs(req.Arguments, &args); err != nil {
			return nil, err
		}
		return a.stackTrace(args)
	case "threads":
		return dap.ThreadsResponseBody{
			Threads: []dap.Thread{{ID: 1, Name: "main thread"}},
		}, nil
	case "variables":
		var args dap.VariablesArguments
		if err := unmarshalArgs(req.Arguments, &args); err != nil {
			return nil, err
		}
		return a.variables(args)
	default:
		return nil, fmt.Errorf("unsupported command %q", req.Command)
	}
}

// AfterResponse pushes events that must follow the response just sent.
func (a *Adapter) AfterResponse(*dap.Request) {
	a.mu.Lock()
	post := a.post
	a.post = nil
	a.mu.Unlock()

	for _, fn := range post {
		fn()
	}
}

// deferEvent queues fn to run after the current response is written.
func (a *Adapter) deferEvent(fn func()) {
	a.mu.Lock()
	a.post = append(a.post, fn)
	a.mu.Unlock()
}

// initialize advertises capabilities and schedules the initialized
// signal, a welcome banner, and the sink registration for after the
// response. Registering the sink may replay source-loaded notices, so
// it has to follow the banner.
func (a *Adapter) initialize() (interface{}, error) {
	a.mu.Lock()
	a.registered = true
	a.mu.Unlock()

	a.deferEvent(func() {
		if err := a.events.SendEvent("initialized", nil); err != nil {
			a.log.Warn().Err(err).Msg("send initialized event")
		}
		a.console("Lua debugger bridge ready: %s on %s/%s, process %s, pid %d.",
			a.engine.Version(), runtime.GOOS, runtime.GOARCH,
			filepath.Base(os.Args[0]), os.Getpid())
		a.engine.SetSink(a)
	})

	return dap.Capabilities{
		ExceptionBreakpointFilters: []dap.ExceptionBreakpointsFilter{},
	}, nil
}

// disconnect unregisters the event sink. Safe to call repeatedly.
func (a *Adapter) disconnect() (interface{}, error) {
	a.mu.Lock()
	wasRegistered := a.registered
	a.registered = false
	a.mu.Unlock()

	if wasRegistered {
		a.engine.SetSink(nil)
	}
	return nil, nil
}

// evaluate handles expression evaluation and the embedded REPL command
// language. Frame selection is not supported: evaluation always runs in
// the top-level context, and a non-repl request naming another frame
// gets a console warning.
func (a *Adapter) evaluate(args dap.EvaluateArguments) (interface{}, error) {
	if args.Context == "repl" {
		if rest, ok := trimMarker(args.Expression); ok {
			a.repl.Run(rest)
			return dap.EvaluateResponseBody{Result: ""}, nil
		}
	} else if args.FrameID != 0 {
		a.console("Evaluation always uses the top-level scope; the selected frame is ignored.")
	}

	val, err := a.engine.Evaluate(args.Expression)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	ref := a.refs.Add(val)
	return dap.EvaluateResponseBody{
		Result:             displayOf(val),
		Type:               typeOf(val),
		VariablesReference: ref,
	}, nil
}

// scopes always reports the two fixed pseudo-scopes, regardless of the
// requested frame or pause state.
func (a *Adapter) scopes() (interface{}, error) {
	return dap.ScopesResponseBody{
		Scopes: []dap.Scope{
			{Name: "Locals", VariablesReference: RefLocals},
			{Name: "Self", VariablesReference: RefSelf},
		},
	}, nil
}

// setBreakpoints replaces the breakpoint set for one source and reports
// per-line success. Files the engine has never loaded are accepted with
// zero effect.
func (a *Adapter) setBreakpoints(args dap.SetBreakpointsArguments) (interface{}, error) {
	path := args.Source.Path
	if path == "" {
		return nil, &dap.RequestError{
			Code:    ErrCodeBadBreakpointSource,
			Message: "setBreakpoints: source descriptor is missing a path",
		}
	}

	var lines []int
	for _, bp := range args.Breakpoints {
		lines = append(lines, bp.Line)
	}
	if len(lines) == 0 {
		lines = args.Lines
	}

	idx, ok := a.engine.FindSource(path)
	if !ok {
		a.log.Debug().Str("path", path).Msg("breakpoints requested for unknown source")
		return dap.SetBreakpointsResponseBody{Breakpoints: []dap.Breakpoint{}}, nil
	}

	armed := a.engine.SetBreakpoints(idx, lines)
	armedSet := make(map[int]bool, len(armed))
	for _, line := range armed {
		armedSet[line] = true
	}

	result := make([]dap.Breakpoint, 0, len(lines))
	for _, line := range lines {
		result = append(result, dap.Breakpoint{
			Verified: armedSet[line],
			Source:   &dap.Source{Path: path},
			Line:     line,
		})
	}
	return dap.SetBreakpointsResponseBody{Breakpoints: result}, nil
}

// stackTrace builds the frame list with the reserved three-slot tail: a
// truncation marker when frames were dropped, the active coroutine, and
// a closing native frame.
func (a *Adapter) stackTrace(args dap.StackTraceArguments) (interface{}, error) {
	levels := args.Levels
	if levels <= 0 {
		levels = defaultStackLevels
	}
	if levels < 3 {
		levels = 3 // room for the reserved tail
	}

	items := a.engine.Watches(debugger.WatchCallStack)

	maxReal := levels - 3
	truncated := len(items) > maxReal
	if truncated {
		items = items[:maxReal]
	}

	frames := make([]dap.StackFrame, 0, len(items)+3)
	for i, item := range items {
		frames = append(frames, a.stackFrame(i, item))
	}

	next := len(frames)
	if truncated {
		frames = append(frames, dap.StackFrame{ID: next, Name: "(...)"})
		next++
	}

	coroutine := a.engine.CurrentCoroutine()
	if coroutine == "" {
		coroutine = "(main coroutine)"
	}
	frames = append(frames, dap.StackFrame{ID: next, Name: coroutine})
	frames = append(frames, dap.StackFrame{ID: next + 1, Name: "(native)"})

	return dap.StackTraceResponseBody{
		StackFrames: frames,
		TotalFrames: len(frames),
	}, nil
}

// stackFrame converts one call-stack watch item to a protocol frame.
func (a *Adapter) stackFrame(id int, item debugger.WatchItem) dap.StackFrame {
	frame := dap.StackFrame{
		ID:        id,
		Name:      item.Name,
		Line:      item.StartLine,
		Column:    item.StartCol,
		EndLine:   item.EndLine,
		EndColumn: item.EndCol,
	}
	if item.SourceIdx == debugger.NoSource {
		frame.Source = &dap.Source{Name: "(native)"}
	} else {
		path := a.engine.SourcePath(item.SourceIdx)
		frame.Source = &dap.Source{Name: filepath.Base(path), Path: path}
	}
	return frame
}

// variables resolves a reference into its child variables. Stale or
// out-of-range references degrade to a single synthetic error entry.
func (a *Adapter) variables(args dap.VariablesArguments) (interface{}, error) {
	switch ref := args.VariablesReference; ref {
	case RefSelf:
		val, err := a.engine.Evaluate("self")
		if err != nil || val == nil {
			return dap.VariablesResponseBody{Variables: []dap.Variable{}}, nil
		}
		return dap.VariablesResponseBody{Variables: a.childVariables(val.Children())}, nil

	case RefLocals:
		items := a.engine.Watches(debugger.WatchLocals)
		vars := make([]dap.Variable, 0, len(items))
		for _, item := range items {
			vars = append(vars, a.watchVariable(item))
		}
		return dap.VariablesResponseBody{Variables: vars}, nil

	default:
		val, ok := a.refs.Resolve(ref)
		if !ok {
			return dap.VariablesResponseBody{
				Variables: []dap.Variable{{Name: "<error>"}},
			}, nil
		}
		if val == nil {
			return dap.VariablesResponseBody{Variables: []dap.Variable{}}, nil
		}
		return dap.VariablesResponseBody{Variables: a.childVariables(val.Children())}, nil
	}
}

// childVariables converts named children, allocating references for the
// structured ones so the client can expand them in turn.
func (a *Adapter) childVariables(children []debugger.NamedValue) []dap.Variable {
	vars := make([]dap.Variable, 0, len(children))
	for _, child := range children {
		v := dap.Variable{
			Name:  child.Name,
			Value: displayOf(child.Value),
			Type:  typeOf(child.Value),
		}
		if child.Value != nil && len(child.Value.Children()) > 0 {
			v.VariablesReference = a.refs.Add(child.Value)
		}
		vars = append(vars, v)
	}
	return vars
}

// watchVariable converts one locals watch item. An unset local renders
// as a void placeholder.
func (a *Adapter) watchVariable(item debugger.WatchItem) dap.Variable {
	if item.Value == nil {
		return dap.Variable{Name: item.Name, Value: "<void>"}
	}
	v := dap.Variable{
		Name:  item.Name,
		Value: item.Value.Display(),
		Type:  item.Value.TypeName(),
	}
	if len(item.Value.Children()) > 0 {
		v.VariablesReference = a.refs.Add(item.Value)
	}
	return v
}

// console pushes a timestamped line on the client's console channel.
func (a *Adapter) console(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	body := dap.OutputEventBody{
		Category: "console",
		Output:   fmt.Sprintf("[%s] %s\n", time.Now().Format("15:04:05.000"), msg),
	}
	if err := a.events.SendEvent("output", body); err != nil {
		a.log.Warn().Err(err).Msg("send output event")
	}
}

// trimMarker splits off the REPL command marker.
func trimMarker(expr string) (string, bool) {
	if strings.HasPrefix(expr, CommandMarker) {
		return expr[len(CommandMarker):], true
	}
	return expr, false
}

// unmarshalArgs decodes a request's argument object.
func unmarshalArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

// displayOf renders a possibly-nil value.
func displayOf(v debugger.Value) string {
	if v == nil {
		return "nil"
	}
	return v.Display()
}

// typeOf names a possibly-nil value's dynamic type.
func typeOf(v debugger.Value) string {
	if v == nil {
		return "nil"
	}
	return v.TypeName()
}
