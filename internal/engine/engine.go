// Package engine runs Lua scripts under a line-level debugger built on
// gopher-lua. The interpreter has no native debug hooks, so chunks are
// instrumented at the AST level: a hook call is injected before every
// statement, and the hook decides whether to keep running or to park the
// execution goroutine until the adapter queues a control action.
package engine

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/luadap/internal/debugger"
)

// step modes armed by a resume action.
const (
	stepNone = iota
	stepIn
	stepOver
	stepOut
)

// Engine implements debugger.Engine on a gopher-lua interpreter.
//
// Concurrency model: the script runs on the goroutine that called Run.
// When the injected hook decides to stop, that goroutine parks on the
// control channel; while it is parked the adapter's goroutine may safely
// evaluate against the LState under the engine mutex, because nothing
// else can touch the interpreter until a control action is queued and
// the mutex released.
type Engine struct {
	L       *lua.LState
	sources *sourceTable

	controlCh chan debugger.Action
	pauseReq  atomic.Bool
	parked    atomic.Bool
	detached  atomic.Bool

	mu           sync.Mutex
	sink         debugger.EventSink
	pendingLoads []int
	cfg          *debugger.Config
	paused       bool
	current      *lua.LState // state the hook parked in; nil while running
	stepMode     int
	stepDepth    int
	stepState    *lua.LState // state the step was armed in

	coroMu sync.Mutex
	coros  map[*lua.LState]string
	nCoros int

	stopOnEntry bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStopOnEntry makes the engine pause at the first statement instead
// of running until a breakpoint. On by default for bridge use, so
// clients can install breakpoints before anything executes.
func WithStopOnEntry(on bool) Option {
	return func(e *Engine) {
		e.stopOnEntry = on
	}
}

// New creates an engine with a fresh interpreter.
func New(opts ...Option) *Engine {
	e := &Engine{
		L:           lua.NewState(),
		sources:     &sourceTable{},
		controlCh:   make(chan debugger.Action, 1),
		cfg:         debugger.NewConfig(),
		coros:       make(map[*lua.LState]string),
		stopOnEntry: true,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.L.SetGlobal(hookGlobal, e.L.NewFunction(e.hookFn))
	e.wrapCoroutineCreate()

	if e.stopOnEntry {
		e.stepMode = stepIn
	}
	return e
}

// Close releases the interpreter.
func (e *Engine) Close() {
	e.L.Close()
}

// Version names the interpreter.
func (e *Engine) Version() string {
	return fmt.Sprintf("%s (%s)", lua.LuaVersion, lua.PackageName)
}

// Config returns the shared session configuration.
func (e *Engine) Config() *debugger.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SetSink registers the event sink. Passing nil unregisters. Sources
// loaded before a sink was registered are announced to the new sink, so
// a client attaching after startup still learns about the script.
func (e *Engine) SetSink(sink debugger.EventSink) {
	e.mu.Lock()
	e.sink = sink
	pending := e.pendingLoads
	e.pendingLoads = nil
	e.mu.Unlock()

	if sink == nil {
		return
	}
	for _, idx := range pending {
		sink.OnSourceLoaded(idx)
	}
}

// currentSink returns the registered sink, or nil.
func (e *Engine) currentSink() debugger.EventSink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

// LoadFile reads, instruments, and compiles a script, registering it as
// a debuggable source.
func (e *Engine) LoadFile(path string) (int, error) {
	return e.LoadFileAs(path, path)
}

// LoadFileAs registers a source under name while reading its content
// from diskPath. The two differ when an override file substitutes the
// originally named script.
func (e *Engine) LoadFileAs(name, diskPath string) (int, error) {
	content, err := os.ReadFile(diskPath)
	if err != nil {
		return 0, fmt.Errorf("read source %s: %w", diskPath, err)
	}
	return e.load(name, diskPath, content)
}

// LoadString registers an in-memory chunk as a debuggable source.
func (e *Engine) LoadString(name, code string) (int, error) {
	return e.load(name, name, []byte(code))
}

// load parses, instruments, and compiles one chunk.
func (e *Engine) load(name, diskPath string, content []byte) (int, error) {
	chunk, err := parse.Parse(bytes.NewReader(content), name)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}

	src := &source{name: name}
	if diskPath != name {
		src.diskPath = diskPath
	}
	idx := e.sources.add(src)

	instrumented, lines := instrument(chunk, idx)
	src.armable = lines

	proto, err := lua.Compile(instrumented, name)
	if err != nil {
		return 0, fmt.Errorf("compile %s: %w", name, err)
	}
	src.proto = proto

	e.mu.Lock()
	sink := e.sink
	if sink == nil {
		e.pendingLoads = append(e.pendingLoads, idx)
	}
	e.mu.Unlock()
	if sink != nil {
		sink.OnSourceLoaded(idx)
	}
	return idx, nil
}

// Run executes a loaded source to completion on the calling goroutine.
// Runtime errors are matched against the error-trap pattern inside an
// error handler, so a trapped error pauses with its stack still live.
func (e *Engine) Run(idx int) error {
	src := e.sources.get(idx)
	if src == nil || src.proto == nil {
		return debugger.ErrUnknownSource
	}

	handler := e.L.NewFunction(e.errHandler)
	e.L.Push(e.L.NewFunctionFromProto(src.proto))

	err := e.L.PCall(0, lua.MultRet, handler)
	if err != nil {
		if sink := e.currentSink(); sink != nil {
			sink.OnRuntimeError(err)
		}
	}

	if sink := e.currentSink(); sink != nil {
		sink.OnExecutionEnded()
	}
	return err
}

// errHandler runs while the errored stack is still live. A trapped
// error pauses right here so the user can inspect it before unwinding.
func (e *Engine) errHandler(L *lua.LState) int {
	msg := L.Get(1).String()

	e.mu.Lock()
	trap := e.cfg.TrapsError(msg)
	e.mu.Unlock()

	if trap && !e.parked.Load() && !e.detached.Load() {
		e.parkHere(L)
	}

	L.Push(L.Get(1))
	return 1
}

// Queue enqueues a control action without blocking. Actions queued
// while the script is already running are dropped; there is nothing for
// them to resume.
func (e *Engine) Queue(a debugger.Action) {
	select {
	case e.controlCh <- a:
	default:
	}
}

// RequestPause asks the hook to stop at the next statement.
func (e *Engine) RequestPause() {
	e.pauseReq.Store(true)
}

// Detach ends the debugging session: clears every armed breakpoint,
// disarms stepping and any pending pause, suppresses future parking,
// and resumes a parked script. The script then runs to completion with
// nobody watching.
func (e *Engine) Detach() {
	e.detached.Store(true)
	e.pauseReq.Store(false)
	e.sources.clearAllBreakpoints()

	e.mu.Lock()
	e.stepMode = stepNone
	e.mu.Unlock()

	e.Queue(debugger.ActionRun)
}

// hookFn is the injected line hook: __luadap_line(srcIdx, line).
func (e *Engine) hookFn(L *lua.LState) int {
	srcIdx := int(L.CheckNumber(1))
	line := int(L.CheckNumber(2))
	e.lineEvent(L, srcIdx, line)
	return 0
}

// lineEvent decides whether to stop at (srcIdx, line). Hook calls made
// by evaluation while already parked never re-stop.
func (e *Engine) lineEvent(L *lua.LState, srcIdx, line int) {
	if e.parked.Load() || e.detached.Load() {
		return
	}

	stop := e.pauseReq.CompareAndSwap(true, false)
	if !stop && e.sources.hasBreakpoint(srcIdx, line) {
		stop = true
	}
	if !stop {
		e.mu.Lock()
		switch e.stepMode {
		case stepIn:
			stop = true
		case stepOver:
			stop = e.stepState == L && stackDepth(L) <= e.stepDepth
		case stepOut:
			stop = e.stepState == L && stackDepth(L) < e.stepDepth
		}
		e.mu.Unlock()
	}

	if stop {
		e.parkHere(L)
	}
}

// parkHere publishes the paused state, notifies the sink, and blocks
// until the adapter queues a control action, which arms the next step
// state before execution resumes.
func (e *Engine) parkHere(L *lua.LState) {
	// Drop any action queued while running; it has nothing to resume
	// and would skip this stop. A detach racing this drain is caught
	// by the flag check: Detach sets the flag before queueing.
	select {
	case <-e.controlCh:
	default:
	}
	if e.detached.Load() {
		return
	}

	e.mu.Lock()
	e.paused = true
	e.current = L
	e.stepMode = stepNone
	sink := e.sink
	e.mu.Unlock()
	e.parked.Store(true)

	if sink != nil {
		sink.OnWatchesChanged(debugger.WatchCallStack)
		sink.OnWatchesChanged(debugger.WatchLocals)
		sink.OnStop()
	}

	action := <-e.controlCh

	e.mu.Lock()
	switch action {
	case debugger.ActionStepIn:
		e.stepMode = stepIn
	case debugger.ActionStepOver:
		e.stepMode = stepOver
		e.stepDepth = stackDepth(L)
		e.stepState = L
	case debugger.ActionStepOut:
		e.stepMode = stepOut
		e.stepDepth = stackDepth(L)
		e.stepState = L
	default:
		e.stepMode = stepNone
	}
	e.paused = false
	e.current = nil
	e.mu.Unlock()
	e.parked.Store(false)
}

// stackDepth counts the live frames of a state.
func stackDepth(L *lua.LState) int {
	depth := 0
	for {
		if _, ok := L.GetStack(depth); !ok {
			return depth
		}
		depth++
	}
}

// Evaluate runs an expression in the global context of the paused
// script. Compile and runtime failures go to the sink's error callback
// and yield a nil value; the caller still gets a completed evaluation.
func (e *Engine) Evaluate(expr string) (debugger.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.paused || e.current == nil {
		return nil, debugger.ErrNotPaused
	}
	L := e.current

	fn, err := L.LoadString("return " + expr)
	if err != nil {
		fn, err = L.LoadString(expr)
	}
	if err != nil {
		if e.sink != nil {
			e.sink.OnRuntimeError(fmt.Errorf("evaluate %q: %w", expr, err))
		}
		return nil, nil
	}

	top := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		if e.sink != nil {
			e.sink.OnRuntimeError(err)
		}
		L.SetTop(top)
		return nil, nil
	}

	result := L.Get(-1)
	L.SetTop(top)
	return wrapValue(result), nil
}

// Watches reports live debugger state. Only meaningful while paused;
// otherwise the lists are nil.
func (e *Engine) Watches(kind debugger.WatchKind) []debugger.WatchItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch kind {
	case debugger.WatchCallStack:
		return e.callStackLocked()
	case debugger.WatchLocals:
		return e.localsLocked()
	case debugger.WatchThreads:
		return e.threadsLocked()
	default:
		return nil
	}
}

// callStackLocked walks the paused state's frames, innermost first.
func (e *Engine) callStackLocked() []debugger.WatchItem {
	if !e.paused || e.current == nil {
		return nil
	}
	L := e.current

	var items []debugger.WatchItem
	for level := 0; ; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			break
		}
		if _, err := L.GetInfo("nSl", dbg, lua.LNil); err != nil {
			break
		}
		if dbg.What == "G" && dbg.Name == hookGlobal {
			continue // the injected hook's own frame
		}

		item := debugger.WatchItem{
			Name:      frameName(dbg),
			SourceIdx: debugger.NoSource,
			StartLine: dbg.CurrentLine,
			EndLine:   dbg.LastLineDefined,
		}
		if dbg.What != "G" {
			if idx, ok := e.sources.findByChunkName(dbg.Source); ok {
				item.SourceIdx = idx
			}
		}
		items = append(items, item)
	}
	return items
}

// localsLocked lists the locals of the innermost Lua frame.
func (e *Engine) localsLocked() []debugger.WatchItem {
	if !e.paused || e.current == nil {
		return nil
	}
	L := e.current

	dbg := innermostLuaFrame(L)
	if dbg == nil {
		return nil
	}

	var items []debugger.WatchItem
	for i := 1; ; i++ {
		name, val := L.GetLocal(dbg, i)
		if name == "" {
			break
		}
		if name == "(*temporary)" {
			continue
		}
		items = append(items, debugger.WatchItem{
			Name:      name,
			Value:     wrapValue(val),
			SourceIdx: debugger.NoSource,
		})
	}
	return items
}

// innermostLuaFrame finds the first script frame below the hook.
func innermostLuaFrame(L *lua.LState) *lua.Debug {
	for level := 0; ; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			return nil
		}
		if _, err := L.GetInfo("nSl", dbg, lua.LNil); err != nil {
			return nil
		}
		if dbg.What != "G" {
			return dbg
		}
	}
}

// threadsLocked lists the live coroutines plus the main state.
func (e *Engine) threadsLocked() []debugger.WatchItem {
	items := []debugger.WatchItem{{Name: "(main coroutine)", SourceIdx: debugger.NoSource}}

	e.coroMu.Lock()
	for _, name := range e.coros {
		items = append(items, debugger.WatchItem{Name: name, SourceIdx: debugger.NoSource})
	}
	e.coroMu.Unlock()

	return items
}

// CurrentCoroutine names the coroutine the engine is paused in, or ""
// for the main state.
func (e *Engine) CurrentCoroutine() string {
	e.mu.Lock()
	current := e.current
	e.mu.Unlock()

	if current == nil || current == e.L {
		return ""
	}

	e.coroMu.Lock()
	defer e.coroMu.Unlock()
	return e.coros[current]
}

// FindSource maps a client path to a source index.
func (e *Engine) FindSource(path string) (int, bool) {
	return e.sources.find(path)
}

// SourcePath returns the registered path for a source index.
func (e *Engine) SourcePath(idx int) string {
	src := e.sources.get(idx)
	if src == nil {
		return ""
	}
	return src.name
}

// SourceOverride returns the substituted on-disk file for a source, or
// false when it was read from its registered path.
func (e *Engine) SourceOverride(idx int) (string, bool) {
	src := e.sources.get(idx)
	if src == nil || src.diskPath == "" {
		return "", false
	}
	return src.diskPath, true
}

// SetBreakpoints replaces the armed set for one source and returns the
// lines that were actually armed.
func (e *Engine) SetBreakpoints(idx int, lines []int) []int {
	return e.sources.setBreakpoints(idx, lines)
}

// ArmableLines returns the lines a breakpoint can be set on.
func (e *Engine) ArmableLines(idx int) []int {
	return e.sources.armableLines(idx)
}

// coroutineWrapShim reimplements coroutine.wrap on top of create, so
// wrap-made coroutines go through the naming wrapper too.
const coroutineWrapShim = `
local create, resume = coroutine.create, coroutine.resume
coroutine.wrap = function(f)
	local co = create(f)
	return function(...)
		return select(2, assert(resume(co, ...)))
	end
end
`

// wrapCoroutineCreate replaces coroutine.create with a wrapper that
// names each created thread, so the bridge can identify the coroutine a
// pause landed in. coroutine.wrap is rebuilt on top of it.
func (e *Engine) wrapCoroutineCreate() {
	coro, ok := e.L.GetGlobal("coroutine").(*lua.LTable)
	if !ok {
		return
	}
	orig := coro.RawGetString("create")

	coro.RawSetString("create", e.L.NewFunction(func(L *lua.LState) int {
		L.Push(orig)
		L.Push(L.CheckFunction(1))
		L.Call(1, 1)
		thread := L.Get(-1)

		if co, ok := thread.(*lua.LState); ok {
			e.coroMu.Lock()
			e.nCoros++
			e.coros[co] = fmt.Sprintf("coroutine #%d", e.nCoros)
			e.coroMu.Unlock()
		}
		return 1
	}))

	if err := e.L.DoString(coroutineWrapShim); err != nil {
		panic(fmt.Sprintf("install coroutine.wrap shim: %v", err))
	}
}

// frameName renders a frame's display name. The What checks come
// first: the interpreter fills Name with "main chunk" for the main
// function, and the sentinel spelling wins over that.
func frameName(dbg *lua.Debug) string {
	switch {
	case dbg.What == "main":
		return "(main chunk)"
	case dbg.What == "G":
		if dbg.Name != "" {
			return dbg.Name
		}
		return "(native)"
	case dbg.Name != "":
		return dbg.Name
	default:
		return "(anonymous)"
	}
}
