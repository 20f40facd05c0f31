package adapter

import (
	"github.com/dshills/luadap/internal/dap"
	"github.com/dshills/luadap/internal/debugger"
)

// The adapter is the engine's event sink: engine callbacks arrive here,
// possibly on the engine's execution goroutine, and are translated into
// protocol events. Handle invalidation happens before the stop event is
// pushed so a client reacting to the event never sees stale references.

// OnStop relays an execution pause. The stop reason is always "step",
// whatever actually caused the pause; clients get cause details through
// the console channel instead.
func (a *Adapter) OnStop() {
	a.refs.Clear()

	body := dap.StoppedEventBody{
		Reason:            "step",
		ThreadID:          1,
		AllThreadsStopped: true,
	}
	if err := a.events.SendEvent("stopped", body); err != nil {
		a.log.Warn().Err(err).Msg("send stopped event")
	}
}

// OnWatchesChanged invalidates dynamic references when the call stack
// they were scoped to is superseded.
func (a *Adapter) OnWatchesChanged(kind debugger.WatchKind) {
	if kind == debugger.WatchCallStack {
		a.refs.Clear()
	}
}

// OnSourceLoaded announces a newly registered source on the console.
func (a *Adapter) OnSourceLoaded(idx int) {
	path := a.engine.SourcePath(idx)
	if disk, ok := a.engine.SourceOverride(idx); ok {
		a.console("Source loaded: %s (substituted on-disk file %s)", path, disk)
		return
	}
	a.console("Source loaded: %s", path)
}

// OnExecutionEnded reports script completion when the user asked for it
// via !execendnotify.
func (a *Adapter) OnExecutionEnded() {
	if a.cfg.NotifyOnEnd() {
		a.console("Execution ended.")
	}
}

// OnRuntimeError surfaces a runtime error as console text. This is the
// only channel for evaluation-triggered failures; the evaluate response
// itself stays successful.
func (a *Adapter) OnRuntimeError(err error) {
	a.console("Runtime error: %v", err)
}
