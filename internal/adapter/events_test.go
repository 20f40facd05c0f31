package adapter

import (
	"errors"
	"testing"

	"github.com/dshills/luadap/internal/dap"
	"github.com/dshills/luadap/internal/debugger"
)

func TestOnStopClearsRefsAndReportsStep(t *testing.T) {
	a, engine, sender := newTestAdapter()
	engine.evalResults["x"] = scalar("number", "1")

	if _, err := a.HandleRequest(request(t, "evaluate", dap.EvaluateArguments{Expression: "x"})); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if a.refs.Len() == 0 {
		t.Fatal("no dynamic reference allocated")
	}

	a.OnStop()

	if a.refs.Len() != 0 {
		t.Errorf("refs.Len() = %d after stop, want 0", a.refs.Len())
	}

	events := sender.all()
	last := events[len(events)-1]
	if last.event != "stopped" {
		t.Fatalf("last event = %q, want %q", last.event, "stopped")
	}
	body := last.body.(dap.StoppedEventBody)
	if body.Reason != "step" {
		t.Errorf("Reason = %q, want %q", body.Reason, "step")
	}
	if body.ThreadID != 1 || !body.AllThreadsStopped {
		t.Errorf("stopped body = %#v", body)
	}
}

func TestOnWatchesChangedClearsOnStackChangeOnly(t *testing.T) {
	a, _, _ := newTestAdapter()

	a.refs.Add(scalar("number", "1"))
	a.OnWatchesChanged(debugger.WatchLocals)
	if a.refs.Len() != 1 {
		t.Error("locals change cleared references")
	}

	a.OnWatchesChanged(debugger.WatchCallStack)
	if a.refs.Len() != 0 {
		t.Error("stack change did not clear references")
	}
}

func TestOnSourceLoaded(t *testing.T) {
	a, engine, sender := newTestAdapter()
	engine.paths[0] = "script.lua"
	engine.paths[1] = "job.lua"
	engine.overridden[1] = "job_patched.lua"

	a.OnSourceLoaded(0)
	if !hasConsoleLine(sender, "Source loaded: script.lua") {
		t.Errorf("console = %v", sender.consoleLines())
	}

	a.OnSourceLoaded(1)
	if !hasConsoleLine(sender, "Source loaded: job.lua (substituted on-disk file job_patched.lua)") {
		t.Errorf("console = %v", sender.consoleLines())
	}
}

func TestOnExecutionEndedGatedByConfig(t *testing.T) {
	a, engine, sender := newTestAdapter()

	a.OnExecutionEnded()
	if hasConsoleLine(sender, "Execution ended.") {
		t.Error("notification sent while disabled")
	}

	engine.cfg.SetNotifyOnEnd(true)
	a.OnExecutionEnded()
	if !hasConsoleLine(sender, "Execution ended.") {
		t.Errorf("console = %v", sender.consoleLines())
	}
}

func TestOnRuntimeError(t *testing.T) {
	a, _, sender := newTestAdapter()

	a.OnRuntimeError(errors.New("attempt to index a nil value"))
	if !hasConsoleLine(sender, "Runtime error: attempt to index a nil value") {
		t.Errorf("console = %v", sender.consoleLines())
	}
}

func TestConsoleOutputShape(t *testing.T) {
	a, _, sender := newTestAdapter()

	a.console("hello")

	lines := sender.consoleLines()
	if len(lines) != 1 {
		t.Fatalf("got %d console lines, want 1", len(lines))
	}
	line := lines[0]
	if line[len(line)-1] != '\n' {
		t.Error("console line is not newline-terminated")
	}
	// "[15:04:05.000] hello\n"
	if line[0] != '[' || line[13] != ']' {
		t.Errorf("console line %q lacks the timestamp prefix", line)
	}
}
