package adapter

import (
	"strings"

	"github.com/dshills/luadap/internal/debugger"
)

// CommandMarker prefixes REPL input that is a bridge command rather than
// script code.
const CommandMarker = "!"

const replUsage = `Bridge commands:
  !help                     show this text
  !geterror                 show the current error trap pattern
  !seterror <pattern>       set the error trap pattern (Go regexp)
  !execendnotify [on|off]   show or set end-of-execution notification`

// replCommand pairs a command word with its handler. Commands are
// matched in order by prefix, so the list stays the grammar.
type replCommand struct {
	name string
	run  func(arg string)
}

// repl interprets the bridge's embedded command language. All output
// goes through the adapter's console channel.
type repl struct {
	cfg      *debugger.Config
	out      func(format string, args ...interface{})
	commands []replCommand
}

func newRepl(cfg *debugger.Config, out func(format string, args ...interface{})) *repl {
	r := &repl{cfg: cfg, out: out}
	r.commands = []replCommand{
		{"help", r.help},
		{"geterror", r.getError},
		{"seterror", r.setError},
		{"execendnotify", r.execEndNotify},
	}
	return r
}

// Run interprets one command line, already stripped of the marker.
func (r *repl) Run(line string) {
	line = strings.TrimSpace(line)

	for _, cmd := range r.commands {
		if !strings.HasPrefix(line, cmd.name) {
			continue
		}
		rest := line[len(cmd.name):]
		if rest != "" && !strings.HasPrefix(rest, " ") {
			continue // longer word, not this command
		}
		cmd.run(strings.TrimSpace(rest))
		return
	}

	r.out("Syntax error.")
	r.help("")
}

func (r *repl) help(string) {
	r.out("%s", replUsage)
}

func (r *repl) getError(string) {
	r.out("Error trap pattern: %s", r.cfg.ErrorTrap().String())
}

func (r *repl) setError(arg string) {
	if arg == "" {
		r.out("Syntax error: seterror requires a pattern.")
		return
	}
	if err := r.cfg.SetErrorTrap(arg); err != nil {
		r.out("Cannot compile pattern: %v", err)
		return
	}
	r.out("Error trap pattern: %s", r.cfg.ErrorTrap().String())
}

func (r *repl) execEndNotify(arg string) {
	switch arg {
	case "on":
		r.cfg.SetNotifyOnEnd(true)
	case "off":
		r.cfg.SetNotifyOnEnd(false)
	case "":
		// report only
	default:
		r.out("Syntax error: expected 'on' or 'off'.")
		return
	}

	if r.cfg.NotifyOnEnd() {
		r.out("Execution end notification is on.")
	} else {
		r.out("Execution end notification is off.")
	}
}
