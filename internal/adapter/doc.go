// Package adapter maps the Debug Adapter Protocol onto a live script
// debugger.
//
// The protocol is stateless per request: clients echo small-integer
// references to name values and scopes they saw earlier. The debugger is
// a stateful, asynchronously pausing interpreter. The adapter owns the
// translation between the two:
//
//   - RefTable assigns dynamic references to evaluated values for the
//     lifetime of one stack inspection, and holds the two reserved
//     pseudo-scope references (Locals, Self).
//   - Adapter.HandleRequest dispatches each request, querying the engine
//     or the reference table and producing exactly one response.
//   - The engine's callbacks (implemented in events.go) push stopped and
//     output events independent of any pending request, and reset the
//     reference table whenever the call stack changes.
//   - A small command language (!help, !seterror, !geterror,
//     !execendnotify) is embedded in repl-context evaluate requests and
//     mutates the session configuration.
//
// Control actions never block: continue and the step variants enqueue on
// the engine and respond immediately; the resulting pause arrives later
// as a stopped event.
package adapter
