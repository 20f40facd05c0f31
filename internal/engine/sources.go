package engine

import (
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// source is one registered script: its identity, the compiled
// instrumented chunk, the lines a breakpoint can live on, and the
// currently armed breakpoint set.
type source struct {
	name     string // the path the source was registered under
	diskPath string // the file actually read, when it differs
	proto    *lua.FunctionProto
	armable  map[int]bool
	armed    map[int]bool
}

// sourceTable indexes sources by registration order. Indices are the
// engine's source handles.
type sourceTable struct {
	mu      sync.RWMutex
	sources []*source
}

// add registers a source and returns its index.
func (t *sourceTable) add(src *source) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	src.armed = make(map[int]bool)
	t.sources = append(t.sources, src)
	return len(t.sources) - 1
}

// get returns the source at idx, or nil when out of range.
func (t *sourceTable) get(idx int) *source {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if idx < 0 || idx >= len(t.sources) {
		return nil
	}
	return t.sources[idx]
}

// find maps a client path to a source index. Exact path match wins;
// otherwise a base-name match is accepted, since clients and scripts
// frequently disagree about absolute versus relative paths.
func (t *sourceTable) find(path string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	clean := filepath.Clean(path)
	for i, src := range t.sources {
		if filepath.Clean(src.name) == clean {
			return i, true
		}
	}
	base := filepath.Base(clean)
	for i, src := range t.sources {
		if filepath.Base(src.name) == base {
			return i, true
		}
	}
	return 0, false
}

// findByChunkName maps a compiled chunk name back to its source index.
func (t *sourceTable) findByChunkName(name string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, src := range t.sources {
		if src.name == name {
			return i, true
		}
	}
	return 0, false
}

// setBreakpoints replaces the armed set for one source with the armable
// subset of lines and returns that subset in request order.
func (t *sourceTable) setBreakpoints(idx int, lines []int) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < 0 || idx >= len(t.sources) {
		return nil
	}
	src := t.sources[idx]

	src.armed = make(map[int]bool)
	armed := make([]int, 0, len(lines))
	for _, line := range lines {
		if !src.armable[line] || src.armed[line] {
			continue
		}
		src.armed[line] = true
		armed = append(armed, line)
	}
	return armed
}

// clearAllBreakpoints disarms every breakpoint in every source.
func (t *sourceTable) clearAllBreakpoints() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, src := range t.sources {
		src.armed = make(map[int]bool)
	}
}

// hasBreakpoint reports whether (idx, line) is armed.
func (t *sourceTable) hasBreakpoint(idx, line int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if idx < 0 || idx >= len(t.sources) {
		return false
	}
	return t.sources[idx].armed[line]
}

// armableLines returns the sorted instrumented lines of a source.
func (t *sourceTable) armableLines(idx int) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if idx < 0 || idx >= len(t.sources) {
		return nil
	}
	lines := make([]int, 0, len(t.sources[idx].armable))
	for line := range t.sources[idx].armable {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	return lines
}
