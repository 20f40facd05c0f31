package debugger

import (
	"regexp"
	"sync"
)

// DefaultErrorTrap matches every runtime error, so any trapped error
// pauses execution until the user narrows the pattern.
const DefaultErrorTrap = ".*"

// Config is the process-wide debugging session configuration. It lives
// for the adapter's lifetime and is mutated only through REPL commands;
// the engine reads the trap pattern, the event relay reads the
// end-of-execution flag.
type Config struct {
	mu          sync.Mutex
	errorTrap   *regexp.Regexp
	notifyOnEnd bool
}

// NewConfig returns a Config with the default error trap installed and
// end-of-execution notification disabled.
func NewConfig() *Config {
	return &Config{errorTrap: regexp.MustCompile(DefaultErrorTrap)}
}

// ErrorTrap returns the current error-trap pattern.
func (c *Config) ErrorTrap() *regexp.Regexp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorTrap
}

// SetErrorTrap compiles pattern and installs it as the new error trap.
// On a compile error the previous pattern is retained.
func (c *Config) SetErrorTrap(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.errorTrap = re
	c.mu.Unlock()
	return nil
}

// TrapsError reports whether msg matches the installed trap pattern.
func (c *Config) TrapsError(msg string) bool {
	return c.ErrorTrap().MatchString(msg)
}

// NotifyOnEnd reports whether end-of-execution notification is enabled.
func (c *Config) NotifyOnEnd() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifyOnEnd
}

// SetNotifyOnEnd updates the end-of-execution notification flag.
func (c *Config) SetNotifyOnEnd(on bool) {
	c.mu.Lock()
	c.notifyOnEnd = on
	c.mu.Unlock()
}
