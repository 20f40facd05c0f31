package cli

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/luadap/internal/adapter"
	"github.com/dshills/luadap/internal/dap"
	"github.com/dshills/luadap/internal/engine"
)

type runOptions struct {
	listen      string
	logPath     string
	stopOnEntry bool
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run <script.lua>",
		Short: "Run a Lua script under the debug adapter",
		Long: `Run a Lua script under the debug adapter.

The script pauses at its first statement (unless --stop-on-entry=false)
and waits for a DAP client to drive it. Without --listen the adapter
speaks DAP on stdin/stdout, so it must be launched by a DAP client, not
from an interactive shell.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "serve one DAP client on this TCP address instead of stdio")
	cmd.Flags().StringVar(&opts.logPath, "log", "", "write adapter logs to this file")
	cmd.Flags().BoolVar(&opts.stopOnEntry, "stop-on-entry", true, "pause at the first statement of the script")

	return cmd
}

func runBridge(script string, opts runOptions) error {
	logger, closeLog, err := newLogger(opts.logPath)
	if err != nil {
		return err
	}
	defer closeLog()

	transport, err := openTransport(opts.listen, logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	e := engine.New(engine.WithStopOnEntry(opts.stopOnEntry))
	defer e.Close()

	srv := dap.NewServer(transport, logger)
	srv.SetHandler(adapter.New(e, srv, logger))

	idx, err := e.LoadFile(script)
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- e.Run(idx)
	}()

	serveErr := srv.Serve()
	if serveErr != nil {
		logger.Warn().Err(serveErr).Msg("dap session ended with error")
	}

	// The client is gone; disarm the debugger and let a parked script
	// run to completion.
	e.Detach()
	return <-runErr
}

// openTransport picks TCP when a listen address is given, stdio
// otherwise. Stdio mode is refused on a terminal, where DAP framing
// would be typed by hand.
func openTransport(listen string, logger zerolog.Logger) (dap.Transport, error) {
	if listen == "" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, errors.New("stdin is a terminal; use --listen or launch from a DAP client")
		}
		return dap.NewStdioTransport(), nil
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listen, err)
	}
	logger.Info().Str("addr", ln.Addr().String()).Msg("waiting for DAP client")

	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("client connected")

	return dap.NewConnTransport(conn), nil
}

// newLogger writes to the given file, or discards everything when no
// path is set. Stdout is the DAP channel and must stay clean.
func newLogger(path string) (zerolog.Logger, func(), error) {
	if path == "" {
		return zerolog.Nop(), func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("open log file: %w", err)
	}

	logger := zerolog.New(f).With().Timestamp().Logger()
	return logger, func() { f.Close() }, nil
}
