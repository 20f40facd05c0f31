// Package cli wires the luadap commands.
package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dshills/luadap/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "luadap",
	Short: "Debug Adapter Protocol bridge for Lua scripts",
	Long: `luadap runs a Lua script under a line-level debugger and exposes it
over the Debug Adapter Protocol, so any DAP-capable editor can set
breakpoints, step, and inspect state.

By default the adapter speaks DAP on stdin/stdout, the transport most
editors launch debug adapters with. Use --listen to serve a single TCP
client instead.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			e := engine.New()
			defer e.Close()
			cmd.Printf("luadap (%s)\n", e.Version())
			cmd.Printf("Go version: %s\n", runtime.Version())
			cmd.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("luadap: %w", err)
	}
	return nil
}
