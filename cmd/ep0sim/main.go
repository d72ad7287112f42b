// Command ep0sim enumerates a simulated USB device and inspects capture
// files.
//
// The run subcommand builds a device from its flags, serves it with the
// usbcore endpoint 0 engine on the in-memory FIFO controller, and enumerates
// it with a scripted host. Every controller operation can be printed as a
// trace or written to a CBOR capture file. The dump subcommand prints a
// capture file.
//
// Usage:
//
//	ep0sim run [flags]
//	ep0sim dump [flags] <capture-file>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbcore/pkg"
	"github.com/ardnew/usbcore/pkg/prof"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentSim

var (
	logLevel string
	jsonLog  bool
	profCfg  prof.Config
	profiler *prof.Session
)

var rootCmd = &cobra.Command{
	Use:           "ep0sim",
	Short:         "Simulate USB device enumeration over endpoint 0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := pkg.ParseLogLevel(logLevel)
		if err != nil {
			return err
		}
		pkg.SetLogLevel(level)
		if jsonLog {
			pkg.SetLogFormat(pkg.LogFormatJSON, cmd.ErrOrStderr())
		} else {
			pkg.SetLogFormat(pkg.LogFormatText, cmd.ErrOrStderr())
		}
		profiler, err = prof.Start(profCfg)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json", false, "use JSON log format")
	rootCmd.PersistentFlags().StringVar(&profCfg.CPU, "cpuprofile", "", "write a CPU profile (requires the profile build tag)")
	rootCmd.PersistentFlags().StringVar(&profCfg.Heap, "memprofile", "", "write a heap profile (requires the profile build tag)")
	rootCmd.PersistentFlags().StringVar(&profCfg.Block, "blockprofile", "", "write a block profile (requires the profile build tag)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDumpCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if perr := profiler.Stop(); perr != nil {
		pkg.LogWarn(component, "profiling failed", "error", perr)
	}
	if err != nil {
		pkg.LogError(component, "command failed", "error", err)
		fmt.Fprintln(os.Stderr, "ep0sim:", err)
		cancel()
		os.Exit(1)
	}
}
