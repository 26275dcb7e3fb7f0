package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	goruntime "runtime"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/qiushuiai/svcrun/internal/cli"
	"github.com/qiushuiai/svcrun/internal/paths"
	"github.com/qiushuiai/svcrun/internal/supervise"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagRoot    string
	flagJSON    bool
	flagQuiet   bool
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "svcrun",
		Short: "Supervise the platform's service processes",
		Long: `svcrun manages the lifecycle of the platform's long-running
services (backend, agents) using PID files as durable liveness state.

Each service gets start, stop, restart, and status operations with
graceful-then-forceful termination, stale PID file self-healing, and an
event journal of everything the supervisor did.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "Project root (directory containing svcrun.json)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Debug output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("svcrun v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	// Resolve --root to the nearest parent containing svcrun.json
	// (git-style traversal) unless the user set it explicitly.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if flagVerbose {
			log.SetLevel(log.DebugLevel)
		}
		if !cmd.Flags().Changed("root") {
			if root, err := paths.FindProjectRoot(flagRoot); err == nil {
				flagRoot = root
			}
			// Not found: keep "." and fall back to the built-in defaults
		}
		return nil
	}

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(restartCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <service>",
		Short: "Start a service in the background",
		Long: `Start a service as a detached background process.

Fails when a live process already owns the service's PID file; a stale
PID file left by an abnormal exit is cleaned up and the start proceeds.
Service output goes to logs/<service>.log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.ServiceStart(cmd.Context(), flagRoot, args[0])
			if err != nil {
				if errors.Is(err, supervise.ErrAlreadyRunning) {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				return err
			}
			printResult(result)
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <service>",
		Short: "Stop a service gracefully",
		Long: `Stop a service with SIGTERM, escalating to SIGKILL if it does not
exit within the grace window. Stopping a stopped service is a no-op
success.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.ServiceStop(cmd.Context(), flagRoot, args[0])
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <service>",
		Short: "Restart a service",
		Long: `Stop a service to completion, wait the settle delay so the OS can
release bound ports, then start it again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.ServiceRestart(cmd.Context(), flagRoot, args[0])
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <service>",
		Short: "Show service status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := cli.ServiceStatus(flagRoot, args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
			} else {
				fmt.Print(cli.FormatStatus(result))
			}

			// Exit code 1 when the service is not running (like systemctl status)
			if !result.Running {
				os.Exit(1)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <service>",
		Short: "Run a service in the foreground",
		Long: `Run a service attached to the terminal, blocking until it exits.

SIGINT/SIGTERM delivered to svcrun are forwarded to the service, the PID
file is removed, and svcrun exits cleanly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ServiceRun(cmd.Context(), flagRoot, args[0])
		},
	}
}

func historyCmd() *cobra.Command {
	var flagLimit int

	cmd := &cobra.Command{
		Use:   "history [service]",
		Short: "Show recent supervision events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service := ""
			if len(args) > 0 {
				service = args[0]
			}

			events, err := cli.History(flagRoot, service, flagLimit)
			if err != nil {
				return err
			}

			if flagJSON {
				output, _ := json.MarshalIndent(events, "", "  ")
				fmt.Println(string(output))
				return nil
			}
			fmt.Print(cli.FormatHistory(events))
			return nil
		},
	}
	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum number of events to show")
	return cmd
}

func printResult(result *cli.OpResult) {
	if flagJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return
	}
	if !flagQuiet {
		fmt.Print(cli.FormatOpResult(result))
	}
}
