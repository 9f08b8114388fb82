package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fordtom/minions/pkg/client"
)

func main() {
	root := buildRoot(command{out: os.Stdout})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and every subcommand
func buildRoot(minionsCommand command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)

	root.AddCommand(
		createServeCommand(globalFlags),
		createListCommand(minionsCommand, globalFlags),
		createGetCommand(minionsCommand, globalFlags),
		createCreateCommand(minionsCommand, globalFlags),
		createUpdateCommand(minionsCommand, globalFlags),
		createDeleteCommand(minionsCommand, globalFlags),
		createStartCommand(minionsCommand, globalFlags),
		createStopCommand(minionsCommand, globalFlags),
		createReconcileCommand(minionsCommand, globalFlags),
		createHistoryCommand(minionsCommand, globalFlags),
		createResourcesCommand(minionsCommand, globalFlags),
		createUICommand(minionsCommand, globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "minions",
		Short: "Run and supervise nix flakes as long-lived processes",
		Long: `Minions keeps a registry of flake-based processes, starts and stops them,
and remembers what is running across daemon restarts.

Examples:
  minions serve                                   # Start daemon
  minions create --flake-url=github:me/bot --name=bot
  minions start 1
  minions list --api-url=http://remote:3000/api   # Remote list`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// addClientFlags registers the remote daemon connection flags.
func addClientFlags(cmd *cobra.Command, f *ClientFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default from --config, else "+client.DefaultBaseURL+")")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", client.DefaultTimeout, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "api-ca", "", "PEM file trusted for an https daemon")
	cmd.Flags().BoolVar(&f.Insecure, "api-insecure", false, "skip TLS certificate verification")
}

func clientFlags(g *GlobalFlags, f *ClientFlags) ClientFlags {
	out := *f
	out.ConfigPath = g.ConfigPath
	return out
}

func addInputFlags(cmd *cobra.Command, f *InputFlags) {
	cmd.Flags().StringVar(&f.FlakeURL, "flake-url", "", "flake reference to run (required)")
	cmd.Flags().StringVar(&f.Name, "name", "", "display name")
	cmd.Flags().StringVar(&f.Args, "args", "", "arguments passed to the flake, shell-quoted")
	cmd.Flags().StringVar(&f.EnvVars, "env", "", "environment in dotenv format, one KEY=value per line")
	cmd.Flags().StringVar(&f.EnvFile, "env-file", "", "read the environment from a dotenv file")
	if err := cmd.MarkFlagRequired("flake-url"); err != nil {
		panic(err)
	}
}

// changedFlags records which of the optional input flags were given.
func changedFlags(cmd *cobra.Command) map[string]bool {
	set := map[string]bool{}
	for _, n := range []string{"name", "args", "env", "env-file"} {
		if f := cmd.Flags().Lookup(n); f != nil && f.Changed {
			set[n] = true
		}
	}
	return set
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the minions daemon",
		Long: `Run the HTTP daemon that owns the process registry. Only one daemon may
use a given database at a time.

Managed processes keep running when the daemon exits unless --stop-on-exit
is given.

Examples:
  minions serve
  minions serve --config=minions.toml --stop-on-exit
  minions serve --daemonize --pidfile=/run/minions.pid --logfile=/var/log/minions.out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := *serveFlags
			flags.ConfigPath = globalFlags.ConfigPath
			return runServe(cmd.Context(), flags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.StopOnExit, "stop-on-exit", false, "stop processes started by this daemon on shutdown")
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon stdout/stderr to this file when daemonized")
	return cmd
}

func createListCommand(minionsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes with their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return minionsCommand.List(cmd.Context(), clientFlags(globalFlags, f))
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createGetCommand(minionsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return minionsCommand.Get(cmd.Context(), clientFlags(globalFlags, f), id)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createCreateCommand(minionsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ClientFlags{}
	in := &InputFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new process",
		Long: `Register a new process definition. It starts out STOPPED.

Examples:
  minions create --flake-url=github:me/bot
  minions create --flake-url=.#worker --name=worker --args="--queue jobs" --env-file=worker.env`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.set = changedFlags(cmd)
			return minionsCommand.Create(cmd.Context(), clientFlags(globalFlags, f), *in)
		},
	}
	addInputFlags(cmd, in)
	addClientFlags(cmd, f)
	return cmd
}

func createUpdateCommand(minionsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ClientFlags{}
	in := &InputFlags{}
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a stopped process definition",
		Long: `Replace every field of a process definition. Optional fields that are not
given are cleared. Running processes must be stopped first.

Examples:
  minions update 3 --flake-url=github:me/bot/v2 --name=bot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			in.set = changedFlags(cmd)
			return minionsCommand.Update(cmd.Context(), clientFlags(globalFlags, f), id, *in)
		},
	}
	addInputFlags(cmd, in)
	addClientFlags(cmd, f)
	return cmd
}

func createDeleteCommand(minionsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a process, terminating it first if running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return minionsCommand.Delete(cmd.Context(), clientFlags(globalFlags, f), id)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createStartCommand(minionsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return minionsCommand.Start(cmd.Context(), clientFlags(globalFlags, f), id)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createStopCommand(minionsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a process",
		Long: `Stop a running process: SIGTERM, then SIGKILL after the daemon's grace period.

Examples:
  minions stop 1
  minions stop 1 --api-timeout=1m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return minionsCommand.Stop(cmd.Context(), clientFlags(globalFlags, f), id)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createReconcileCommand(minionsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Mark RUNNING records whose process has exited as STOPPED",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return minionsCommand.Reconcile(cmd.Context(), clientFlags(globalFlags, f))
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createHistoryCommand(minionsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ClientFlags{}
	h := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show lifecycle events of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return minionsCommand.History(cmd.Context(), clientFlags(globalFlags, f), id, *h)
		},
	}
	cmd.Flags().IntVar(&h.Limit, "limit", 50, "maximum number of events")
	addClientFlags(cmd, f)
	return cmd
}

func createResourcesCommand(minionsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "resources <id>",
		Short: "Show CPU and memory samples of a running process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return minionsCommand.Resources(cmd.Context(), clientFlags(globalFlags, f), id)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createUICommand(minionsCommand command, globalFlags *GlobalFlags) *cobra.Command {
	f := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Browse and control processes in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return minionsCommand.UI(cmd.Context(), clientFlags(globalFlags, f))
		},
	}
	addClientFlags(cmd, f)
	return cmd
}
