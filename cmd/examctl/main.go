// Command examctl is the operator tool of the examination engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, out io.Writer, args []string) error
}

var commands = []command{
	{name: "migrate", summary: "apply or verify the database schema", run: runMigrate},
	{name: "board", summary: "print the board of one venue day", run: runBoard},
	{name: "token", summary: "issue a QR token for a pending schedule", run: runToken},
	{name: "qr", summary: "write a QR token PNG for a pending schedule", run: runQR},
	{name: "sweep", summary: "mark ended pending schedules as no-show once", run: runSweep},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, os.Stdout, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, out io.Writer, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(out)
		return nil
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(ctx, out, args[1:])
		}
	}
	printUsage(out)
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage(out io.Writer) {
	color.New(color.FgCyan, color.Bold).Fprintln(out, "examctl: drone-pilot examination operator tool")
	fmt.Fprintln(out, "\nUsage:\n  examctl <command> [flags]\n\nCommands:")
	for _, cmd := range commands {
		fmt.Fprintf(out, "  %-8s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintln(out, "\nConfiguration is read from the environment and .env, like the API server.")
}

func newFlagSet(name string, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("examctl "+name, pflag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}
