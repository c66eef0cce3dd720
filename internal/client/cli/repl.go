package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// runREPL reads commands line by line and hands each to exec until EOF,
// "exit" or "quit". The prompt carries statusFn's text. Errors are printed
// and the loop goes on. Commands that prompt read from the same reader.
func runREPL(ctx context.Context, exec func(ctx context.Context, args []string) error, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("syncctl %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "exit", "quit":
			printlnFn("Bye!")
			return
		case "shell":
			printlnFn("Already in the shell")
			continue
		}

		if err := exec(ctx, parts); err != nil {
			printlnFn("Error:", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// shellCmd keeps one App open, syncs in the background when the server is
// reachable and runs the other subcommands interactively.
func shellCmd(r *Runner) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := r.session(ctx)
			if err != nil {
				return err
			}
			if err := a.Login(ctx); err != nil {
				a.Log.Info(ctx, "working without a server session", "error", err)
			}
			bg, cancel := context.WithCancel(ctx)
			defer cancel()
			a.Start(bg)

			status := func() string {
				s := string(a.Mode())
				if a.Config.Username != "" {
					s = a.Config.Username + " " + s
				}
				return "(" + s + ")"
			}
			exec := func(ctx context.Context, args []string) error {
				root := NewRootCmd(r)
				root.SetArgs(args)
				root.SetOut(cmd.OutOrStdout())
				root.SetErr(cmd.ErrOrStderr())
				return root.ExecuteContext(ctx)
			}

			fmt.Fprintln(r.out, "syncctl shell (type 'help' for commands, 'exit' to leave)")
			runREPL(ctx, exec, status, r.in)
			return nil
		},
	}
}
