// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	leasherr "github.com/sigil-dev/leash/pkg/errors"
	"github.com/sigil-dev/leash/pkg/leash"
)

func newExecCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [flags] -- COMMAND [ARG...]",
		Short: "Run a command as a guarded, budgeted tool",
		Long: "Run COMMAND as a tool named after its executable (or --tool). Its argument vector is\n" +
			"checked by the guard under the \"argv\" argument and charged as the call's input.\n" +
			"Without --stream the whole stdout is the output; with --stream every stdout line\n" +
			"is an item charged before it is printed. With --stdin, stdin lines are fed to the\n" +
			"command as the \"stdin\" input stream, each guarded and charged.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			tool := flagString(cmd, "tool")
			if tool == "" {
				tool = filepath.Base(argv[0])
			}
			stream, _ := cmd.Flags().GetBool("stream")
			feed, _ := cmd.Flags().GetBool("stdin")

			args := leash.Args{"argv": anySlice(argv)}
			if feed {
				args["stdin"] = lines(cmd.InOrStdin())
			}
			p := &process{stderr: cmd.ErrOrStderr()}
			out := cmd.OutOrStdout()

			return a.withRuntime(func(rt *runtime) error {
				l := rt.leash(flagString(cmd, "scope"))
				if stream {
					for line, err := range l.WrapStream(tool, p.stream)(cmd.Context(), args) {
						if err != nil {
							return err
						}
						if _, err := fmt.Fprintln(out, line); err != nil {
							return err
						}
					}
					return nil
				}

				res, err := l.WrapFunc(tool, p.run)(cmd.Context(), args)
				if s, ok := res.(string); ok {
					_, _ = io.WriteString(out, s)
				}
				return err
			})
		},
	}
	cmd.Flags().String("tool", "", "tool name (executable base name when empty)")
	cmd.Flags().String("scope", "", "budget scope to charge (configured default when empty)")
	cmd.Flags().Bool("stream", false, "charge and print stdout line by line")
	cmd.Flags().Bool("stdin", false, "feed stdin lines to the command as a guarded input stream")
	return cmd
}

// process runs a subprocess described by call arguments.
type process struct {
	stderr io.Writer
}

func (p *process) command(ctx context.Context, args leash.Args) (*exec.Cmd, error) {
	raw, _ := args["argv"].([]any)
	argv := make([]string, 0, len(raw))
	for _, a := range raw {
		s, ok := a.(string)
		if !ok {
			return nil, leasherr.Errorf(leasherr.CodeCLIInputInvalid, "argv element %v is not a string", a)
		}
		argv = append(argv, s)
	}
	if len(argv) == 0 {
		return nil, leasherr.New(leasherr.CodeCLIInputInvalid, "argv is empty")
	}

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Stderr = p.stderr
	if in, ok := args["stdin"].(iter.Seq[any]); ok {
		w, err := c.StdinPipe()
		if err != nil {
			return nil, err
		}
		go func() {
			defer func() { _ = w.Close() }()
			for item := range in {
				if _, err := fmt.Fprintln(w, item); err != nil {
					return
				}
			}
		}()
	}
	return c, nil
}

// run executes the command to completion and returns its stdout.
func (p *process) run(ctx context.Context, args leash.Args) (any, error) {
	c, err := p.command(ctx, args)
	if err != nil {
		return nil, err
	}
	var stdout bytes.Buffer
	c.Stdout = &stdout
	if err := c.Run(); err != nil {
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// stream yields the command's stdout line by line. Stopping the iteration
// kills the process.
func (p *process) stream(ctx context.Context, args leash.Args) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		c, err := p.command(ctx, args)
		if err != nil {
			yield(nil, err)
			return
		}
		stdout, err := c.StdoutPipe()
		if err != nil {
			yield(nil, err)
			return
		}
		if err := c.Start(); err != nil {
			yield(nil, err)
			return
		}

		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			if !yield(sc.Text(), nil) {
				_ = c.Process.Kill()
				_ = c.Wait()
				return
			}
		}
		if err := sc.Err(); err != nil {
			_ = c.Wait()
			yield(nil, err)
			return
		}
		if err := c.Wait(); err != nil {
			yield(nil, err)
		}
	}
}

// lines yields r line by line.
func lines(r io.Reader) iter.Seq[any] {
	return func(yield func(any) bool) {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			if !yield(sc.Text()) {
				return
			}
		}
	}
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
