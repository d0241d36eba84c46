package main

import (
	"fmt"
	"time"

	"github.com/danmuck/devexec/internal/device"
	"github.com/danmuck/devexec/internal/shell"
	"github.com/danmuck/devexec/internal/tools"
	"github.com/spf13/cobra"
)

type runFlags struct {
	timeout     time.Duration
	idleTimeout time.Duration
	protocol    string
	stdin       bool
	noCRLF      bool
}

func newRunCmd(global *globalFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <serial> -- <command> [args...]",
		Short: "Run a command on a device and stream its output",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			exec := cfg.Exec.Command(commandLine(args[1:]))
			if cmd.Flags().Changed("timeout") {
				exec = exec.WithTimeout(flags.timeout)
			}
			if cmd.Flags().Changed("idle-timeout") {
				exec = exec.WithIdleTimeout(flags.idleTimeout)
			}
			if flags.protocol != "" {
				p, err := shell.ParseProtocol(flags.protocol)
				if err != nil {
					return err
				}
				exec = exec.Force(p)
			}
			if flags.stdin {
				exec = exec.WithStdin(cmd.InOrStdin())
			}
			if flags.noCRLF {
				exec = exec.WithStripCRLF(false)
			}

			executor := shell.NewExecutor(device.NewClient(cfg.Host))
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			for line, err := range shell.Stream(cmd.Context(), executor, args[0], exec, shell.NewLineCollector()) {
				if err != nil {
					return err
				}
				switch line.Stream {
				case shell.EventStderr:
					fmt.Fprintln(errOut, line.Text)
				case shell.EventExit:
					if line.ExitCode != 0 {
						return exitError{code: line.ExitCode}
					}
				default:
					fmt.Fprintln(out, line.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&flags.timeout, "timeout", "t", 0, "overall timeout (0 = unbounded)")
	cmd.Flags().DurationVar(&flags.idleTimeout, "idle-timeout", 0, "fail when no output arrives for this long (0 = off)")
	cmd.Flags().StringVarP(&flags.protocol, "protocol", "p", "", "force a protocol: multiplexed, raw-with-exit or raw-merged")
	cmd.Flags().BoolVarP(&flags.stdin, "stdin", "i", false, "forward local stdin to the command")
	cmd.Flags().BoolVar(&flags.noCRLF, "no-crlf-strip", false, "keep CRLF line endings from legacy devices")
	return cmd
}

func newFeaturesCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "features <serial>",
		Short: "List the features a device advertises",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			features, err := device.NewClient(cfg.Host).Features(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, f := range features.List() {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}

// commandLine passes a lone argument through as a shell script and quotes
// each word of a longer argv.
func commandLine(argv []string) string {
	if len(argv) == 1 {
		return argv[0]
	}
	return tools.Join(argv)
}
