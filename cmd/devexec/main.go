package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/devexec/internal/config"
	"github.com/danmuck/devexec/internal/logging"
	"github.com/spf13/cobra"
)

// exitError carries the remote exit code out of Execute.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.code)
}

type globalFlags struct {
	configPath string
	envFiles   []string
	host       string
}

func (g *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(g.configPath, g.envFiles...)
	if err != nil {
		return config.Config{}, err
	}
	if g.host != "" {
		cfg.Host.Session.Address = g.host
	}
	return cfg, nil
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "devexec",
		Short:         "devexec - remote command execution on attached devices",
		Long:          `devexec runs shell commands on devices behind a local host daemon, streaming output and reporting exit codes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "TOML config file")
	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files to read DEVEXEC_* overrides from")
	root.PersistentFlags().StringVar(&flags.host, "host", "", "host daemon address (overrides config)")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newFeaturesCmd(flags))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newServeCmd(flags))
	return root
}

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
	var exit exitError
	switch {
	case err == nil:
	case errors.As(err, &exit):
		stop()
		os.Exit(exit.code)
	default:
		fmt.Fprintln(os.Stderr, "devexec:", err)
		stop()
		os.Exit(1)
	}
}
