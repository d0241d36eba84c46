package main

import (
	"github.com/danmuck/devexec/internal/device"
	"github.com/danmuck/devexec/internal/server"
	"github.com/danmuck/devexec/internal/shell"
	"github.com/spf13/cobra"
)

func newServeCmd(global *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			client := device.NewClient(cfg.Host)
			srv := server.New(server.Options{
				Addr:        cfg.Server.Addr,
				Token:       cfg.Server.Token,
				CorsOrigins: cfg.Server.CorsOrigins,
				Defaults:    cfg.Exec,
			}, shell.NewExecutor(client), client)
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
