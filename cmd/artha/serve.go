package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/artha/config"
	"github.com/mohammad-safakhou/artha/internal/runtime"
	srv "github.com/mohammad-safakhou/artha/internal/server"
	"github.com/spf13/cobra"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := runtime.Build(ctx, cfg, runtime.Options{ServiceVersion: version})
			if err != nil {
				return err
			}
			defer rt.Close()
			return srv.Run(ctx, rt, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.address)")

	return serve
}
