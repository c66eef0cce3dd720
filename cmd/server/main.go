package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophsync/internal/server"
	"github.com/dmitrijs2005/gophsync/internal/server/config"
	"github.com/spf13/cobra"
)

// Server flags are single-dash (-a, -d, -log-file, ...) and parsed by
// config.Load, so cobra leaves them alone.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Reference sync server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := &cobra.Command{
		Use:                "serve [flags]",
		Short:              "Serve the gRPC sync endpoint and the change stream",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args)
			if err != nil {
				return err
			}
			app, err := server.NewApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}

	migrate := &cobra.Command{
		Use:                "migrate [flags]",
		Short:              "Apply the database schema and exit",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args)
			if err != nil {
				return err
			}
			if cfg.DatabaseDSN == "" {
				return fmt.Errorf("migrate needs a database DSN (-d)")
			}
			return server.Migrate(cmd.Context(), cfg.DatabaseDSN)
		},
	}

	root.AddCommand(serve, migrate)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}
