package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/aegis/internal/app"
	"github.com/dvloznov/aegis/internal/config"
	"github.com/dvloznov/aegis/internal/logger"
)

// cli carries the services built once the root command runs.
type cli struct {
	app *app.App
	log zerolog.Logger
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	c := &cli{}
	var debug bool

	root := &cobra.Command{
		Use:           "aegis",
		Short:         "Aegis financial data assistant CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if debug {
			cfg.LogLevel = "debug"
		}
		c.log = logger.NewFromConfig(cfg.LogLevel, cfg.LogFormat)

		ctx := logger.WithContext(cmd.Context(), c.log)
		cmd.SetContext(ctx)
		c.app, err = app.New(ctx, cfg, c.log)
		return err
	}
	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if c.app != nil {
			c.app.Close()
		}
	}

	root.AddCommand(c.chatCommand(), c.etlCommand(), c.reportsCommand())
	root.SetContext(context.Background())
	return root
}
