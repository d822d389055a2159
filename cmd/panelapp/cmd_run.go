package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yungbote/panelapp-backend/internal/app"
	"github.com/yungbote/panelapp-backend/internal/platform/shutdown"
)

func runServe(cmd *cobra.Command, args []string) error {
	return runApp(cmd.Context(), func(c *app.Config) {
		c.RunServer = true
		if port != "" {
			c.Port = port
		}
	})
}

func runWorker(cmd *cobra.Command, args []string) error {
	return runApp(cmd.Context(), func(c *app.Config) {
		c.RunServer = false
		c.RunWorker = true
	})
}

func runApp(ctx context.Context, opt app.Option) error {
	a, err := app.New(configOptions(opt)...)
	if err != nil {
		return err
	}
	defer a.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := shutdown.NotifyContext(ctx)
	defer stop()
	return a.Run(ctx)
}

// runMigrate relies on app.New migrating the schema on startup.
func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := app.New(configOptions()...)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Log.Info("Schema up to date", "driver", a.Cfg.DatabaseDriver)
	return nil
}
