package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"utp-reporta/config"
	"utp-reporta/core/appbootstrap"
	"utp-reporta/core/utils"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string
	logger := utils.NewLogger()

	loadConfig := func() (*config.AppConfig, error) {
		return config.Load(configPath)
	}

	rootCmd := &cobra.Command{
		Use:           "reporta",
		Short:         "UTP Reporta campus incident backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("REPORTA_CONFIG"), "Path to YAML config; environment variables are used when empty")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, push hub and zone reset scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			app, err := appbootstrap.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(ctx)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return appbootstrap.Migrate(cmd.Context(), cfg, logger)
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep-zones",
		Short: "Reset zones whose 7-day window has expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := appbootstrap.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			changes, err := app.SweepZones(cmd.Context())
			for _, c := range changes {
				fmt.Fprintf(cmd.OutOrStdout(), "zone %d %s: %s -> %s\n", c.Zone.ID, c.Zone.Name, c.Previous, c.Current)
			}
			return err
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd)
	return rootCmd
}
