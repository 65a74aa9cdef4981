package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/cmd/payments-api/app"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/configs"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/repo"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/logging"
)

var Version = "dev"

var (
	envName   string
	configDir string
)

func main() {
	env := os.Getenv("APP_ENV") // dev | staging | prod
	if env == "" {
		env = "dev"
	}

	rootCmd := &cobra.Command{
		Use:     "payments-api",
		Short:   "Marketplace checkout payments and provider webhook reconciliation",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVar(&envName, "env", env, "config overlay to load (dev, staging, prod)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "configs", "directory holding base.yaml and overlays")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (configs.Config, error) {
	cfg, err := configs.Load(configDir, envName)
	if err != nil {
		return configs.Config{}, err
	}
	logging.Init(cfg.App.Name, cfg.App.LogFile, cfg.App.LogLevel)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook endpoints and background consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if envName != "dev" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := app.InitWithConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			logging.New("main").Info("payments-api starting", "env", envName, "addr", cfg.App.HTTPAddr)
			return a.Run(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema for the configured store driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, err := app.OpenStore(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()
			if store.Exec == nil {
				return fmt.Errorf("store.driver %q has no schema", cfg.Store.Driver)
			}

			n, err := repo.Migrate(ctx, cfg.Store.Driver, store.Exec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d statements (%s)\n", n, cfg.Store.Driver)
			return nil
		},
	}
}
