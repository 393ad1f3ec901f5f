package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/devstd2211/smart-levels-trading-bot-sub006/internal/api"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/internal/app"
	"github.com/devstd2211/smart-levels-trading-bot-sub006/internal/config"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the trading bot",
	Long: `Start the trading bot. It connects to the market data feed, processes
candles through the strategy pool and manages positions until stopped.
SIGINT and SIGTERM trigger the graceful shutdown sequence: pending orders
are cancelled, open positions closed and the bot state persisted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().String("bind", "", "bind address for API server (overrides config)")
	startCmd.Flags().Int("port", 0, "port for API server (overrides config)")
	startCmd.Flags().StringSlice("symbols", nil, "symbols to trade (overrides config)")

	viper.BindPFlag("server.host", startCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", startCmd.Flags().Lookup("port"))
	viper.BindPFlag("stream.symbols", startCmd.Flags().Lookup("symbols"))
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	botApp := fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
		),
		app.Module,
		fx.Invoke(func(lc fx.Lifecycle, engine *app.Engine, server *api.Server) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := engine.Start(ctx); err != nil {
						return err
					}
					return server.Start(ctx)
				},
				OnStop: func(ctx context.Context) error {
					stopErr := engine.Stop(ctx)
					if err := server.Stop(ctx); err != nil && stopErr == nil {
						stopErr = err
					}
					return stopErr
				},
			})
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("shutdown signal received, stopping bot...")
		cancel()
	}()

	if err := botApp.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-ctx.Done()

	if err := botApp.Stop(context.Background()); err != nil {
		fmt.Printf("error during shutdown: %v\n", err)
	}
	return nil
}
