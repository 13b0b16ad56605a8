package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"switchboard/pkg/config"
	"switchboard/pkg/gateway"
	"switchboard/pkg/logger"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the channel gateway",
	Long:  "Serves every enabled channel, drains the message queue and routes agent replies, with health and readiness endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.gateway")

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := gateway.Build(runCtx, cfg, appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway", "error", err)
			return err
		}
		defer func() {
			if err := app.Close(); err != nil {
				log.Warn("Failed to release gateway resources", "error", err)
			}
		}()

		log.Info("Gateway started",
			"channels", enabledChannelNames(cfg),
			"provider", cfg.Provider.Type,
			"model", cfg.Provider.Model,
			"storage", cfg.Storage.Driver,
			"environment", cfg.Environment,
		)
		if err := app.Service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Gateway runtime failed", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func enabledChannelNames(cfg *config.Config) string {
	names := make([]string, 0, 3)
	if cfg.Channels.Telegram.Enabled {
		names = append(names, "telegram:"+cfg.Channels.Telegram.Mode)
	}
	if cfg.Channels.Web.Enabled {
		names = append(names, "web")
	}
	if cfg.Channels.Simulator.Enabled {
		names = append(names, "simulator")
	}

	return strings.Join(names, ",")
}
