package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/api"
	"github.com/spigell/jobmail/internal/logger"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API for submitting e-mails and triggering mailbox syncs",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "address to listen on (overrides server.listen)")
	serveCmd.Flags().StringSlice("disable-filter", nil, "names of pre-filters to skip")

	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}

func serve(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the jobmail api", zap.String("version", version), zap.String("listen", config.Server.Listen))

	disabled, _ := cmd.Flags().GetStringSlice("disable-filter")
	rt, err := newRuntime(ctx, config, disabled, logger)
	if err != nil {
		logger.Fatal("preparing components", zap.Error(err))
	}
	defer rt.Close()

	serverCfg := config.Server
	serverCfg.Users = config.userEmails()

	server, err := api.New(serverCfg, api.Deps{
		Processor: rt.pipeline,
		Syncer:    rt.syncer,
		Store:     rt.store,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("creating api server", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down", zap.Duration("timeout", shutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down api server", zap.Error(err))
		}
	}
}
