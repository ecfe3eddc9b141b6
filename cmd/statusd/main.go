package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spacestate/statusd/internal/actions"
	"github.com/spacestate/statusd/internal/config"
	"github.com/spacestate/statusd/internal/database"
	"github.com/spacestate/statusd/internal/logging"
	"github.com/spacestate/statusd/internal/mqtt"
	"github.com/spacestate/statusd/internal/server"
	"github.com/spacestate/statusd/internal/spaceapi"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "statusd",
		Short: "Space status backend (status, announcements, presence)",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("mqtt-server", defaults.GetString("mqtt.server"), "MQTT broker address (empty disables forwarding)")
	cmd.PersistentFlags().String("mqtt-topic-prefix", defaults.GetString("mqtt.topic_prefix"), "Prefix for MQTT topics")
	cmd.PersistentFlags().String("spaceapi-path", defaults.GetString("spaceapi.path"), "Path to static SpaceAPI document (empty disables /spaceapi)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("password", "", "API password (overrides env; empty leaves the API open)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "mqtt.server", "mqtt-server")
	bindFlag(cmd, "mqtt.topic_prefix", "mqtt-topic-prefix")
	bindFlag(cmd, "spaceapi.path", "spaceapi-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.password", "password")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if appConfig.Password == "" {
		logger.Warn("no password configured, the whole API is available unauthenticated")
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := actions.NewStore(actions.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// the MQTT sink is optional, but when configured an unreachable broker
	// fails bootstrap instead of running silently degraded
	var sink actions.Sink
	var forwarder *mqtt.Forwarder
	if appConfig.MQTTServer != "" {
		forwarder, err = mqtt.NewForwarder(mqtt.Config{
			Server:      appConfig.MQTTServer,
			TopicPrefix: appConfig.MQTTTopicPrefix,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		defer forwarder.Close()
		sink = forwarder
	}

	service, err := actions.NewService(actions.ServiceConfig{
		Store:  store,
		Broker: actions.NewBroker(),
		Sink:   sink,
		Clock:  time.Now,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	// seed the retained broker topics with the current state
	if forwarder != nil {
		if last, _, ok := service.CurrentStatus(); ok {
			forwarder.Forward(last)
		}
	}

	gate, err := server.NewAuthGate(appConfig.Password, appConfig.CookieSalt, logger)
	if err != nil {
		return err
	}

	var document *spaceapi.Document
	if appConfig.SpaceAPIPath != "" {
		document, err = spaceapi.Load(appConfig.SpaceAPIPath)
		if err != nil {
			return err
		}
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Actions:  service,
		Gate:     gate,
		SpaceAPI: document,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := actions.NewTicker(actions.TickerConfig{
		Service: service,
		Logger:  logger,
	})
	go ticker.Run(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
