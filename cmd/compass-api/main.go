package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/northcove/compass/backend/internal/auth"
	"github.com/northcove/compass/backend/internal/board"
	"github.com/northcove/compass/backend/internal/bus"
	"github.com/northcove/compass/backend/internal/config"
	"github.com/northcove/compass/backend/internal/conversation"
	"github.com/northcove/compass/backend/internal/database"
	"github.com/northcove/compass/backend/internal/ident"
	"github.com/northcove/compass/backend/internal/logging"
	"github.com/northcove/compass/backend/internal/notification"
	"github.com/northcove/compass/backend/internal/reminder"
	"github.com/northcove/compass/backend/internal/server"
	"github.com/northcove/compass/backend/internal/suggestion"
	"github.com/northcove/compass/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "compass-api",
		Short: "Compass coaching backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().Int("away-threshold-seconds", defaults.GetInt("presence.away_threshold_seconds"), "Presence away threshold in seconds")
	cmd.PersistentFlags().Int("sweep-interval-seconds", defaults.GetInt("reminders.sweep_interval_seconds"), "Reminder sweep interval in seconds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "presence.away_threshold_seconds", "away-threshold-seconds")
	bindFlag(cmd, "reminders.sweep_interval_seconds", "sweep-interval-seconds")
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

// newTokenCommand issues a local development session token.
func newTokenCommand() *cobra.Command {
	var userID string
	var displayName string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development session token",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.AuthIssuer,
				Audience:      appConfig.AuthAudience,
				TokenTTL:      appConfig.TokenTTL,
			})
			signed, expiresIn, err := issuer.IssueToken(cmd.Context(), userID, "", displayName)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in: %d\n", signed, expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id to embed as the token subject")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	eventBus := bus.New()
	idProvider := ident.NewUUIDProvider()

	conversations, err := conversation.NewService(conversation.ServiceConfig{
		Database:      db,
		Clock:         time.Now,
		IDProvider:    idProvider,
		Bus:           eventBus,
		Logger:        logger,
		AwayThreshold: appConfig.AwayThreshold,
	})
	if err != nil {
		return err
	}
	boards, err := board.NewService(board.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Bus:        eventBus,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	suggestions, err := suggestion.NewService(suggestion.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Bus:        eventBus,
		Boards:     boards,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	notifications, err := notification.NewService(notification.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Bus:        eventBus,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	reminders, err := reminder.NewService(reminder.ServiceConfig{
		Database:      db,
		Clock:         time.Now,
		IDProvider:    idProvider,
		Bus:           eventBus,
		Conversations: conversations,
		Notifier:      notifications,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	profiles, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}

	detachHooks, err := notification.AttachHooks(notification.HooksConfig{
		Bus:           eventBus,
		Conversations: conversations,
		Notifier:      notifications,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer detachHooks()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.AuthIssuer,
		Audience:      appConfig.AuthAudience,
	})
	if err != nil {
		return err
	}

	broadcaster := server.NewBroadcaster(eventBus)
	defer broadcaster.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:        sessionValidator,
		Users:           profiles,
		Conversations:   conversations,
		Boards:          boards,
		Suggestions:     suggestions,
		Notifications:   notifications,
		Reminders:       reminders,
		Broadcaster:     broadcaster,
		Bus:             eventBus,
		Logger:          logger,
		StreamHeartbeat: appConfig.StreamHeartbeat,
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

	go runSweepLoop(signalCtx, reminders, appConfig.SweepInterval, logger)

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

// runSweepLoop drives the reminder scheduler on a fixed interval until the
// context ends. The admin endpoint can still trigger sweeps on demand.
func runSweepLoop(ctx context.Context, reminders *reminder.Service, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := reminders.Sweep(ctx)
			if err != nil {
				logger.Error("reminder sweep failed", zap.Error(err))
				continue
			}
			if result.TotalDue > 0 {
				logger.Info("reminder sweep finished",
					zap.Int("processed", result.Processed),
					zap.Int("errors", result.Errors),
					zap.Int("total_due", result.TotalDue))
			}
		}
	}
}
