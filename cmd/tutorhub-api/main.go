package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/tutorhub/internal/auth"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/config"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/database"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/gamification"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/logging"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/server"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/store"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/tasks"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/timer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tutorhub-api",
		Short: "Tutoring portal session and progress backend",
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
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.StringSlice("allowed-origins", nil, "Origins allowed to call the API with credentials")
	flags.String("store-driver", defaults.GetString("store.driver"), "Store driver (sqlite, memory, redis)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("redis-address", defaults.GetString("redis.address"), "Redis address for the redis store driver")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("session-issuer", defaults.GetString("auth.issuer"), "Expected session token issuer")
	flags.String("timezone", defaults.GetString("app.timezone"), "IANA timezone used for daily streaks")
	flags.Int("focus-seconds", defaults.GetInt("timer.focus_seconds"), "Focus phase length in seconds")
	flags.Int("short-break-seconds", defaults.GetInt("timer.short_break_seconds"), "Short break length in seconds")
	flags.Int("long-break-seconds", defaults.GetInt("timer.long_break_seconds"), "Long break length in seconds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "store.driver", "store-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "session-issuer")
	bindFlag(cmd, "app.timezone", "timezone")
	bindFlag(cmd, "timer.focus_seconds", "focus-seconds")
	bindFlag(cmd, "timer.short_break_seconds", "short-break-seconds")
	bindFlag(cmd, "timer.long_break_seconds", "long-break-seconds")
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

	backend, closeBackend, err := openStoreBackend(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeBackend() //nolint:errcheck
	engineStore, err := store.New(backend, logger)
	if err != nil {
		return err
	}

	ledger, err := gamification.NewLedger(gamification.LedgerConfig{
		Store:    engineStore,
		Clock:    time.Now,
		Location: appConfig.Location,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	timerService, err := timer.NewService(timer.ServiceConfig{
		Store:  engineStore,
		Ledger: ledger,
		Settings: timer.Settings{
			FocusSeconds:      appConfig.Timer.FocusSeconds,
			ShortBreakSeconds: appConfig.Timer.ShortBreakSeconds,
			LongBreakSeconds:  appConfig.Timer.LongBreakSeconds,
			LongBreakInterval: appConfig.Timer.LongBreakInterval,
			FocusBonus:        appConfig.Timer.FocusBonus,
			AutoContinue:      appConfig.Timer.AutoContinue,
		},
		Clock:  time.Now,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	taskService, err := tasks.NewService(tasks.ServiceConfig{
		Store:       engineStore,
		Ledger:      ledger,
		SubmitBonus: appConfig.SubmitBonus,
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Ledger:           ledger,
		Timer:            timerService,
		Tasks:            taskService,
		Realtime:         server.NewRealtimeDispatcher(),
		AllowedOrigins:   appConfig.AllowedOrigins,
		Logger:           logger,
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

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("store_driver", appConfig.StoreDriver))
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

// openStoreBackend builds the durable store backend for the configured driver.
func openStoreBackend(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (store.Backend, func() error, error) {
	switch appConfig.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("memory store driver selected; progress will not survive restarts")
		return store.NewMemoryBackend(), func() error { return nil }, nil
	case config.StoreDriverRedis:
		backend, err := store.NewRedisBackend(ctx, store.RedisConfig{
			Address:  appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return backend, backend.Close, nil
	default:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		backend, err := store.NewGormBackend(db, time.Now)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return backend, sqlDB.Close, nil
	}
}
