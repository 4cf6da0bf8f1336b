package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/aggregation"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/config"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/database"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/ingestion"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/logging"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/report"
	"github.com/MarcoPoloResearchLab/clearance-reports/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxEnvelopeBytes = 4 << 20

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reports-api",
		Short: "Customs clearance reporting service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the report HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServer(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply schema and data migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "prune-messages",
			Short: "Delete raw messages older than raw_messages.ttl",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPrune(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "ingest [file]",
			Short: "Ingest newline-delimited message envelopes from a file or stdin",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path := ""
				if len(args) == 1 {
					path = args[0]
				}
				return runIngest(cmd.Context(), path, cmd.InOrStdin())
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to dotenv file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN")
	cmd.PersistentFlags().String("field-naming", defaults.GetString("database.field_naming"), "Column naming (snake, camel)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "database.field_naming", "field-naming")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

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

type appRuntime struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
}

func (r appRuntime) close() {
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = r.logger.Sync()
}

func openRuntime(ctx context.Context) (appRuntime, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return appRuntime{}, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return appRuntime{}, err
	}

	db, err := database.Open(database.Config{
		Driver:      appConfig.DatabaseDriver,
		DSN:         appConfig.DatabaseDSN,
		FieldNaming: appConfig.FieldNaming,
		Logger:      logger,
	})
	if err != nil {
		_ = logger.Sync()
		return appRuntime{}, err
	}

	if err := database.Migrate(ctx, db, logger); err != nil {
		rt := appRuntime{config: appConfig, logger: logger, db: db}
		rt.close()
		return appRuntime{}, err
	}

	return appRuntime{config: appConfig, logger: logger, db: db}, nil
}

func runServer(ctx context.Context) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	engine, err := aggregation.New(rt.db, aggregation.Config{})
	if err != nil {
		return err
	}

	reports, err := report.NewService(report.ServiceConfig{
		Queries:   engine,
		Clock:     time.Now,
		CacheSize: rt.config.ReportCacheSize,
		CacheTTL:  rt.config.ReportCacheTTL,
		Logger:    rt.logger,
	})
	if err != nil {
		return err
	}

	sqlDB, err := rt.db.DB()
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Reports:        reports,
		AllowedOrigins: rt.config.CORSAllowedOrigins,
		HealthCheck:    sqlDB.PingContext,
		Logger:         rt.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              rt.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("server starting", zap.String("address", rt.config.HTTPAddress))
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

func runMigrate(ctx context.Context) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	rt.logger.Info("migrations complete")
	return nil
}

func runPrune(ctx context.Context) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	cutoff := time.Now().UTC().Add(-rt.config.RawMessagesTTL)
	removed, err := database.PruneRawMessages(ctx, rt.db, cutoff)
	if err != nil {
		rt.logger.Error("raw message prune failed", zap.Error(err))
		return err
	}
	rt.logger.Info("raw messages pruned", zap.Int64("removed", removed), zap.Time("cutoff", cutoff))
	return nil
}

func runIngest(ctx context.Context, path string, stdin io.Reader) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	input := stdin
	if path != "" && path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		input = file
	}

	service, err := ingestion.NewService(ingestion.ServiceConfig{
		Database:    rt.db,
		Clock:       time.Now,
		MaxAttempts: rt.config.IngestionMaxAttempts,
		Logger:      rt.logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEnvelopeBytes)
	var stored, dropped, failed int
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		outcome, err := service.HandleEnvelope(signalCtx, scanner.Bytes())
		switch {
		case errors.Is(err, context.Canceled):
			return err
		case err != nil:
			failed++
			rt.logger.Warn("message skipped", zap.Int("line", line), zap.Error(err))
		case outcome.Dropped:
			dropped++
		default:
			stored++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read envelopes: %w", err)
	}
	rt.logger.Info("ingestion complete",
		zap.Int("stored", stored),
		zap.Int("dropped", dropped),
		zap.Int("failed", failed))
	return nil
}
