package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crestline/fieldsync/backend/internal/auth"
	"github.com/crestline/fieldsync/backend/internal/blob"
	"github.com/crestline/fieldsync/backend/internal/config"
	"github.com/crestline/fieldsync/backend/internal/database"
	"github.com/crestline/fieldsync/backend/internal/fieldsync"
	"github.com/crestline/fieldsync/backend/internal/logging"
	"github.com/crestline/fieldsync/backend/internal/projects"
	"github.com/crestline/fieldsync/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fieldsync-api",
		Short: "FieldSync offline synchronization backend service",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("conflict-policy", defaults.GetString("sync.conflict_policy"), "Conflict policy (server_wins, field_merge)")
	cmd.PersistentFlags().String("blob-bucket", defaults.GetString("blob.bucket"), "Object storage bucket for photos")
	cmd.PersistentFlags().String("blob-region", defaults.GetString("blob.region"), "Object storage region")
	cmd.PersistentFlags().String("blob-endpoint", defaults.GetString("blob.endpoint"), "Object storage endpoint override")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "sync.conflict_policy", "conflict-policy")
	bindFlag(cmd, "blob.bucket", "blob-bucket")
	bindFlag(cmd, "blob.region", "blob-region")
	bindFlag(cmd, "blob.endpoint", "blob-endpoint")
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

	policy, err := fieldsync.ParseConflictPolicy(appConfig.ConflictPolicy)
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "fieldsync-auth",
		Audience:      "fieldsync-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	guard, err := projects.NewGuard(projects.GuardConfig{Database: db})
	if err != nil {
		return err
	}

	blobStore, err := blob.NewS3Store(ctx, blob.Config{
		Bucket:        appConfig.BlobBucket,
		Region:        appConfig.BlobRegion,
		Endpoint:      appConfig.BlobEndpoint,
		AccessKey:     appConfig.BlobAccessKey,
		SecretKey:     appConfig.BlobSecretKey,
		PublicBaseURL: appConfig.BlobPublicURL,
	})
	if err != nil {
		return err
	}

	syncService, err := fieldsync.NewService(fieldsync.ServiceConfig{
		Database:   db,
		Guard:      guard,
		Blobs:      blobStore,
		Clock:      time.Now,
		IDProvider: fieldsync.NewUUIDProvider(),
		Logger:     logger,
		Policy:     policy,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		SyncService:  syncService,
		Logger:       logger,
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
			zap.String("conflict_policy", string(policy)))
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
