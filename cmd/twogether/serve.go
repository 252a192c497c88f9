package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/auth"
	"github.com/MarcoPoloResearchLab/twogether/internal/backend"
	"github.com/MarcoPoloResearchLab/twogether/internal/database"
	"github.com/MarcoPoloResearchLab/twogether/internal/realtime"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"github.com/MarcoPoloResearchLab/twogether/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	backendSchemaName     = "backend"
	feedBufferSize        = 64
	serverShutdownTimeout = 10 * time.Second
)

func newServeCommand() *cobra.Command {
	var allowedOrigins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hosted backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), allowedOrigins)
		},
	}
	cmd.Flags().StringSliceVar(&allowedOrigins, "allowed-origin", nil, "Origin permitted by CORS (repeatable)")
	return cmd
}

func newTokenIssuer(signingSecret string, ttl time.Duration) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		TokenTTL:      ttl,
	})
}

func runServer(ctx context.Context, allowedOrigins []string) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := appConfig.ValidateBackend(); err != nil {
		return err
	}

	db, err := database.OpenSQLite(appConfig.BackendDatabasePath, database.Schema{
		Name:   backendSchemaName,
		Models: backend.Models(),
	}, logger)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	tokenIssuer, err := newTokenIssuer(appConfig.SigningSecret, appConfig.TokenTTL)
	if err != nil {
		return err
	}

	feed := realtime.NewDispatcher[remote.Event](feedBufferSize)
	tableService, err := backend.NewService(backend.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: backend.NewUUIDProvider(),
		Publisher:  feed,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokenIssuer,
		Tables:         tableService,
		Feed:           feed,
		AllowedOrigins: allowedOrigins,
		Logger:         logger,
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

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		logger.Info("server stopping")
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
