package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/companion"
	"github.com/MarcoPoloResearchLab/twogether/internal/config"
	"github.com/MarcoPoloResearchLab/twogether/internal/localstore"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"github.com/MarcoPoloResearchLab/twogether/internal/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// deviceSession bundles the device-side components shared by every local command.
type deviceSession struct {
	config  config.AppConfig
	logger  *zap.Logger
	store   *localstore.Store
	client  *remote.HTTPBackend
	manager *syncer.Manager
	app     *companion.Service
}

// openDevice opens the device store, loads application state and, when an access token is
// configured, joins the partnership session. An unreachable backend leaves the device offline
// with the last known session so local changes keep queueing.
func openDevice(ctx context.Context) (*deviceSession, error) {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return nil, err
	}
	if err := appConfig.ValidateDevice(); err != nil {
		return nil, err
	}

	store, err := localstore.Open(localstore.Config{Path: appConfig.DeviceStorePath, Logger: logger})
	if err != nil {
		return nil, err
	}
	session := &deviceSession{config: appConfig, logger: logger, store: store}

	client, err := newRemoteClient(appConfig, logger)
	if err != nil {
		return nil, multierr.Append(err, store.Close())
	}
	session.client = client
	session.manager, err = syncer.NewManager(syncer.ManagerConfig{
		Local:         store,
		Remote:        client,
		Logger:        logger,
		MaxAttempts:   appConfig.SyncMaxAttempts,
		HaltOnFailure: appConfig.SyncHaltOnFailure,
	})
	if err != nil {
		return nil, multierr.Append(err, store.Close())
	}
	session.app, err = companion.NewService(companion.ServiceConfig{
		Store:  store,
		Sync:   session.manager,
		Logger: logger,
	})
	if err != nil {
		return nil, multierr.Append(err, store.Close())
	}
	if err := session.app.Load(ctx); err != nil {
		return nil, multierr.Append(err, store.Close())
	}

	if strings.TrimSpace(appConfig.AccessToken) == "" {
		logger.Info("no access token configured; running solo")
		return session, nil
	}

	userID, err := client.CurrentUser(ctx)
	if err != nil {
		logger.Warn("backend unreachable; continuing offline", zap.Error(err))
		session.manager.SetOnline(ctx, false)
		settings, settingsErr := session.app.Settings(ctx)
		if settingsErr != nil {
			return nil, multierr.Append(settingsErr, session.Close())
		}
		session.manager.Resume(settings.UserID, settings.PartnershipID)
		return session, nil
	}

	if err := session.join(ctx, userID); err != nil {
		return nil, multierr.Append(err, session.Close())
	}
	return session, nil
}

// join initializes the sync session and folds the pet and challenge state pulled during
// reconciliation into the application layer.
func (d *deviceSession) join(ctx context.Context, userID string) error {
	petEvents, stopPets := d.manager.Subscribe(ctx, syncer.EventPetChanged)
	defer stopPets()

	partnership, paired := d.manager.Initialize(ctx, userID)
	partnershipID := ""
	if paired {
		partnershipID = partnership.ID
		d.logger.Info("partnership session started", zap.String("partnership_id", partnershipID))
	}
	if err := d.app.RecordSession(ctx, userID, partnershipID); err != nil {
		return err
	}

	for drained := false; !drained; {
		select {
		case event := <-petEvents:
			d.app.HandleEvent(ctx, event)
		default:
			drained = true
		}
	}
	return d.app.Load(ctx)
}

// Close tears down feed subscriptions and releases the device store.
func (d *deviceSession) Close() error {
	var err error
	if d.manager != nil {
		err = multierr.Append(err, d.manager.Cleanup())
	}
	err = multierr.Append(err, d.store.Close())
	_ = d.logger.Sync()
	return err
}

// withDevice runs fn with an open device session and closes it afterwards.
func withDevice(ctx context.Context, fn func(ctx context.Context, device *deviceSession) error) (err error) {
	device, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, device.Close())
	}()
	return fn(ctx, device)
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run the device agent: drain queued changes and follow the partner's edits until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withDevice(signalCtx, runAgent)
		},
	}
}

func runAgent(ctx context.Context, device *deviceSession) error {
	device.logger.Info("device agent started",
		zap.String("partnership_id", device.manager.PartnershipID()),
		zap.Duration("interval", device.config.SyncInterval))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return device.manager.Run(groupCtx, device.config.SyncInterval)
	})
	group.Go(func() error {
		return device.app.Run(groupCtx)
	})
	if strings.TrimSpace(device.config.AccessToken) != "" {
		group.Go(func() error {
			device.reconnect(groupCtx, device.config.SyncInterval)
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		if !device.manager.Online() {
			device.logger.Info("device agent stopping")
			return nil
		}
		stats := device.manager.ProcessQueue(context.WithoutCancel(groupCtx))
		device.logger.Info("device agent stopping",
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("remaining", stats.Remaining))
		return nil
	})
	return group.Wait()
}

// reconnect probes the backend while the device is offline and rejoins the partnership session
// once it answers.
func (d *deviceSession) reconnect(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if d.manager.Online() {
			continue
		}
		userID, err := d.client.CurrentUser(ctx)
		if err != nil {
			d.logger.Debug("backend still unreachable", zap.Error(err))
			continue
		}
		d.manager.SetOnline(ctx, true)
		if err := d.join(ctx, userID); err != nil {
			d.logger.Error("rejoin failed", zap.Error(err))
		}
	}
}
