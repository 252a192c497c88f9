// Package syncer keeps a device's local store and the hosted backend in agreement: it drains the
// persisted outbound queue with bounded retries, reconciles challenges once per session, and applies
// change-feed events from the partner's device.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/localstore"
	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
	"github.com/MarcoPoloResearchLab/twogether/internal/realtime"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultMaxAttempts is the number of failed remote attempts after which a queue item is dropped.
const DefaultMaxAttempts = 3

const eventBufferSize = 32

const (
	opManagerNew  = "syncer.manager.new"
	opInitialize  = "syncer.initialize"
	opQueueSync   = "syncer.queue_sync"
	opDrain       = "syncer.drain"
	opFeed        = "syncer.feed"
	opCleanup     = "syncer.cleanup"
	opReconcile   = "syncer.reconcile"
	opPetPull     = "syncer.pet_pull"
	opSetOnline   = "syncer.set_online"
	opPeriodicRun = "syncer.run"
)

var (
	errMissingLocalStore = errors.New("local store is required")
	errMissingRemote     = errors.New("remote backend is required")
)

// LocalStore is the subset of the device store the sync core reads and writes.
type LocalStore interface {
	GetChallenge(ctx context.Context, id challenges.ChallengeID) (challenges.Challenge, bool, error)
	PutChallenge(ctx context.Context, challenge challenges.Challenge) error
	DeleteChallenge(ctx context.Context, id challenges.ChallengeID) error
	ListChallenges(ctx context.Context) ([]challenges.Challenge, error)
	GetPet(ctx context.Context) (pet.State, bool, error)
	AppendQueueItem(ctx context.Context, item localstore.QueueItem) error
	ListQueue(ctx context.Context) ([]localstore.QueueItem, error)
	RemoveQueueItem(ctx context.Context, id string) error
	MoveQueueItemToTail(ctx context.Context, item localstore.QueueItem) error
	QueueLength(ctx context.Context) (int, error)
}

// Partnership is the active pairing a session is scoped to.
type Partnership struct {
	ID          string
	User1ID     string
	User2ID     string
	Status      string
	Anniversary string
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Local  LocalStore
	Remote remote.Backend
	Logger *zap.Logger
	Clock  func() time.Time
	// NewID issues queue item identifiers. Defaults to UUIDv7.
	NewID       func() (string, error)
	MaxAttempts int
	// HaltOnFailure stops a drain pass at the first failed item instead of continuing with
	// unrelated items.
	HaltOnFailure bool
	// Offline starts the manager without connectivity; SetOnline(true) triggers the first drain.
	Offline bool
}

// Manager is the device sync session. It is safe for concurrent use.
type Manager struct {
	local         LocalStore
	remote        remote.Backend
	logger        *zap.Logger
	clock         func() time.Time
	newID         func() (string, error)
	maxAttempts   int
	haltOnFailure bool
	events        *realtime.Dispatcher[Event]

	draining atomic.Bool

	mu            sync.Mutex
	online        bool
	userID        string
	partnershipID string
	channels      []remote.Channel
}

// NewManager validates the configuration and constructs a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Local == nil {
		return nil, fmt.Errorf("%s: %w", opManagerNew, errMissingLocalStore)
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("%s: %w", opManagerNew, errMissingRemote)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newQueueItemID
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Manager{
		local:         cfg.Local,
		remote:        cfg.Remote,
		logger:        logger,
		clock:         clock,
		newID:         newID,
		maxAttempts:   maxAttempts,
		haltOnFailure: cfg.HaltOnFailure,
		events:        realtime.NewDispatcher[Event](eventBufferSize),
		online:        !cfg.Offline,
	}, nil
}

func newQueueItemID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Events exposes the local event dispatcher; topics are EventKind values.
func (m *Manager) Events() *realtime.Dispatcher[Event] {
	return m.events
}

// Subscribe registers for one kind of local sync event.
func (m *Manager) Subscribe(ctx context.Context, kind EventKind) (<-chan Event, func()) {
	return m.events.Subscribe(ctx, string(kind))
}

// PartnershipID returns the active partnership id, empty in solo mode.
func (m *Manager) PartnershipID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partnershipID
}

// Resume restores a session recorded by an earlier Initialize without contacting the backend, so
// mutations made while offline are still queued. No change feeds are opened.
func (m *Manager) Resume(userID, partnershipID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = strings.TrimSpace(userID)
	m.partnershipID = strings.TrimSpace(partnershipID)
}

// Online reports the connectivity flag.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records connectivity. Coming back online drains the queue.
func (m *Manager) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if online && !wasOnline {
		m.logger.Info("connectivity restored", zap.String("operation", opSetOnline))
		m.ProcessQueue(ctx)
	}
}

// Run drains the queue every interval while online, until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", opPeriodicRun)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.Online() {
				m.ProcessQueue(ctx)
			}
		}
	}
}

// Cleanup closes every change-feed channel and leaves the session in solo mode.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	channels := m.channels
	m.channels = nil
	m.partnershipID = ""
	m.userID = ""
	m.mu.Unlock()

	var err error
	for _, channel := range channels {
		if removeErr := m.remote.RemoveChannel(channel); removeErr != nil && !errors.Is(removeErr, remote.ErrChannelClosed) {
			err = multierr.Append(err, fmt.Errorf("%s: remove channel %s: %w", opCleanup, channel.Name(), removeErr))
		}
	}
	if err != nil {
		m.logError(opCleanup, "channel_remove_failed", err)
	}
	return err
}

func (m *Manager) session() (userID, partnershipID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID, m.partnershipID
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	m.logger.Error("sync operation failed", allFields...)
}
