// Package companion is the application state layer: it applies user mutations optimistically to the
// device store, records them in the activity history, hands them to the sync core, and folds sync
// events back into its in-memory view.
package companion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/localstore"
	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
	"github.com/MarcoPoloResearchLab/twogether/internal/syncer"
	"go.uber.org/zap"
)

// History entry kinds.
const (
	KindChallengeAdded     = "challenge_added"
	KindChallengeCompleted = "challenge_completed"
	KindChallengeDeleted   = "challenge_deleted"
	KindPetCreated         = "pet_created"
	KindPetFed             = "pet_fed"
	KindPetPlayed          = "pet_played"
	KindPetCleaned         = "pet_cleaned"
	KindPetRested          = "pet_rested"
	KindPetRenamed         = "pet_renamed"
	KindItemPurchased      = "item_purchased"
	KindItemEquipped       = "item_equipped"
	KindItemUnequipped     = "item_unequipped"
	KindRelationshipStart  = "relationship_start_set"
	KindPartnershipJoined  = "partnership_joined"
)

const metadataPetDecayedAt = "pet_decayed_at"

var (
	// ErrChallengeNotFound indicates an operation on an unknown challenge id.
	ErrChallengeNotFound = errors.New("companion: challenge not found")
	// ErrAlreadyCompleted indicates a second completion of the same challenge.
	ErrAlreadyCompleted = errors.New("companion: challenge already completed")

	errMissingStore = errors.New("companion: store is required")
	errMissingSync  = errors.New("companion: sync queue is required")
)

// Store is the slice of the device store the application layer uses.
type Store interface {
	GetChallenge(ctx context.Context, id challenges.ChallengeID) (challenges.Challenge, bool, error)
	PutChallenge(ctx context.Context, challenge challenges.Challenge) error
	DeleteChallenge(ctx context.Context, id challenges.ChallengeID) error
	ListChallenges(ctx context.Context) ([]challenges.Challenge, error)
	GetPet(ctx context.Context) (pet.State, bool, error)
	PutPet(ctx context.Context, state pet.State) error
	GetSettings(ctx context.Context) (localstore.Settings, bool, error)
	PutSettings(ctx context.Context, settings localstore.Settings) error
	AppendHistory(ctx context.Context, entry localstore.HistoryEntry) error
	ListHistory(ctx context.Context, limit int) ([]localstore.HistoryEntry, error)
	GetMetadata(ctx context.Context, key string) (string, bool, error)
	SetMetadata(ctx context.Context, key, value string) error
}

// SyncQueue is the sync core surface the application layer depends on.
type SyncQueue interface {
	QueueSync(ctx context.Context, itemType, action string, data any)
	Subscribe(ctx context.Context, kind syncer.EventKind) (<-chan syncer.Event, func())
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store   Store
	Sync    SyncQueue
	Clock   func() time.Time
	Logger  *zap.Logger
	PetName string
}

// Service owns the in-memory challenge list and pet of one device.
type Service struct {
	store   Store
	sync    SyncQueue
	clock   func() time.Time
	logger  *zap.Logger
	petName string

	mu         sync.RWMutex
	challenges []challenges.Challenge
	pet        pet.State
	// petVersion is the backend version of the last pet document applied from the feed.
	petVersion int64
}

// NewService validates dependencies and constructs a Service. Call Load before use.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Sync == nil {
		return nil, errMissingSync
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   cfg.Store,
		sync:    cfg.Sync,
		clock:   clock,
		logger:  logger,
		petName: cfg.PetName,
	}, nil
}

// Load reads the challenge list and pet into memory, creating the pet on first use and applying
// stat decay for the time the device was idle.
func (s *Service) Load(ctx context.Context) error {
	list, err := s.store.ListChallenges(ctx)
	if err != nil {
		return fmt.Errorf("load challenges: %w", err)
	}
	state, found, err := s.store.GetPet(ctx)
	if err != nil {
		return fmt.Errorf("load pet: %w", err)
	}
	now := s.clock().UTC()
	if !found {
		state = pet.NewState(s.petName)
		if err := s.store.PutPet(ctx, state); err != nil {
			return fmt.Errorf("create pet: %w", err)
		}
		if err := s.setDecayedAt(ctx, now); err != nil {
			return err
		}
		s.recordHistory(ctx, KindPetCreated, state.Name, "")
	} else {
		state, err = s.applyDecay(ctx, state, now)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.challenges = list
	s.pet = state
	s.mu.Unlock()
	return nil
}

// applyDecay lowers stats per elapsed hour. Decay is device-local and is not queued for sync.
func (s *Service) applyDecay(ctx context.Context, state pet.State, now time.Time) (pet.State, error) {
	raw, found, err := s.store.GetMetadata(ctx, metadataPetDecayedAt)
	if err != nil {
		return state, fmt.Errorf("load decay marker: %w", err)
	}
	if !found {
		return state, s.setDecayedAt(ctx, now)
	}
	decayedAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.logger.Warn("resetting unreadable decay marker", zap.String("value", raw), zap.Error(err))
		return state, s.setDecayedAt(ctx, now)
	}
	hours := now.Sub(decayedAt) / time.Hour
	if hours <= 0 {
		return state, nil
	}
	decayed := state.Decay(hours * time.Hour)
	if err := s.store.PutPet(ctx, decayed); err != nil {
		return state, fmt.Errorf("store decayed pet: %w", err)
	}
	return decayed, s.setDecayedAt(ctx, decayedAt.Add(hours*time.Hour))
}

func (s *Service) setDecayedAt(ctx context.Context, at time.Time) error {
	if err := s.store.SetMetadata(ctx, metadataPetDecayedAt, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("store decay marker: %w", err)
	}
	return nil
}

// Challenges returns the in-memory challenge list.
func (s *Service) Challenges() []challenges.Challenge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]challenges.Challenge(nil), s.challenges...)
}

// Pet returns the in-memory pet.
func (s *Service) Pet() pet.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pet
}

// History returns recent activity, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]localstore.HistoryEntry, error) {
	return s.store.ListHistory(ctx, limit)
}

func (s *Service) recordHistory(ctx context.Context, kind, subject, detail string) {
	entry := localstore.HistoryEntry{Kind: kind, Subject: subject, Detail: detail, OccurredAt: s.clock().UTC()}
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		s.logger.Warn("history append failed", zap.String("kind", kind), zap.Error(err))
	}
}

func (s *Service) reloadChallenges(ctx context.Context) error {
	list, err := s.store.ListChallenges(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.challenges = list
	s.mu.Unlock()
	return nil
}
