package companion

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/twogether/internal/syncer"
	"go.uber.org/zap"
)

// Run consumes sync events until ctx ends. Challenge changes reload the stored list; pet changes
// replace the pet document in full.
func (s *Service) Run(ctx context.Context) error {
	challengeEvents, stopChallenges := s.sync.Subscribe(ctx, syncer.EventChallengeChanged)
	defer stopChallenges()
	petEvents, stopPets := s.sync.Subscribe(ctx, syncer.EventPetChanged)
	defer stopPets()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-challengeEvents:
			if !ok {
				return nil
			}
			s.HandleEvent(ctx, event)
		case event, ok := <-petEvents:
			if !ok {
				return nil
			}
			s.HandleEvent(ctx, event)
		}
	}
}

// HandleEvent folds one sync event into the local view.
func (s *Service) HandleEvent(ctx context.Context, event syncer.Event) {
	switch event.Kind {
	case syncer.EventChallengeChanged:
		if err := s.reloadChallenges(ctx); err != nil {
			s.logger.Error("challenge reload failed", zap.Error(err))
		}
	case syncer.EventPetChanged:
		if event.Pet == nil {
			return
		}
		if err := s.replacePet(ctx, event.Pet); err != nil {
			s.logger.Error("pet replace failed", zap.Error(err))
		}
	}
}

func (s *Service) replacePet(ctx context.Context, change *syncer.PetChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Feed delivery order can differ from commit order; never step back to an older version.
	if change.Version > 0 && change.Version <= s.petVersion {
		s.logger.Debug("stale pet update skipped",
			zap.Int64("version", change.Version),
			zap.Int64("applied_version", s.petVersion))
		return nil
	}
	if err := s.store.PutPet(ctx, change.State); err != nil {
		return fmt.Errorf("store pet: %w", err)
	}
	s.pet = change.State
	if change.Version > 0 {
		s.petVersion = change.Version
	}
	s.logger.Debug("pet replaced from partner update",
		zap.String("name", change.State.Name),
		zap.Time("commit_timestamp", change.CommitTimestamp))
	return nil
}
