package companion

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
	"github.com/MarcoPoloResearchLab/twogether/internal/syncer"
)

// AddChallenge creates a challenge locally and queues it for the partner.
func (s *Service) AddChallenge(ctx context.Context, cfg challenges.NewChallengeConfig) (challenges.Challenge, error) {
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = s.clock()
	}
	if strings.TrimSpace(cfg.CreatedBy) == "" {
		cfg.CreatedBy = s.userID(ctx)
	}
	challenge, err := challenges.New(cfg)
	if err != nil {
		return challenges.Challenge{}, err
	}
	if err := s.store.PutChallenge(ctx, challenge); err != nil {
		return challenges.Challenge{}, fmt.Errorf("store challenge: %w", err)
	}
	s.recordHistory(ctx, KindChallengeAdded, challenge.ID.String(), challenge.Title)
	s.sync.QueueSync(ctx, syncer.TypeChallenge, syncer.ActionAdd, challenge)
	if err := s.reloadChallenges(ctx); err != nil {
		return challenge, fmt.Errorf("reload challenges: %w", err)
	}
	return challenge, nil
}

// CompleteChallenge marks a challenge done and rewards the pet.
func (s *Service) CompleteChallenge(ctx context.Context, id challenges.ChallengeID, notes string) (challenges.Challenge, pet.State, error) {
	challenge, err := s.loadChallenge(ctx, id)
	if err != nil {
		return challenges.Challenge{}, pet.State{}, err
	}
	if challenge.Completed() {
		return challenges.Challenge{}, pet.State{}, fmt.Errorf("%w: %s", ErrAlreadyCompleted, id)
	}

	completed := challenge.Complete(s.clock(), notes)
	if err := s.store.PutChallenge(ctx, completed); err != nil {
		return challenges.Challenge{}, pet.State{}, fmt.Errorf("store challenge: %w", err)
	}
	s.recordHistory(ctx, KindChallengeCompleted, completed.ID.String(), completed.Title)
	s.sync.QueueSync(ctx, syncer.TypeChallenge, syncer.ActionUpdate, completed)

	rewarded, err := s.mutatePet(ctx, KindChallengeCompleted, completed.ID.String(), func(state pet.State) (pet.State, error) {
		return state.Reward(challenges.XPReward, challenges.CoinReward), nil
	})
	if err != nil {
		return completed, pet.State{}, err
	}
	if err := s.reloadChallenges(ctx); err != nil {
		return completed, rewarded, fmt.Errorf("reload challenges: %w", err)
	}
	return completed, rewarded, nil
}

// DeleteChallenge removes a challenge locally and remotely.
func (s *Service) DeleteChallenge(ctx context.Context, id challenges.ChallengeID) error {
	challenge, err := s.loadChallenge(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteChallenge(ctx, id); err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	s.recordHistory(ctx, KindChallengeDeleted, challenge.ID.String(), challenge.Title)
	s.sync.QueueSync(ctx, syncer.TypeChallenge, syncer.ActionDelete, challenge)
	if err := s.reloadChallenges(ctx); err != nil {
		return fmt.Errorf("reload challenges: %w", err)
	}
	return nil
}

func (s *Service) loadChallenge(ctx context.Context, id challenges.ChallengeID) (challenges.Challenge, error) {
	validated, err := challenges.NewChallengeID(id.String())
	if err != nil {
		return challenges.Challenge{}, err
	}
	challenge, found, err := s.store.GetChallenge(ctx, validated)
	if err != nil {
		return challenges.Challenge{}, fmt.Errorf("load challenge: %w", err)
	}
	if !found {
		return challenges.Challenge{}, fmt.Errorf("%w: %s", ErrChallengeNotFound, id)
	}
	return challenge, nil
}

// FeedPet restores hunger.
func (s *Service) FeedPet(ctx context.Context) (pet.State, error) {
	return s.mutatePet(ctx, KindPetFed, "", func(state pet.State) (pet.State, error) {
		return state.Feed(), nil
	})
}

// PlayWithPet trades energy and hunger for XP and coins.
func (s *Service) PlayWithPet(ctx context.Context) (pet.State, error) {
	return s.mutatePet(ctx, KindPetPlayed, "", func(state pet.State) (pet.State, error) {
		return state.Play(), nil
	})
}

// CleanPet restores hygiene.
func (s *Service) CleanPet(ctx context.Context) (pet.State, error) {
	return s.mutatePet(ctx, KindPetCleaned, "", func(state pet.State) (pet.State, error) {
		return state.Clean(), nil
	})
}

// RestPet restores energy.
func (s *Service) RestPet(ctx context.Context) (pet.State, error) {
	return s.mutatePet(ctx, KindPetRested, "", func(state pet.State) (pet.State, error) {
		return state.Rest(), nil
	})
}

// RenamePet changes the display name.
func (s *Service) RenamePet(ctx context.Context, name string) (pet.State, error) {
	return s.mutatePet(ctx, KindPetRenamed, name, func(state pet.State) (pet.State, error) {
		return state.Rename(name)
	})
}

// BuyItem purchases a catalog item with coins.
func (s *Service) BuyItem(ctx context.Context, itemID string) (pet.State, error) {
	return s.mutatePet(ctx, KindItemPurchased, itemID, func(state pet.State) (pet.State, error) {
		return state.Purchase(itemID)
	})
}

// EquipItem wears an owned item.
func (s *Service) EquipItem(ctx context.Context, itemID string) (pet.State, error) {
	return s.mutatePet(ctx, KindItemEquipped, itemID, func(state pet.State) (pet.State, error) {
		return state.Equip(itemID)
	})
}

// UnequipSlot clears a slot.
func (s *Service) UnequipSlot(ctx context.Context, slot pet.Slot) (pet.State, error) {
	return s.mutatePet(ctx, KindItemUnequipped, string(slot), func(state pet.State) (pet.State, error) {
		return state.Unequip(slot), nil
	})
}

// mutatePet applies fn to the current pet, persists the whole document and queues it.
func (s *Service) mutatePet(ctx context.Context, kind, subject string, fn func(pet.State) (pet.State, error)) (pet.State, error) {
	s.mu.Lock()
	updated, err := fn(s.pet)
	if err != nil {
		s.mu.Unlock()
		return pet.State{}, err
	}
	if err := s.store.PutPet(ctx, updated); err != nil {
		s.mu.Unlock()
		return pet.State{}, fmt.Errorf("store pet: %w", err)
	}
	s.pet = updated
	s.mu.Unlock()

	s.recordHistory(ctx, kind, subject, fmt.Sprintf("level %d, %d xp, %d coins", updated.Level, updated.XP, updated.Coins))
	s.sync.QueueSync(ctx, syncer.TypePet, syncer.ActionUpdate, updated)
	return updated, nil
}

func (s *Service) userID(ctx context.Context) string {
	settings, found, err := s.store.GetSettings(ctx)
	if err != nil || !found {
		return ""
	}
	return settings.UserID
}
