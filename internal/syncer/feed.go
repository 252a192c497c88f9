package syncer

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"go.uber.org/zap"
)

// handleChallengeEvent applies a remote challenge change to the local store and re-broadcasts it.
func (m *Manager) handleChallengeEvent(ctx context.Context, event remote.Event) {
	change, err := m.applyChallengeEvent(ctx, event)
	if err != nil {
		m.logError(opFeed, "challenge_event_dropped", err,
			zap.String("event_type", string(event.Type)),
			zap.String("table", event.Table))
		return
	}
	m.events.Publish(string(EventChallengeChanged), challengeEvent(change))
}

func (m *Manager) applyChallengeEvent(ctx context.Context, event remote.Event) (ChallengeChangeEvent, error) {
	change := ChallengeChangeEvent{Kind: event.Type, Raw: event}
	switch event.Type {
	case remote.EventDelete:
		id, err := challenges.NewChallengeID(rowID(event))
		if err != nil {
			return change, err
		}
		change.ID = id
		if err := m.local.DeleteChallenge(ctx, id); err != nil {
			return change, fmt.Errorf("delete local challenge: %w", err)
		}
		return change, nil
	case remote.EventInsert, remote.EventUpdate:
		incoming, err := challengeFromRow(event.New)
		if err != nil {
			return change, err
		}
		// Our own writes echo back as inserts; known ids are updated in place either way.
		stored := incoming
		existing, found, err := m.local.GetChallenge(ctx, incoming.ID)
		if err != nil {
			return change, fmt.Errorf("load local challenge: %w", err)
		}
		if found {
			stored = mergeChallenge(existing, incoming)
		}
		if err := m.local.PutChallenge(ctx, stored); err != nil {
			return change, fmt.Errorf("store local challenge: %w", err)
		}
		change.ID = stored.ID
		change.Challenge = stored
		return change, nil
	default:
		return change, fmt.Errorf("unsupported event type %q", event.Type)
	}
}

// handlePetEvent re-broadcasts the remote pet document; the application layer owns applying it.
func (m *Manager) handlePetEvent(_ context.Context, event remote.Event) {
	if event.Type == remote.EventDelete {
		m.logger.Debug("ignoring pet delete", zap.String("operation", opFeed))
		return
	}
	change, err := petChangeFromRow(event.New)
	if err != nil {
		m.logError(opFeed, "pet_event_dropped", err, zap.String("event_type", string(event.Type)))
		return
	}
	if !event.CommitTimestamp.IsZero() {
		change.CommitTimestamp = event.CommitTimestamp
	}
	m.publishPet(change)
}

// publishPet broadcasts a pet document. Each event replaces the previous one in full, so a slow
// subscriber skips stale documents rather than the latest.
func (m *Manager) publishPet(change PetChangeEvent) {
	if change.CommitTimestamp.IsZero() {
		change.CommitTimestamp = m.clock().UTC()
	}
	m.events.PublishLatest(string(EventPetChanged), petEvent(change))
}
