package syncer

import (
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
)

// EventKind discriminates local sync events. Each kind is also the dispatcher topic it is published on.
type EventKind string

const (
	EventChallengeChanged EventKind = "challenge_changed"
	EventPetChanged       EventKind = "pet_changed"
)

// ChallengeChangeEvent reports a remote challenge change after it has been applied to the local store.
// Challenge is zero for deletes; ID is always set.
type ChallengeChangeEvent struct {
	Kind      remote.EventType
	ID        challenges.ChallengeID
	Challenge challenges.Challenge
	Raw       remote.Event
}

// PetChangeEvent carries the pet document as last written remotely. Version is the backend row
// version, zero when unknown; a higher version is a later write.
type PetChangeEvent struct {
	State           pet.State
	Version         int64
	CommitTimestamp time.Time
}

// Event is the tagged union broadcast to the application layer.
type Event struct {
	Kind      EventKind
	Challenge *ChallengeChangeEvent
	Pet       *PetChangeEvent
}

func challengeEvent(change ChallengeChangeEvent) Event {
	return Event{Kind: EventChallengeChanged, Challenge: &change}
}

func petEvent(change PetChangeEvent) Event {
	return Event{Kind: EventPetChanged, Pet: &change}
}
