package backend

import (
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
)

// writeOutcome captures the decision from resolveWrite.
type writeOutcome struct {
	EventType remote.EventType
	Audit     *RowChange
}

// resolveWrite applies last-writer-wins by arrival order: the incoming row replaces the stored row in
// full and the version advances by one. A nil incoming row marks a delete.
func resolveWrite(table string, existing, incoming record, actor string, appliedAt time.Time) (writeOutcome, error) {
	var previousVersion int64
	if existing != nil {
		previousVersion = existing.rowVersion()
	}

	outcome := writeOutcome{EventType: remote.EventInsert}
	subject := incoming
	switch {
	case incoming == nil:
		outcome.EventType = remote.EventDelete
		subject = existing
	case existing != nil:
		outcome.EventType = remote.EventUpdate
	}

	audit := &RowChange{
		Table:            table,
		RowID:            subject.key(),
		PartnershipID:    subject.partnership(),
		Operation:        string(outcome.EventType),
		Actor:            actor,
		AppliedAtSeconds: appliedAt.Unix(),
	}
	if previousVersion > 0 {
		audit.PreviousVersion = pointerTo(previousVersion)
	}

	if incoming != nil {
		nextVersion := previousVersion + 1
		if nextVersion <= 0 {
			nextVersion = 1
		}
		incoming.stamp(nextVersion, appliedAt)
		audit.NewVersion = pointerTo(nextVersion)
	}

	payload, err := json.Marshal(subject)
	if err != nil {
		return writeOutcome{}, err
	}
	audit.PayloadJSON = string(payload)
	outcome.Audit = audit
	return outcome, nil
}

func pointerTo(value int64) *int64 {
	v := value
	return &v
}
