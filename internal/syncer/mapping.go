package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
)

const (
	statusDone = "done"
	statusTodo = "todo"
)

var errInvalidRow = errors.New("syncer: invalid remote row")

// challengeRow is the remote challenges wire shape.
type challengeRow struct {
	ID            string     `json:"id"`
	PartnershipID string     `json:"partnership_id"`
	Title         string     `json:"title"`
	Category      string     `json:"category"`
	Notes         *string    `json:"notes"`
	Tags          []string   `json:"tags"`
	CompletedAt   *time.Time `json:"completed_at"`
	CreatedAt     *time.Time `json:"created_at"`
	CreatedBy     *string    `json:"created_by"`
	Status        string     `json:"status"`
	XPReward      int        `json:"xp_reward"`
}

// petRow is the remote pets wire shape. Equipped columns are always present, null when empty.
type petRow struct {
	PartnershipID        string   `json:"partnership_id"`
	Name                 string   `json:"name"`
	Level                int      `json:"level"`
	XP                   int      `json:"xp"`
	Mood                 string   `json:"mood"`
	Hunger               int      `json:"hunger"`
	Energy               int      `json:"energy"`
	Hygiene              int      `json:"hygiene"`
	Coins                int      `json:"coins"`
	Inventory            []string `json:"inventory"`
	EquippedAccessoryID  *string  `json:"equipped_accessory_id"`
	EquippedBackgroundID *string  `json:"equipped_background_id"`
	EquippedOutfitID     *string  `json:"equipped_outfit_id"`

	// Version and UpdatedAt are stamped by the backend and only read.
	Version   int64      `json:"version,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func challengeToRow(challenge challenges.Challenge, partnershipID, userID string) remote.Row {
	notes := challenge.Notes
	if notes == "" {
		notes = challenge.Description
	}
	createdBy := challenge.CreatedBy
	if createdBy == "" {
		createdBy = userID
	}
	status := statusTodo
	if challenge.Completed() {
		status = statusDone
	}
	tags := challenge.Tags
	if tags == nil {
		tags = []string{}
	}
	return remote.Row{
		"id":             challenge.ID.String(),
		"partnership_id": partnershipID,
		"title":          challenge.Title,
		"category":       string(challenge.Category),
		"notes":          nullableString(notes),
		"tags":           tags,
		"completed_at":   nullableTime(challenge.CompletedAt),
		"created_at":     challenge.CreatedAt.UTC().Format(time.RFC3339Nano),
		"created_by":     nullableString(createdBy),
		"status":         status,
		"xp_reward":      challenges.XPReward,
	}
}

func petToRow(state pet.State, partnershipID string) remote.Row {
	normalized := state.Normalize()
	inventory := normalized.Inventory
	if inventory == nil {
		inventory = []string{}
	}
	return remote.Row{
		"partnership_id":         partnershipID,
		"name":                   normalized.Name,
		"level":                  normalized.Level,
		"xp":                     normalized.XP,
		"mood":                   string(normalized.Mood),
		"hunger":                 normalized.Hunger,
		"energy":                 normalized.Energy,
		"hygiene":                normalized.Hygiene,
		"coins":                  normalized.Coins,
		"inventory":              inventory,
		"equipped_accessory_id":  nullableString(normalized.Equipped.AccessoryID),
		"equipped_background_id": nullableString(normalized.Equipped.BackgroundID),
		"equipped_outfit_id":     nullableString(normalized.Equipped.OutfitID),
	}
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func decodeRow[T any](row remote.Row) (T, error) {
	var decoded T
	if len(row) == 0 {
		return decoded, fmt.Errorf("%w: empty row", errInvalidRow)
	}
	encoded, err := json.Marshal(row)
	if err != nil {
		return decoded, fmt.Errorf("%w: %v", errInvalidRow, err)
	}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return decoded, fmt.Errorf("%w: %v", errInvalidRow, err)
	}
	return decoded, nil
}

// challengeFromRow builds a fresh local challenge. Remote notes double as the description, and
// as completion notes only once the challenge is done.
func challengeFromRow(row remote.Row) (challenges.Challenge, error) {
	decoded, err := decodeRow[challengeRow](row)
	if err != nil {
		return challenges.Challenge{}, err
	}
	notes := derefString(decoded.Notes)
	challenge := challenges.Challenge{
		ID:          challenges.ChallengeID(strings.TrimSpace(decoded.ID)),
		Title:       decoded.Title,
		Description: notes,
		Category:    challenges.Category(decoded.Category),
		Tags:        decoded.Tags,
		CompletedAt: utcPointer(decoded.CompletedAt),
		CreatedBy:   derefString(decoded.CreatedBy),
	}
	if challenge.Completed() {
		challenge.Notes = notes
	}
	if decoded.CreatedAt != nil {
		challenge.CreatedAt = decoded.CreatedAt.UTC()
	}
	if challenge.Tags == nil {
		challenge.Tags = []string{}
	}
	if err := challenge.Validate(); err != nil {
		return challenges.Challenge{}, fmt.Errorf("%w: %v", errInvalidRow, err)
	}
	return challenge, nil
}

// mergeChallenge applies a remote update onto the stored record, keeping local-only fields.
func mergeChallenge(existing, incoming challenges.Challenge) challenges.Challenge {
	merged := existing
	merged.Title = incoming.Title
	merged.Category = incoming.Category
	merged.Tags = incoming.Tags
	merged.CompletedAt = incoming.CompletedAt
	if incoming.Completed() || existing.Notes != "" {
		merged.Notes = incoming.Notes
	}
	if merged.Description == "" {
		merged.Description = incoming.Description
	}
	if !incoming.CreatedAt.IsZero() {
		merged.CreatedAt = incoming.CreatedAt
	}
	if incoming.CreatedBy != "" {
		merged.CreatedBy = incoming.CreatedBy
	}
	return merged
}

// petChangeFromRow decodes a remote pet row. The row's version and updated_at order the change
// against others for the same partnership.
func petChangeFromRow(row remote.Row) (PetChangeEvent, error) {
	decoded, err := decodeRow[petRow](row)
	if err != nil {
		return PetChangeEvent{}, err
	}
	if decoded.Level < 1 {
		return PetChangeEvent{}, fmt.Errorf("%w: level must be at least 1", errInvalidRow)
	}
	state := pet.State{
		Name:      decoded.Name,
		Level:     decoded.Level,
		XP:        decoded.XP,
		Mood:      pet.Mood(decoded.Mood),
		Hunger:    decoded.Hunger,
		Energy:    decoded.Energy,
		Hygiene:   decoded.Hygiene,
		Coins:     decoded.Coins,
		Inventory: decoded.Inventory,
		Equipped: pet.Equipped{
			AccessoryID:  derefString(decoded.EquippedAccessoryID),
			BackgroundID: derefString(decoded.EquippedBackgroundID),
			OutfitID:     derefString(decoded.EquippedOutfitID),
		},
	}
	change := PetChangeEvent{State: state.Normalize(), Version: decoded.Version}
	if decoded.UpdatedAt != nil {
		change.CommitTimestamp = decoded.UpdatedAt.UTC()
	}
	return change, nil
}

func rowID(event remote.Event) string {
	for _, row := range []remote.Row{event.Old, event.New} {
		if value, ok := row["id"].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}
