package backend

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
)

// Partnership statuses.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusDeclined = "declined"
)

const maxIdentifierLength = 190

// ErrInvalidRow indicates a row payload that cannot be stored in its table.
var ErrInvalidRow = errors.New("backend: invalid row")

// ChallengeRecord is a shared challenge scoped to a partnership.
type ChallengeRecord struct {
	ID            string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	PartnershipID string     `gorm:"column:partnership_id;size:190;not null;index" json:"partnership_id"`
	Title         string     `gorm:"column:title;not null" json:"title"`
	Category      string     `gorm:"column:category;size:32;not null" json:"category"`
	Notes         *string    `gorm:"column:notes;type:text" json:"notes"`
	Tags          []string   `gorm:"column:tags;type:text;serializer:json" json:"tags"`
	CompletedAt   *time.Time `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt     *time.Time `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	CreatedBy     *string    `gorm:"column:created_by;size:190" json:"created_by"`
	Status        string     `gorm:"column:status;size:16;not null;index" json:"status"`
	XPReward      int        `gorm:"column:xp_reward;not null;default:0" json:"xp_reward"`
	Version       int64      `gorm:"column:version;not null;default:1" json:"version"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (ChallengeRecord) TableName() string {
	return remote.TableChallenges
}

func (r *ChallengeRecord) key() string         { return r.ID }
func (r *ChallengeRecord) partnership() string { return r.PartnershipID }
func (r *ChallengeRecord) rowVersion() int64   { return r.Version }

func (r *ChallengeRecord) stamp(version int64, at time.Time) {
	r.Version = version
	r.UpdatedAt = at
}

func (r *ChallengeRecord) validate() error {
	if err := validateIdentifier("id", r.ID); err != nil {
		return err
	}
	if err := validateIdentifier("partnership_id", r.PartnershipID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRow)
	}
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidRow)
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if r.Status == "" {
		r.Status = "todo"
	}
	return nil
}

// PetRecord is the single shared pet document of a partnership.
type PetRecord struct {
	PartnershipID        string    `gorm:"column:partnership_id;primaryKey;size:190;not null" json:"partnership_id"`
	Name                 string    `gorm:"column:name;not null" json:"name"`
	Level                int       `gorm:"column:level;not null;default:1" json:"level"`
	XP                   int       `gorm:"column:xp;not null;default:0" json:"xp"`
	Mood                 string    `gorm:"column:mood;size:16;not null" json:"mood"`
	Hunger               int       `gorm:"column:hunger;not null" json:"hunger"`
	Energy               int       `gorm:"column:energy;not null" json:"energy"`
	Hygiene              int       `gorm:"column:hygiene;not null" json:"hygiene"`
	Coins                int       `gorm:"column:coins;not null" json:"coins"`
	Inventory            []string  `gorm:"column:inventory;type:text;serializer:json" json:"inventory"`
	EquippedAccessoryID  *string   `gorm:"column:equipped_accessory_id;size:64" json:"equipped_accessory_id"`
	EquippedBackgroundID *string   `gorm:"column:equipped_background_id;size:64" json:"equipped_background_id"`
	EquippedOutfitID     *string   `gorm:"column:equipped_outfit_id;size:64" json:"equipped_outfit_id"`
	Version              int64     `gorm:"column:version;not null;default:1" json:"version"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (PetRecord) TableName() string {
	return remote.TablePets
}

func (r *PetRecord) key() string         { return r.PartnershipID }
func (r *PetRecord) partnership() string { return r.PartnershipID }
func (r *PetRecord) rowVersion() int64   { return r.Version }

func (r *PetRecord) stamp(version int64, at time.Time) {
	r.Version = version
	r.UpdatedAt = at
}

func (r *PetRecord) validate() error {
	if err := validateIdentifier("partnership_id", r.PartnershipID); err != nil {
		return err
	}
	if r.Level < 1 {
		return fmt.Errorf("%w: level must be at least 1", ErrInvalidRow)
	}
	if r.XP < 0 || r.Coins < 0 {
		return fmt.Errorf("%w: xp and coins must not be negative", ErrInvalidRow)
	}
	for column, value := range map[string]int{"hunger": r.Hunger, "energy": r.Energy, "hygiene": r.Hygiene} {
		if value < 0 || value > 100 {
			return fmt.Errorf("%w: %s out of range", ErrInvalidRow, column)
		}
	}
	if r.Inventory == nil {
		r.Inventory = []string{}
	}
	return nil
}

// PartnershipRecord joins two users into one shared data scope.
type PartnershipRecord struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	User1ID     string    `gorm:"column:user1_id;size:190;not null;index" json:"user1_id"`
	User2ID     string    `gorm:"column:user2_id;size:190;not null;index" json:"user2_id"`
	Status      string    `gorm:"column:status;size:16;not null" json:"status"`
	Anniversary *string   `gorm:"column:anniversary;size:10" json:"anniversary"`
	Version     int64     `gorm:"column:version;not null;default:1" json:"version"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (PartnershipRecord) TableName() string {
	return remote.TablePartnerships
}

func (r *PartnershipRecord) key() string         { return r.ID }
func (r *PartnershipRecord) partnership() string { return r.ID }
func (r *PartnershipRecord) rowVersion() int64   { return r.Version }

func (r *PartnershipRecord) stamp(version int64, at time.Time) {
	r.Version = version
	r.UpdatedAt = at
}

func (r *PartnershipRecord) validate() error {
	if err := validateIdentifier("id", r.ID); err != nil {
		return err
	}
	if err := validateIdentifier("user1_id", r.User1ID); err != nil {
		return err
	}
	if err := validateIdentifier("user2_id", r.User2ID); err != nil {
		return err
	}
	if r.User1ID == r.User2ID {
		return fmt.Errorf("%w: partners must be distinct users", ErrInvalidRow)
	}
	switch r.Status {
	case StatusPending, StatusActive, StatusDeclined:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRow, r.Status)
	}
	if r.Anniversary != nil {
		if _, err := time.Parse(time.DateOnly, *r.Anniversary); err != nil {
			return fmt.Errorf("%w: anniversary must be YYYY-MM-DD", ErrInvalidRow)
		}
	}
	return nil
}

// IsMember reports whether the user is one of the two partners.
func (r PartnershipRecord) IsMember(userID string) bool {
	return userID != "" && (r.User1ID == userID || r.User2ID == userID)
}

// IsActiveMember reports whether the user is a partner of an active partnership.
func (r PartnershipRecord) IsActiveMember(userID string) bool {
	return r.Status == StatusActive && r.IsMember(userID)
}

// RowChange captures an append-only audit trail for accepted writes.
type RowChange struct {
	ChangeID         string `gorm:"column:change_id;primaryKey;size:190;not null"`
	Table            string `gorm:"column:table_name;size:32;not null;index:idx_row_changes_scope,priority:1"`
	RowID            string `gorm:"column:row_id;size:190;not null"`
	PartnershipID    string `gorm:"column:partnership_id;size:190;not null;index:idx_row_changes_scope,priority:2"`
	Operation        string `gorm:"column:op;size:8;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	PreviousVersion  *int64 `gorm:"column:prev_version"`
	NewVersion       *int64 `gorm:"column:new_version"`
	Actor            string `gorm:"column:actor;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null;index:idx_row_changes_scope,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (RowChange) TableName() string {
	return "row_changes"
}

func validateIdentifier(column, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRow, column)
	}
	if len(trimmed) > maxIdentifierLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidRow, column, maxIdentifierLength)
	}
	return nil
}
