package localstore

import (
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
)

const singletonKey = "main"

// Settings is the per-device profile used to scope sync and milestone tracking.
type Settings struct {
	UserID            string     `json:"userId,omitempty"`
	PartnershipID     string     `json:"partnershipId,omitempty"`
	PartnerName       string     `json:"partnerName,omitempty"`
	RelationshipStart *time.Time `json:"relationshipStart,omitempty"`
}

// HistoryEntry records one local mutation in the append-only activity log.
type HistoryEntry struct {
	ID         int64
	Kind       string
	Subject    string
	Detail     string
	OccurredAt time.Time
}

// QueueItem is a persisted unit of outbound sync work.
type QueueItem struct {
	ID         string
	Type       string
	Action     string
	Data       json.RawMessage
	Timestamp  time.Time
	RetryCount int
}

type challengeRecord struct {
	ID          string               `gorm:"column:id;primaryKey;size:190;not null"`
	Title       string               `gorm:"column:title;not null"`
	Description string               `gorm:"column:description;type:text"`
	Category    string               `gorm:"column:category;size:32;not null;index:idx_challenges_category"`
	Tags        []string             `gorm:"column:tags;type:text;serializer:json"`
	Estimate    *challenges.Estimate `gorm:"column:estimate;type:text;serializer:json"`
	CompletedAt *time.Time           `gorm:"column:completed_at"`
	Completed   bool                 `gorm:"column:completed;not null;default:false;index:idx_challenges_completed"`
	Notes       string               `gorm:"column:notes;type:text"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime:false;not null"`
	CreatedBy   string               `gorm:"column:created_by;size:190"`
}

func (challengeRecord) TableName() string {
	return "challenges"
}

func challengeToRecord(challenge challenges.Challenge) challengeRecord {
	tags := challenge.Tags
	if tags == nil {
		tags = []string{}
	}
	return challengeRecord{
		ID:          challenge.ID.String(),
		Title:       challenge.Title,
		Description: challenge.Description,
		Category:    string(challenge.Category),
		Tags:        tags,
		Estimate:    challenge.Estimate,
		CompletedAt: challenge.CompletedAt,
		Completed:   challenge.Completed(),
		Notes:       challenge.Notes,
		CreatedAt:   challenge.CreatedAt.UTC(),
		CreatedBy:   challenge.CreatedBy,
	}
}

func (r challengeRecord) toChallenge() challenges.Challenge {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	var completedAt *time.Time
	if r.CompletedAt != nil {
		value := r.CompletedAt.UTC()
		completedAt = &value
	}
	return challenges.Challenge{
		ID:          challenges.ChallengeID(r.ID),
		Title:       r.Title,
		Description: r.Description,
		Category:    challenges.Category(r.Category),
		Tags:        tags,
		Estimate:    r.Estimate,
		CompletedAt: completedAt,
		Notes:       r.Notes,
		CreatedAt:   r.CreatedAt.UTC(),
		CreatedBy:   r.CreatedBy,
	}
}

type petRecord struct {
	Key       string    `gorm:"column:id;primaryKey;size:16;not null"`
	State     pet.State `gorm:"column:state;type:text;serializer:json;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (petRecord) TableName() string {
	return "pet"
}

type settingsRecord struct {
	Key       string    `gorm:"column:id;primaryKey;size:16;not null"`
	Settings  Settings  `gorm:"column:settings;type:text;serializer:json;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (settingsRecord) TableName() string {
	return "settings"
}

type historyRecord struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Kind       string    `gorm:"column:kind;size:32;not null;index"`
	Subject    string    `gorm:"column:subject;size:190"`
	Detail     string    `gorm:"column:detail;type:text"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null"`
}

func (historyRecord) TableName() string {
	return "history"
}

type metadataRecord struct {
	Key   string `gorm:"column:meta_key;primaryKey;size:190;not null"`
	Value string `gorm:"column:value;type:text;not null"`
}

func (metadataRecord) TableName() string {
	return "metadata"
}

type queueRecord struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	Position   int64     `gorm:"column:position;not null;uniqueIndex"`
	Type       string    `gorm:"column:type;size:32;not null"`
	Action     string    `gorm:"column:action;size:16;not null"`
	Data       string    `gorm:"column:data;type:text;not null"`
	Timestamp  time.Time `gorm:"column:timestamp;not null"`
	RetryCount int       `gorm:"column:retry_count;not null;default:0"`
}

func (queueRecord) TableName() string {
	return "sync_queue"
}

func (r queueRecord) toItem() QueueItem {
	return QueueItem{
		ID:         r.ID,
		Type:       r.Type,
		Action:     r.Action,
		Data:       json.RawMessage(r.Data),
		Timestamp:  r.Timestamp.UTC(),
		RetryCount: r.RetryCount,
	}
}

// Models lists the gorm models backing the device store.
func Models() []any {
	return []any{
		&challengeRecord{},
		&petRecord{},
		&settingsRecord{},
		&historyRecord{},
		&metadataRecord{},
		&queueRecord{},
	}
}
