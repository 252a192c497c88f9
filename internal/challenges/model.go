package challenges

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category enumerates the supported challenge categories.
type Category string

const (
	CategoryAtHome         Category = "at-home"
	CategoryOutdoors       Category = "outdoors"
	CategoryCreative       Category = "creative"
	CategoryBudgetFriendly Category = "budget-friendly"
	CategoryCustom         Category = "custom"
)

// XPReward is the pet experience granted when a challenge is completed.
const XPReward = 20

// CoinReward is the pet currency granted when a challenge is completed.
const CoinReward = 10

const maxIdentifierLength = 190

var (
	// ErrInvalidChallengeID indicates that a challenge identifier is empty or exceeds storage bounds.
	ErrInvalidChallengeID = errors.New("challenges: invalid challenge id")
	// ErrInvalidTitle indicates that a challenge title is empty.
	ErrInvalidTitle = errors.New("challenges: invalid title")
	// ErrInvalidCategory indicates an unknown category value.
	ErrInvalidCategory = errors.New("challenges: invalid category")
	// ErrInvalidEstimate indicates a negative duration or cost estimate.
	ErrInvalidEstimate = errors.New("challenges: invalid estimate")
)

// ChallengeID represents a validated challenge identifier.
type ChallengeID string

// NewChallengeID validates raw input and returns a ChallengeID.
func NewChallengeID(rawInput string) (ChallengeID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidChallengeID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidChallengeID, maxIdentifierLength)
	}
	return ChallengeID(trimmed), nil
}

// GenerateChallengeID issues a new client-side identifier.
func GenerateChallengeID() (ChallengeID, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return ChallengeID(value.String()), nil
}

// String returns the underlying string identifier.
func (id ChallengeID) String() string {
	return string(id)
}

// ParseCategory validates a raw category value.
func ParseCategory(rawInput string) (Category, error) {
	switch category := Category(strings.ToLower(strings.TrimSpace(rawInput))); category {
	case CategoryAtHome, CategoryOutdoors, CategoryCreative, CategoryBudgetFriendly, CategoryCustom:
		return category, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, rawInput)
	}
}

// Estimate captures the expected effort of a challenge.
type Estimate struct {
	Minutes int     `json:"minutes"`
	CostUSD float64 `json:"costUSD"`
}

// Challenge is a shared to-do item; CompletedAt being set marks it done.
type Challenge struct {
	ID          ChallengeID `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Category    Category    `json:"category"`
	Tags        []string    `json:"tags"`
	Estimate    *Estimate   `json:"estimate,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	CreatedBy   string      `json:"createdBy,omitempty"`
}

// Completed reports whether the challenge has been marked done.
func (c Challenge) Completed() bool {
	return c.CompletedAt != nil
}

// Validate checks the invariants every stored challenge must satisfy.
func (c Challenge) Validate() error {
	if _, err := NewChallengeID(c.ID.String()); err != nil {
		return err
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTitle)
	}
	if _, err := ParseCategory(string(c.Category)); err != nil {
		return err
	}
	if c.Estimate != nil && (c.Estimate.Minutes < 0 || c.Estimate.CostUSD < 0) {
		return fmt.Errorf("%w: negative value", ErrInvalidEstimate)
	}
	return nil
}

// Complete returns a copy marked done at the provided time with optional notes.
func (c Challenge) Complete(at time.Time, notes string) Challenge {
	completedAt := at.UTC()
	completed := c
	completed.CompletedAt = &completedAt
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		completed.Notes = trimmed
	}
	return completed
}

// NewChallengeConfig describes the inputs required to create a challenge.
type NewChallengeConfig struct {
	Title       string
	Description string
	Category    string
	Tags        []string
	Estimate    *Estimate
	CreatedBy   string
	CreatedAt   time.Time
}

// New creates a challenge with a fresh client-side identifier.
func New(cfg NewChallengeConfig) (Challenge, error) {
	category, err := ParseCategory(cfg.Category)
	if err != nil {
		return Challenge{}, err
	}
	id, err := GenerateChallengeID()
	if err != nil {
		return Challenge{}, err
	}
	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	challenge := Challenge{
		ID:          id,
		Title:       strings.TrimSpace(cfg.Title),
		Description: strings.TrimSpace(cfg.Description),
		Category:    category,
		Tags:        normalizeTags(cfg.Tags),
		Estimate:    cfg.Estimate,
		CreatedAt:   createdAt.UTC(),
		CreatedBy:   strings.TrimSpace(cfg.CreatedBy),
	}
	if err := challenge.Validate(); err != nil {
		return Challenge{}, err
	}
	return challenge, nil
}

func normalizeTags(tags []string) []string {
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
