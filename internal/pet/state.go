package pet

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Mood is derived from hunger and energy.
type Mood string

const (
	MoodHappy  Mood = "happy"
	MoodChill  Mood = "chill"
	MoodSleepy Mood = "sleepy"
)

const (
	minStat       = 0
	maxStat       = 100
	defaultName   = "Mochi"
	sleepyEnergy  = 30
	happyMinimum  = 60
	startingCoins = 50
)

var (
	// ErrInsufficientCoins indicates a purchase the pet cannot afford.
	ErrInsufficientCoins = errors.New("pet: insufficient coins")
	// ErrItemNotOwned indicates an equip request for an item outside the inventory.
	ErrItemNotOwned = errors.New("pet: item not owned")
	// ErrUnknownItem indicates an item id missing from the catalog.
	ErrUnknownItem = errors.New("pet: unknown item")
	// ErrInvalidName indicates an empty pet name.
	ErrInvalidName = errors.New("pet: invalid name")
)

// Equipped holds the item ids currently worn; empty strings mean nothing is equipped in that slot.
type Equipped struct {
	AccessoryID  string `json:"equippedAccessoryId,omitempty"`
	BackgroundID string `json:"equippedBackgroundId,omitempty"`
	OutfitID     string `json:"equippedOutfitId,omitempty"`
}

// State is the single shared pet document of a partnership.
type State struct {
	Name      string   `json:"name"`
	Level     int      `json:"level"`
	XP        int      `json:"xp"`
	Mood      Mood     `json:"mood"`
	Hunger    int      `json:"hunger"`
	Energy    int      `json:"energy"`
	Hygiene   int      `json:"hygiene"`
	Coins     int      `json:"coins"`
	Inventory []string `json:"inventory"`
	Equipped  Equipped `json:"equipped"`
}

// NewState returns the pet created on first use.
func NewState(name string) State {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = defaultName
	}
	state := State{
		Name:      trimmed,
		Level:     1,
		XP:        0,
		Hunger:    80,
		Energy:    80,
		Hygiene:   80,
		Coins:     startingCoins,
		Inventory: []string{},
	}
	return state.Normalize()
}

// DeriveMood computes the mood implied by hunger and energy.
func DeriveMood(hunger, energy int) Mood {
	if energy < sleepyEnergy {
		return MoodSleepy
	}
	if hunger >= happyMinimum && energy >= happyMinimum {
		return MoodHappy
	}
	return MoodChill
}

// Normalize clamps stats, deduplicates the inventory, clears equipped ids that are not owned
// and recomputes the mood.
func (s State) Normalize() State {
	normalized := s
	if strings.TrimSpace(normalized.Name) == "" {
		normalized.Name = defaultName
	}
	if normalized.Level < 1 {
		normalized.Level = 1
	}
	if normalized.XP < 0 {
		normalized.XP = 0
	}
	if normalized.Coins < 0 {
		normalized.Coins = 0
	}
	normalized.Hunger = clampStat(normalized.Hunger)
	normalized.Energy = clampStat(normalized.Energy)
	normalized.Hygiene = clampStat(normalized.Hygiene)
	normalized.Inventory = uniqueSorted(normalized.Inventory)
	normalized.Equipped = Equipped{
		AccessoryID:  ownedOrEmpty(normalized.Inventory, normalized.Equipped.AccessoryID),
		BackgroundID: ownedOrEmpty(normalized.Inventory, normalized.Equipped.BackgroundID),
		OutfitID:     ownedOrEmpty(normalized.Inventory, normalized.Equipped.OutfitID),
	}
	normalized.Mood = DeriveMood(normalized.Hunger, normalized.Energy)
	return normalized
}

// Owns reports whether the inventory contains the item.
func (s State) Owns(itemID string) bool {
	for _, owned := range s.Inventory {
		if owned == itemID {
			return true
		}
	}
	return false
}

// Rename returns a copy with a new display name.
func (s State) Rename(name string) (State, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return s, fmt.Errorf("%w: empty", ErrInvalidName)
	}
	renamed := s
	renamed.Name = trimmed
	return renamed.Normalize(), nil
}

func clampStat(value int) int {
	if value < minStat {
		return minStat
	}
	if value > maxStat {
		return maxStat
	}
	return value
}

func uniqueSorted(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	unique := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		unique = append(unique, trimmed)
	}
	sort.Strings(unique)
	return unique
}

func ownedOrEmpty(inventory []string, itemID string) string {
	if itemID == "" {
		return ""
	}
	for _, owned := range inventory {
		if owned == itemID {
			return itemID
		}
	}
	return ""
}
