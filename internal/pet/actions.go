package pet

import (
	"fmt"
	"time"
)

// Slot identifies where an item is worn.
type Slot string

const (
	SlotAccessory  Slot = "accessory"
	SlotBackground Slot = "background"
	SlotOutfit     Slot = "outfit"
)

// Item is a purchasable catalog entry.
type Item struct {
	ID    string
	Slot  Slot
	Price int
}

var catalog = map[string]Item{
	"bow-tie":         {ID: "bow-tie", Slot: SlotAccessory, Price: 30},
	"flower-crown":    {ID: "flower-crown", Slot: SlotAccessory, Price: 45},
	"sunglasses":      {ID: "sunglasses", Slot: SlotAccessory, Price: 40},
	"beach":           {ID: "beach", Slot: SlotBackground, Price: 60},
	"starry-night":    {ID: "starry-night", Slot: SlotBackground, Price: 80},
	"cozy-sweater":    {ID: "cozy-sweater", Slot: SlotOutfit, Price: 50},
	"raincoat":        {ID: "raincoat", Slot: SlotOutfit, Price: 55},
	"birthday-hat":    {ID: "birthday-hat", Slot: SlotAccessory, Price: 25},
	"cherry-blossoms": {ID: "cherry-blossoms", Slot: SlotBackground, Price: 70},
}

const (
	feedHunger   = 25
	feedXP       = 5
	playEnergy   = 15
	playHunger   = 10
	playXP       = 15
	playCoins    = 5
	cleanXP      = 5
	decayPerHour = 4
)

// LookupItem returns the catalog entry for the item id.
func LookupItem(itemID string) (Item, error) {
	item, ok := catalog[itemID]
	if !ok {
		return Item{}, fmt.Errorf("%w: %q", ErrUnknownItem, itemID)
	}
	return item, nil
}

// Feed restores hunger.
func (s State) Feed() State {
	fed := s
	fed.Hunger += feedHunger
	fed, _ = fed.Normalize().GainXP(feedXP)
	return fed.Normalize()
}

// Play spends energy and hunger in exchange for experience and coins.
func (s State) Play() State {
	played := s
	played.Energy -= playEnergy
	played.Hunger -= playHunger
	played.Coins += playCoins
	played, _ = played.Normalize().GainXP(playXP)
	return played.Normalize()
}

// Clean restores hygiene completely.
func (s State) Clean() State {
	cleaned := s
	cleaned.Hygiene = maxStat
	cleaned, _ = cleaned.Normalize().GainXP(cleanXP)
	return cleaned.Normalize()
}

// Rest restores energy.
func (s State) Rest() State {
	rested := s
	rested.Energy = maxStat
	return rested.Normalize()
}

// Reward grants completion rewards.
func (s State) Reward(xp, coins int) State {
	rewarded := s
	if coins > 0 {
		rewarded.Coins += coins
	}
	rewarded, _ = rewarded.Normalize().GainXP(xp)
	return rewarded.Normalize()
}

// Decay lowers hunger, energy and hygiene for the elapsed time.
func (s State) Decay(elapsed time.Duration) State {
	hours := int(elapsed / time.Hour)
	if hours <= 0 {
		return s.Normalize()
	}
	decayed := s
	decayed.Hunger -= hours * decayPerHour
	decayed.Energy -= hours * decayPerHour
	decayed.Hygiene -= hours * decayPerHour
	return decayed.Normalize()
}

// Purchase buys a catalog item. Buying an owned item is a no-op.
func (s State) Purchase(itemID string) (State, error) {
	item, err := LookupItem(itemID)
	if err != nil {
		return s, err
	}
	if s.Owns(item.ID) {
		return s.Normalize(), nil
	}
	if s.Coins < item.Price {
		return s, fmt.Errorf("%w: need %d, have %d", ErrInsufficientCoins, item.Price, s.Coins)
	}
	bought := s
	bought.Coins -= item.Price
	bought.Inventory = append(append([]string{}, s.Inventory...), item.ID)
	return bought.Normalize(), nil
}

// Equip wears an owned item in its catalog slot.
func (s State) Equip(itemID string) (State, error) {
	item, err := LookupItem(itemID)
	if err != nil {
		return s, err
	}
	if !s.Owns(item.ID) {
		return s, fmt.Errorf("%w: %q", ErrItemNotOwned, itemID)
	}
	equipped := s
	switch item.Slot {
	case SlotAccessory:
		equipped.Equipped.AccessoryID = item.ID
	case SlotBackground:
		equipped.Equipped.BackgroundID = item.ID
	case SlotOutfit:
		equipped.Equipped.OutfitID = item.ID
	}
	return equipped.Normalize(), nil
}

// Unequip clears a slot.
func (s State) Unequip(slot Slot) State {
	unequipped := s
	switch slot {
	case SlotAccessory:
		unequipped.Equipped.AccessoryID = ""
	case SlotBackground:
		unequipped.Equipped.BackgroundID = ""
	case SlotOutfit:
		unequipped.Equipped.OutfitID = ""
	}
	return unequipped.Normalize()
}
