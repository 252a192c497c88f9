package pet

const (
	baseLevelXP      = 100
	levelXPIncrement = 50
)

// XPToNextLevel returns the experience needed to advance from the given level.
func XPToNextLevel(level int) int {
	if level < 1 {
		level = 1
	}
	return baseLevelXP + levelXPIncrement*(level-1)
}

// TotalXPForLevel returns the cumulative experience required to reach the given level from level 1.
func TotalXPForLevel(level int) int {
	total := 0
	for current := 1; current < level; current++ {
		total += XPToNextLevel(current)
	}
	return total
}

// GainXP adds experience, carrying overflow across as many level-ups as it covers.
// It returns the updated state and the number of levels gained.
func (s State) GainXP(amount int) (State, int) {
	if amount <= 0 {
		return s, 0
	}
	updated := s.Normalize()
	updated.XP += amount
	gained := 0
	for updated.XP >= XPToNextLevel(updated.Level) {
		updated.XP -= XPToNextLevel(updated.Level)
		updated.Level++
		gained++
	}
	return updated, gained
}

// Progress returns the fraction of the current level already earned, in [0,1).
func (s State) Progress() float64 {
	needed := XPToNextLevel(s.Level)
	if needed <= 0 {
		return 0
	}
	return float64(s.XP) / float64(needed)
}
