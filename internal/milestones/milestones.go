// Package milestones computes relationship-day counters, monthiversaries and anniversaries.
package milestones

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ErrInvalidStartDate indicates an unparseable or future relationship start date.
var ErrInvalidStartDate = errors.New("milestones: invalid start date")

// DayMilestones lists the day counts celebrated as milestones.
var DayMilestones = []int{100, 200, 300, 365, 500, 730, 1000, 1095, 1500, 2000, 2500, 3000, 3650, 5000, 10000}

// Kind identifies a milestone category.
type Kind string

const (
	KindDays          Kind = "days"
	KindMonthiversary Kind = "monthiversary"
	KindAnniversary   Kind = "anniversary"
)

// Milestone is a dated celebration derived from the start date.
type Milestone struct {
	Kind   Kind
	Count  int
	Date   time.Time
	InDays int
}

// DaysTogether returns the number of whole calendar days between start and now.
func DaysTogether(start, now time.Time) int {
	startDay := truncateToDay(start, now.Location())
	today := truncateToDay(now, now.Location())
	if today.Before(startDay) {
		return 0
	}
	return int(today.Sub(startDay).Hours()/24 + 0.5)
}

// MonthsTogether returns the number of completed monthiversaries.
func MonthsTogether(start, now time.Time) int {
	count := 0
	for {
		next := Monthiversary(start, count+1, now.Location())
		if next.After(truncateToDay(now, now.Location())) {
			return count
		}
		count++
	}
}

// Monthiversary returns the date of the n-th monthly anniversary, clamped to the end of shorter months.
func Monthiversary(start time.Time, n int, location *time.Location) time.Time {
	startDay := truncateToDay(start, location)
	year, month, day := startDay.Date()
	target := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, location)
	lastDay := daysIn(target.Year(), target.Month(), location)
	if day > lastDay {
		day = lastDay
	}
	return time.Date(target.Year(), target.Month(), day, 0, 0, 0, 0, location)
}

// NextMonthiversary returns the next monthly anniversary on or after today.
func NextMonthiversary(start, now time.Time) Milestone {
	today := truncateToDay(now, now.Location())
	for n := 1; ; n++ {
		date := Monthiversary(start, n, now.Location())
		if !date.Before(today) {
			return Milestone{Kind: KindMonthiversary, Count: n, Date: date, InDays: daysBetween(today, date)}
		}
	}
}

// NextAnniversary returns the next yearly anniversary on or after today.
func NextAnniversary(start, now time.Time) Milestone {
	today := truncateToDay(now, now.Location())
	for years := 1; ; years++ {
		date := Monthiversary(start, 12*years, now.Location())
		if !date.Before(today) {
			return Milestone{Kind: KindAnniversary, Count: years, Date: date, InDays: daysBetween(today, date)}
		}
	}
}

// NextDayMilestone returns the next day-count milestone on or after today, if any remain.
func NextDayMilestone(start, now time.Time) (Milestone, bool) {
	today := truncateToDay(now, now.Location())
	startDay := truncateToDay(start, now.Location())
	together := DaysTogether(start, now)
	for _, days := range DayMilestones {
		if days < together {
			continue
		}
		date := startDay.AddDate(0, 0, days)
		return Milestone{Kind: KindDays, Count: days, Date: date, InDays: daysBetween(today, date)}, true
	}
	return Milestone{}, false
}

// Upcoming returns the next monthiversary, anniversary and day milestone ordered by date.
func Upcoming(start, now time.Time) []Milestone {
	upcoming := []Milestone{NextMonthiversary(start, now), NextAnniversary(start, now)}
	if dayMilestone, ok := NextDayMilestone(start, now); ok {
		upcoming = append(upcoming, dayMilestone)
	}
	for index := 1; index < len(upcoming); index++ {
		for cursor := index; cursor > 0 && upcoming[cursor].Date.Before(upcoming[cursor-1].Date); cursor-- {
			upcoming[cursor], upcoming[cursor-1] = upcoming[cursor-1], upcoming[cursor]
		}
	}
	return upcoming
}

// ParseStartDate accepts an ISO date or a natural-language expression relative to now.
func ParseStartDate(rawInput string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidStartDate)
	}

	if parsed, err := time.ParseInLocation("2006-01-02", trimmed, now.Location()); err == nil {
		return validateStart(parsed, now)
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return validateStart(parsed.In(now.Location()), now)
	}

	parser := when.New(nil)
	parser.Add(en.All...)
	parser.Add(common.All...)
	result, err := parser.Parse(trimmed, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidStartDate, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidStartDate, trimmed)
	}
	return validateStart(truncateToDay(result.Time, now.Location()), now)
}

func validateStart(start, now time.Time) (time.Time, error) {
	if truncateToDay(start, now.Location()).After(truncateToDay(now, now.Location())) {
		return time.Time{}, fmt.Errorf("%w: in the future", ErrInvalidStartDate)
	}
	return start, nil
}

func truncateToDay(value time.Time, location *time.Location) time.Time {
	local := value.In(location)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, location)
}

func daysIn(year int, month time.Month, location *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, location).Day()
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours()/24 + 0.5)
}
