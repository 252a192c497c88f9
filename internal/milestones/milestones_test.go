package milestones

import (
	"errors"
	"testing"
	"time"
)

func day(year int, month time.Month, dayOfMonth int) time.Time {
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

func TestDaysTogether(t *testing.T) {
	start := day(2025, time.January, 1)
	if got := DaysTogether(start, day(2025, time.January, 1).Add(15*time.Hour)); got != 0 {
		t.Fatalf("expected 0 days on the start date, got %d", got)
	}
	if got := DaysTogether(start, day(2025, time.April, 11)); got != 100 {
		t.Fatalf("expected 100 days, got %d", got)
	}
	if got := DaysTogether(start, day(2024, time.December, 31)); got != 0 {
		t.Fatalf("expected 0 for dates before the start, got %d", got)
	}
}

func TestMonthiversaryClampsToMonthEnd(t *testing.T) {
	start := day(2025, time.January, 31)
	tests := []struct {
		n        int
		expected time.Time
	}{
		{n: 1, expected: day(2025, time.February, 28)},
		{n: 2, expected: day(2025, time.March, 31)},
		{n: 3, expected: day(2025, time.April, 30)},
		{n: 13, expected: day(2026, time.February, 28)},
	}
	for _, tt := range tests {
		if got := Monthiversary(start, tt.n, time.UTC); !got.Equal(tt.expected) {
			t.Fatalf("monthiversary %d: expected %s, got %s", tt.n, tt.expected, got)
		}
	}
}

func TestNextMonthiversaryAndAnniversary(t *testing.T) {
	start := day(2024, time.June, 15)
	now := day(2025, time.June, 20)

	next := NextMonthiversary(start, now)
	if next.Count != 13 || !next.Date.Equal(day(2025, time.July, 15)) {
		t.Fatalf("unexpected monthiversary %+v", next)
	}
	if next.InDays != 25 {
		t.Fatalf("expected 25 days until monthiversary, got %d", next.InDays)
	}

	anniversary := NextAnniversary(start, now)
	if anniversary.Count != 2 || !anniversary.Date.Equal(day(2026, time.June, 15)) {
		t.Fatalf("unexpected anniversary %+v", anniversary)
	}

	if MonthsTogether(start, now) != 12 {
		t.Fatalf("expected 12 completed months, got %d", MonthsTogether(start, now))
	}
}

func TestNextDayMilestoneAndUpcomingOrdering(t *testing.T) {
	start := day(2025, time.January, 1)
	now := day(2025, time.March, 1)

	milestone, ok := NextDayMilestone(start, now)
	if !ok {
		t.Fatalf("expected a day milestone")
	}
	if milestone.Count != 100 || !milestone.Date.Equal(day(2025, time.April, 11)) {
		t.Fatalf("unexpected day milestone %+v", milestone)
	}

	upcoming := Upcoming(start, now)
	if len(upcoming) != 3 {
		t.Fatalf("expected three upcoming milestones, got %d", len(upcoming))
	}
	for index := 1; index < len(upcoming); index++ {
		if upcoming[index].Date.Before(upcoming[index-1].Date) {
			t.Fatalf("milestones not ordered by date: %+v", upcoming)
		}
	}
	if upcoming[0].Kind != KindMonthiversary {
		t.Fatalf("expected monthiversary first, got %s", upcoming[0].Kind)
	}
}

func TestParseStartDate(t *testing.T) {
	now := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

	parsed, err := ParseStartDate("2024-02-14", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Equal(day(2024, time.February, 14)) {
		t.Fatalf("unexpected iso date %s", parsed)
	}

	if _, err := ParseStartDate("2030-01-01", now); !errors.Is(err, ErrInvalidStartDate) {
		t.Fatalf("expected future date rejection, got %v", err)
	}
	if _, err := ParseStartDate("", now); !errors.Is(err, ErrInvalidStartDate) {
		t.Fatalf("expected empty input rejection, got %v", err)
	}
}
