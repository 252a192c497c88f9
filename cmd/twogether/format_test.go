package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/companion"
	"github.com/MarcoPoloResearchLab/twogether/internal/milestones"
	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
)

func TestMilestoneLabels(t *testing.T) {
	cases := []struct {
		milestone milestones.Milestone
		expected  string
	}{
		{milestones.Milestone{Kind: milestones.KindMonthiversary, Count: 3}, "3rd monthiversary"},
		{milestones.Milestone{Kind: milestones.KindAnniversary, Count: 1}, "1st anniversary"},
		{milestones.Milestone{Kind: milestones.KindDays, Count: 1000}, "1,000 days"},
	}
	for _, testCase := range cases {
		if got := milestoneLabel(testCase.milestone); got != testCase.expected {
			t.Fatalf("expected %q, got %q", testCase.expected, got)
		}
	}
	if inDays(0) != "today" || inDays(1) != "tomorrow" || inDays(12) != "in 12 days" {
		t.Fatalf("unexpected relative day labels")
	}
}

func TestFilterByStatus(t *testing.T) {
	open := challenges.Challenge{ID: "c-1", Title: "Picnic", Category: challenges.CategoryOutdoors}
	done := open.Complete(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), "")
	done.ID = "c-2"

	filtered, err := filterByStatus([]challenges.Challenge{open, done}, "done")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "c-2" {
		t.Fatalf("unexpected filter result %+v", filtered)
	}
	unfiltered, err := filterByStatus([]challenges.Challenge{open, done}, "")
	if err != nil || len(unfiltered) != 2 {
		t.Fatalf("expected empty status to keep everything, got %d err=%v", len(unfiltered), err)
	}
	if _, err := filterByStatus(nil, "someday"); err == nil {
		t.Fatalf("expected unknown status to fail")
	}
}

func TestParseSlot(t *testing.T) {
	slot, err := parseSlot(" Outfit ")
	if err != nil || slot != pet.SlotOutfit {
		t.Fatalf("unexpected slot %q err=%v", slot, err)
	}
	if _, err := parseSlot("hat"); err == nil {
		t.Fatalf("expected unknown slot to fail")
	}
}

func TestWritePetAndRelationship(t *testing.T) {
	var out bytes.Buffer
	state := pet.NewState("Mochi")
	state.Coins = 1250
	writePet(&out, state)
	if !strings.Contains(out.String(), "coins 1,250") {
		t.Fatalf("expected grouped coins, got %q", out.String())
	}

	out.Reset()
	writeRelationship(&out, companion.Relationship{
		PartnerName:  "Sam",
		Start:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		DaysTogether: 365,
		Months:       12,
		Upcoming: []milestones.Milestone{
			{Kind: milestones.KindAnniversary, Count: 1, Date: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)},
		},
	})
	if !strings.Contains(out.String(), "Together with Sam since June 1, 2025: 365 days, 12 months") {
		t.Fatalf("unexpected summary %q", out.String())
	}
	if !strings.Contains(out.String(), "1st anniversary on 2026-06-01 (today)") {
		t.Fatalf("unexpected milestone line %q", out.String())
	}
}
