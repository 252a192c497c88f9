package challenges

import (
	"errors"
	"testing"
	"time"
)

func TestNewAssignsIdentifierAndNormalizes(t *testing.T) {
	createdAt := time.Date(2026, 2, 14, 18, 0, 0, 0, time.UTC)
	challenge, err := New(NewChallengeConfig{
		Title:     "  Picnic at the lake ",
		Category:  "Outdoors",
		Tags:      []string{"summer", " ", "food"},
		CreatedBy: "user-1",
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if challenge.ID == "" {
		t.Fatalf("expected generated id")
	}
	if challenge.Title != "Picnic at the lake" {
		t.Fatalf("unexpected title %q", challenge.Title)
	}
	if challenge.Category != CategoryOutdoors {
		t.Fatalf("unexpected category %q", challenge.Category)
	}
	if len(challenge.Tags) != 2 {
		t.Fatalf("expected blank tags to be dropped, got %v", challenge.Tags)
	}
	if !challenge.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected created at %s", challenge.CreatedAt)
	}
	if challenge.Completed() {
		t.Fatalf("new challenge should not be completed")
	}
}

func TestNewRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		cfg      NewChallengeConfig
		expected error
	}{
		{name: "empty-title", cfg: NewChallengeConfig{Title: " ", Category: "creative"}, expected: ErrInvalidTitle},
		{name: "unknown-category", cfg: NewChallengeConfig{Title: "Paint", Category: "space"}, expected: ErrInvalidCategory},
		{name: "negative-estimate", cfg: NewChallengeConfig{Title: "Paint", Category: "creative", Estimate: &Estimate{Minutes: -5}}, expected: ErrInvalidEstimate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if !errors.Is(err, tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestCompleteSetsTimestampAndNotes(t *testing.T) {
	challenge := Challenge{ID: "c-1", Title: "Cook together", Category: CategoryAtHome}
	completedAt := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	completed := challenge.Complete(completedAt, " pasta night ")
	if !completed.Completed() {
		t.Fatalf("expected challenge to be completed")
	}
	if !completed.CompletedAt.Equal(completedAt) {
		t.Fatalf("unexpected completed at %s", completed.CompletedAt)
	}
	if completed.Notes != "pasta night" {
		t.Fatalf("unexpected notes %q", completed.Notes)
	}
	if challenge.Completed() {
		t.Fatalf("original challenge must stay untouched")
	}
}

func TestNewChallengeIDRejectsOversizedInput(t *testing.T) {
	long := make([]byte, maxIdentifierLength+1)
	for index := range long {
		long[index] = 'a'
	}
	if _, err := NewChallengeID(string(long)); !errors.Is(err, ErrInvalidChallengeID) {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}
