package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/localstore"
	"github.com/MarcoPoloResearchLab/twogether/internal/milestones"
)

// ErrNoRelationshipStart indicates milestones were requested before a start date was set.
var ErrNoRelationshipStart = errors.New("companion: relationship start date not set")

// Relationship summarizes the couple's timeline.
type Relationship struct {
	PartnerName  string
	Start        time.Time
	DaysTogether int
	Months       int
	Upcoming     []milestones.Milestone
}

// Settings returns the stored device profile.
func (s *Service) Settings(ctx context.Context) (localstore.Settings, error) {
	settings, _, err := s.store.GetSettings(ctx)
	if err != nil {
		return localstore.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// RecordSession stores who uses this device and which partnership it syncs with.
func (s *Service) RecordSession(ctx context.Context, userID, partnershipID string) error {
	settings, err := s.Settings(ctx)
	if err != nil {
		return err
	}
	joined := partnershipID != "" && settings.PartnershipID != partnershipID
	settings.UserID = strings.TrimSpace(userID)
	settings.PartnershipID = strings.TrimSpace(partnershipID)
	if err := s.store.PutSettings(ctx, settings); err != nil {
		return fmt.Errorf("store settings: %w", err)
	}
	if joined {
		s.recordHistory(ctx, KindPartnershipJoined, partnershipID, "")
	}
	return nil
}

// SetRelationshipStart parses an ISO or natural-language date and stores it with the partner name.
func (s *Service) SetRelationshipStart(ctx context.Context, rawDate, partnerName string) (time.Time, error) {
	start, err := milestones.ParseStartDate(rawDate, s.clock())
	if err != nil {
		return time.Time{}, err
	}
	settings, err := s.Settings(ctx)
	if err != nil {
		return time.Time{}, err
	}
	settings.RelationshipStart = &start
	if trimmed := strings.TrimSpace(partnerName); trimmed != "" {
		settings.PartnerName = trimmed
	}
	if err := s.store.PutSettings(ctx, settings); err != nil {
		return time.Time{}, fmt.Errorf("store settings: %w", err)
	}
	s.recordHistory(ctx, KindRelationshipStart, start.Format(time.DateOnly), settings.PartnerName)
	return start, nil
}

// Relationship computes day counters and upcoming milestones as of now.
func (s *Service) Relationship(ctx context.Context) (Relationship, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return Relationship{}, err
	}
	if settings.RelationshipStart == nil {
		return Relationship{}, ErrNoRelationshipStart
	}
	now := s.clock()
	start := *settings.RelationshipStart
	return Relationship{
		PartnerName:  settings.PartnerName,
		Start:        start,
		DaysTogether: milestones.DaysTogether(start, now),
		Months:       milestones.MonthsTogether(start, now),
		Upcoming:     milestones.Upcoming(start, now),
	}, nil
}
