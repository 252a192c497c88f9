package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/companion"
	"github.com/MarcoPoloResearchLab/twogether/internal/milestones"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const defaultHistoryLimit = 20

func newMilestonesCommand() *cobra.Command {
	var (
		start   string
		partner string
	)
	cmd := &cobra.Command{
		Use:   "milestones",
		Short: "Show days together and upcoming celebrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), func(ctx context.Context, device *deviceSession) error {
				if strings.TrimSpace(start) != "" {
					if _, err := device.app.SetRelationshipStart(ctx, start, partner); err != nil {
						return err
					}
				}
				relationship, err := device.app.Relationship(ctx)
				if err != nil {
					return err
				}
				writeRelationship(cmd.OutOrStdout(), relationship)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Set the relationship start date (ISO or natural language, e.g. \"last june 3\")")
	cmd.Flags().StringVar(&partner, "partner", "", "Partner name shown with the counters")
	return cmd
}

func writeRelationship(out io.Writer, relationship companion.Relationship) {
	together := "Together"
	if relationship.PartnerName != "" {
		together = "Together with " + relationship.PartnerName
	}
	fmt.Fprintf(out, "%s since %s: %s days, %d months\n",
		together, relationship.Start.Format("January 2, 2006"),
		humanize.Comma(int64(relationship.DaysTogether)), relationship.Months)
	for _, milestone := range relationship.Upcoming {
		fmt.Fprintf(out, "  %s on %s (%s)\n",
			milestoneLabel(milestone), milestone.Date.Format(time.DateOnly), inDays(milestone.InDays))
	}
}

func milestoneLabel(milestone milestones.Milestone) string {
	switch milestone.Kind {
	case milestones.KindMonthiversary:
		return humanize.Ordinal(milestone.Count) + " monthiversary"
	case milestones.KindAnniversary:
		return humanize.Ordinal(milestone.Count) + " anniversary"
	default:
		return humanize.Comma(int64(milestone.Count)) + " days"
	}
}

func inDays(days int) string {
	switch days {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	default:
		return "in " + humanize.Comma(int64(days)) + " days"
	}
}

func newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent activity on this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), func(ctx context.Context, device *deviceSession) error {
				entries, err := device.app.History(ctx, limit)
				if err != nil {
					return err
				}
				for _, entry := range entries {
					line := strings.ReplaceAll(entry.Kind, "_", " ")
					if entry.Detail != "" {
						line += ": " + entry.Detail
					} else if entry.Subject != "" {
						line += ": " + entry.Subject
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", humanize.Time(entry.OccurredAt), line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultHistoryLimit, "Number of entries to show")
	return cmd
}
