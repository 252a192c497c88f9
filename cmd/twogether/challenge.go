package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newChallengeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Manage the shared challenge list",
	}
	cmd.AddCommand(newChallengeAddCommand(), newChallengeCompleteCommand(), newChallengeDeleteCommand(), newChallengeListCommand())
	return cmd
}

func newChallengeAddCommand() *cobra.Command {
	var (
		description string
		category    string
		tags        []string
		minutes     int
		costUSD     float64
	)
	cmd := &cobra.Command{
		Use:   "add TITLE",
		Short: "Add a challenge for both partners",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), func(ctx context.Context, device *deviceSession) error {
				input := challenges.NewChallengeConfig{
					Title:       args[0],
					Description: description,
					Category:    category,
					Tags:        tags,
				}
				if minutes > 0 || costUSD > 0 {
					input.Estimate = &challenges.Estimate{Minutes: minutes, CostUSD: costUSD}
				}
				challenge, err := device.app.AddChallenge(ctx, input)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", challenge.Title, challenge.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Longer description")
	cmd.Flags().StringVar(&category, "category", string(challenges.CategoryCustom), "Category (at-home, outdoors, creative, budget-friendly, custom)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "Estimated duration in minutes")
	cmd.Flags().Float64Var(&costUSD, "cost", 0, "Estimated cost in USD")
	return cmd
}

func newChallengeCompleteCommand() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "complete ID",
		Short: "Mark a challenge done and reward the pet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := challenges.NewChallengeID(args[0])
			if err != nil {
				return err
			}
			return withDevice(cmd.Context(), func(ctx context.Context, device *deviceSession) error {
				challenge, rewarded, err := device.app.CompleteChallenge(ctx, id, notes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "completed %s: %s earned %d xp and %d coins (level %d)\n",
					challenge.Title, rewarded.Name, challenges.XPReward, challenges.CoinReward, rewarded.Level)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Notes about how it went")
	return cmd
}

func newChallengeDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a challenge for both partners",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := challenges.NewChallengeID(args[0])
			if err != nil {
				return err
			}
			return withDevice(cmd.Context(), func(ctx context.Context, device *deviceSession) error {
				if err := device.app.DeleteChallenge(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				return nil
			})
		},
	}
}

func newChallengeListCommand() *cobra.Command {
	var (
		category string
		status   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List challenges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDevice(cmd.Context(), func(ctx context.Context, device *deviceSession) error {
				listed, err := listChallenges(ctx, device, category, status)
				if err != nil {
					return err
				}
				return writeChallenges(cmd.OutOrStdout(), listed)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Only this category")
	cmd.Flags().StringVar(&status, "status", "", "Only todo or done challenges")
	return cmd
}

func listChallenges(ctx context.Context, device *deviceSession, category, status string) ([]challenges.Challenge, error) {
	switch {
	case strings.TrimSpace(category) != "":
		parsed, err := challenges.ParseCategory(category)
		if err != nil {
			return nil, err
		}
		listed, err := device.store.ListChallengesByCategory(ctx, parsed)
		if err != nil {
			return nil, err
		}
		return filterByStatus(listed, status)
	case strings.TrimSpace(status) != "":
		completed, err := parseStatus(status)
		if err != nil {
			return nil, err
		}
		return device.store.ListChallengesByCompletion(ctx, completed)
	default:
		return device.app.Challenges(), nil
	}
}

func parseStatus(status string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "done":
		return true, nil
	case "todo":
		return false, nil
	default:
		return false, fmt.Errorf("unknown status %q (want todo or done)", status)
	}
}

func filterByStatus(listed []challenges.Challenge, status string) ([]challenges.Challenge, error) {
	if strings.TrimSpace(status) == "" {
		return listed, nil
	}
	completed, err := parseStatus(status)
	if err != nil {
		return nil, err
	}
	filtered := make([]challenges.Challenge, 0, len(listed))
	for _, challenge := range listed {
		if challenge.Completed() == completed {
			filtered = append(filtered, challenge)
		}
	}
	return filtered, nil
}

func writeChallenges(out io.Writer, listed []challenges.Challenge) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTITLE\tCATEGORY\tSTATUS\tADDED")
	for _, challenge := range listed {
		status := "todo"
		if challenge.Completed() {
			status = "done " + humanize.Time(*challenge.CompletedAt)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			challenge.ID, challenge.Title, challenge.Category, status, humanize.Time(challenge.CreatedAt))
	}
	return writer.Flush()
}
