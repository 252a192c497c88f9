package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newPetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pet",
		Short: "Look after the shared pet",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the pet",
			RunE: petAction(func(ctx context.Context, device *deviceSession, _ []string) (pet.State, error) {
				return device.app.Pet(), nil
			}),
		},
		&cobra.Command{
			Use:   "feed",
			Short: "Feed the pet",
			RunE: petAction(func(ctx context.Context, device *deviceSession, _ []string) (pet.State, error) {
				return device.app.FeedPet(ctx)
			}),
		},
		&cobra.Command{
			Use:   "play",
			Short: "Play with the pet",
			RunE: petAction(func(ctx context.Context, device *deviceSession, _ []string) (pet.State, error) {
				return device.app.PlayWithPet(ctx)
			}),
		},
		&cobra.Command{
			Use:   "clean",
			Short: "Give the pet a bath",
			RunE: petAction(func(ctx context.Context, device *deviceSession, _ []string) (pet.State, error) {
				return device.app.CleanPet(ctx)
			}),
		},
		&cobra.Command{
			Use:   "rest",
			Short: "Let the pet sleep",
			RunE: petAction(func(ctx context.Context, device *deviceSession, _ []string) (pet.State, error) {
				return device.app.RestPet(ctx)
			}),
		},
		&cobra.Command{
			Use:   "rename NAME",
			Short: "Rename the pet",
			Args:  cobra.ExactArgs(1),
			RunE: petAction(func(ctx context.Context, device *deviceSession, args []string) (pet.State, error) {
				return device.app.RenamePet(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "buy ITEM",
			Short: "Buy a catalog item with coins",
			Args:  cobra.ExactArgs(1),
			RunE: petAction(func(ctx context.Context, device *deviceSession, args []string) (pet.State, error) {
				return device.app.BuyItem(ctx, strings.TrimSpace(args[0]))
			}),
		},
		&cobra.Command{
			Use:   "equip ITEM",
			Short: "Wear an owned item",
			Args:  cobra.ExactArgs(1),
			RunE: petAction(func(ctx context.Context, device *deviceSession, args []string) (pet.State, error) {
				return device.app.EquipItem(ctx, strings.TrimSpace(args[0]))
			}),
		},
		&cobra.Command{
			Use:   "unequip SLOT",
			Short: "Take off whatever is worn in a slot (accessory, background, outfit)",
			Args:  cobra.ExactArgs(1),
			RunE: petAction(func(ctx context.Context, device *deviceSession, args []string) (pet.State, error) {
				slot, err := parseSlot(args[0])
				if err != nil {
					return pet.State{}, err
				}
				return device.app.UnequipSlot(ctx, slot)
			}),
		},
	)
	return cmd
}

func petAction(action func(ctx context.Context, device *deviceSession, args []string) (pet.State, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd.Context(), func(ctx context.Context, device *deviceSession) error {
			state, err := action(ctx, device, args)
			if err != nil {
				return err
			}
			writePet(cmd.OutOrStdout(), state)
			return nil
		})
	}
}

func parseSlot(raw string) (pet.Slot, error) {
	switch slot := pet.Slot(strings.ToLower(strings.TrimSpace(raw))); slot {
	case pet.SlotAccessory, pet.SlotBackground, pet.SlotOutfit:
		return slot, nil
	default:
		return "", fmt.Errorf("unknown slot %q", raw)
	}
}

func writePet(out io.Writer, state pet.State) {
	fmt.Fprintf(out, "%s is %s, level %d (%.0f%% to next)\n", state.Name, state.Mood, state.Level, state.Progress()*100)
	fmt.Fprintf(out, "hunger %d  energy %d  hygiene %d  coins %s\n", state.Hunger, state.Energy, state.Hygiene, humanize.Comma(int64(state.Coins)))
	if len(state.Inventory) > 0 {
		fmt.Fprintf(out, "owns %s\n", strings.Join(state.Inventory, ", "))
	}
	worn := make([]string, 0, 3)
	for _, item := range []string{state.Equipped.AccessoryID, state.Equipped.BackgroundID, state.Equipped.OutfitID} {
		if item != "" {
			worn = append(worn, item)
		}
	}
	if len(worn) > 0 {
		fmt.Fprintf(out, "wearing %s\n", strings.Join(worn, ", "))
	}
}
