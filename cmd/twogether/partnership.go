package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/config"
	"github.com/MarcoPoloResearchLab/twogether/internal/milestones"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	partnershipPending  = "pending"
	partnershipActive   = "active"
	partnershipDeclined = "declined"
)

var (
	errMissingUser        = errors.New("--user is required")
	errMissingPartner     = errors.New("--partner is required")
	errPartnershipMissing = errors.New("partnership not found")
	errNotInvitee         = errors.New("only the invited partner can answer an invitation")
)

func newTokenCommand() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a user (development tooling)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" {
				return errMissingUser
			}
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			if err := appConfig.ValidateBackend(); err != nil {
				return err
			}
			issuer, err := newTokenIssuer(appConfig.SigningSecret, appConfig.TokenTTL)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueAccessToken(cmd.Context(), strings.TrimSpace(userID))
			if err != nil {
				return err
			}
			logger.Debug("access token issued", zap.String("user_id", userID), zap.Int64("expires_in", expiresIn))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id carried as the token subject")
	return cmd
}

func newRemoteClient(appConfig config.AppConfig, logger *zap.Logger) (*remote.HTTPBackend, error) {
	return remote.NewHTTPBackend(remote.HTTPConfig{
		BaseURL:     appConfig.RemoteURL,
		AccessToken: appConfig.AccessToken,
		Logger:      logger,
	})
}

func newPartnershipCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partnership",
		Short: "Invite a partner or answer an invitation",
	}

	var partnerID, anniversary string
	create := &cobra.Command{
		Use:   "create",
		Short: "Invite a partner; the partnership stays pending until they accept",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(partnerID) == "" {
				return errMissingPartner
			}
			return withRemote(cmd.Context(), func(ctx context.Context, client remote.Backend, userID string) error {
				id, err := uuid.NewV7()
				if err != nil {
					return err
				}
				row := remote.Row{
					"id":          id.String(),
					"user1_id":    userID,
					"user2_id":    strings.TrimSpace(partnerID),
					"status":      partnershipPending,
					"anniversary": nil,
				}
				if strings.TrimSpace(anniversary) != "" {
					start, err := milestones.ParseStartDate(anniversary, time.Now())
					if err != nil {
						return err
					}
					row["anniversary"] = start.Format(time.DateOnly)
				}
				if err := client.Upsert(ctx, remote.TablePartnerships, row); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "partnership %s invited %s\n", row["id"], row["user2_id"])
				return nil
			})
		},
	}
	create.Flags().StringVar(&partnerID, "partner", "", "User id of the invited partner")
	create.Flags().StringVar(&anniversary, "anniversary", "", "Relationship start date (ISO or natural language)")

	cmd.AddCommand(create, newAnswerCommand("accept", partnershipActive), newAnswerCommand("decline", partnershipDeclined))
	return cmd
}

func newAnswerCommand(use, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " PARTNERSHIP_ID",
		Short: "Set a pending invitation to " + status,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partnershipID := strings.TrimSpace(args[0])
			return withRemote(cmd.Context(), func(ctx context.Context, client remote.Backend, userID string) error {
				rows, err := client.Select(ctx, remote.TablePartnerships, remote.Eq("id", partnershipID))
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					return fmt.Errorf("%w: %s", errPartnershipMissing, partnershipID)
				}
				row := rows[0]
				if invitee, _ := row["user2_id"].(string); invitee != userID {
					return errNotInvitee
				}
				row["status"] = status
				if err := client.Upsert(ctx, remote.TablePartnerships, row); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "partnership %s is now %s\n", partnershipID, status)
				return nil
			})
		},
	}
}

// withRemote runs fn against the hosted backend as the configured user.
func withRemote(ctx context.Context, fn func(ctx context.Context, client remote.Backend, userID string) error) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if err := appConfig.ValidateRemote(); err != nil {
		return err
	}
	client, err := newRemoteClient(appConfig, logger)
	if err != nil {
		return err
	}
	userID, err := client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, client, userID)
}
