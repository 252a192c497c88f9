package syncer

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"go.uber.org/zap"
)

const partnershipStatusActive = "active"

// Initialize starts a sync session for the user. It looks up the user's active partnership and,
// when one exists, subscribes to its change feeds, pushes every local challenge, pulls remote
// challenges the device does not know yet, and pulls the shared pet. The boolean is false in solo
// mode. Remote failures are logged, never returned.
func (m *Manager) Initialize(ctx context.Context, userID string) (Partnership, bool) {
	userID = strings.TrimSpace(userID)
	if err := m.Cleanup(); err != nil {
		m.logError(opInitialize, "previous_session_cleanup_failed", err)
	}
	if userID == "" {
		m.logger.Warn("initialize without user id", zap.String("operation", opInitialize))
		return Partnership{}, false
	}

	partnership, found := m.findActivePartnership(ctx, userID)
	if !found {
		m.logger.Info("no active partnership, staying in solo mode",
			zap.String("operation", opInitialize),
			zap.String("user_id", userID))
		return Partnership{}, false
	}

	m.mu.Lock()
	m.userID = userID
	m.partnershipID = partnership.ID
	m.mu.Unlock()

	m.subscribe(ctx, partnership.ID)
	m.pushChallenges(ctx, partnership.ID, userID)
	m.pullChallenges(ctx, partnership.ID)
	m.pullPet(ctx, partnership.ID)

	m.logger.Info("sync session initialized",
		zap.String("operation", opInitialize),
		zap.String("user_id", userID),
		zap.String("partnership_id", partnership.ID))

	if m.Online() {
		m.ProcessQueue(ctx)
	}
	return partnership, true
}

func (m *Manager) findActivePartnership(ctx context.Context, userID string) (Partnership, bool) {
	for _, column := range []string{"user1_id", "user2_id"} {
		rows, err := m.remote.Select(ctx, remote.TablePartnerships, remote.Eq(column, userID))
		if err != nil {
			m.logError(opInitialize, "partnership_select_failed", err, zap.String("column", column))
			continue
		}
		for _, row := range rows {
			partnership := partnershipFromRow(row)
			if partnership.ID != "" && partnership.Status == partnershipStatusActive {
				return partnership, true
			}
		}
	}
	return Partnership{}, false
}

func partnershipFromRow(row remote.Row) Partnership {
	text := func(column string) string {
		value, _ := row[column].(string)
		return strings.TrimSpace(value)
	}
	return Partnership{
		ID:          text("id"),
		User1ID:     text("user1_id"),
		User2ID:     text("user2_id"),
		Status:      text("status"),
		Anniversary: text("anniversary"),
	}
}

func (m *Manager) subscribe(ctx context.Context, partnershipID string) {
	subscriptions := []struct {
		subscription remote.Subscription
		handler      remote.Handler
	}{
		{
			subscription: remote.Subscription{
				Channel: "challenges:" + partnershipID,
				Table:   remote.TableChallenges,
				Filter:  remote.Eq("partnership_id", partnershipID),
			},
			handler: m.handleChallengeEvent,
		},
		{
			subscription: remote.Subscription{
				Channel: "pets:" + partnershipID,
				Table:   remote.TablePets,
				Filter:  remote.Eq("partnership_id", partnershipID),
			},
			handler: m.handlePetEvent,
		},
	}
	for _, entry := range subscriptions {
		channel, err := m.remote.Subscribe(ctx, entry.subscription, entry.handler)
		if err != nil {
			m.logError(opInitialize, "subscribe_failed", err, zap.String("table", entry.subscription.Table))
			continue
		}
		m.mu.Lock()
		m.channels = append(m.channels, channel)
		m.mu.Unlock()
	}
}

// pushChallenges resends every local challenge. Failed pushes are queued for the retry engine.
func (m *Manager) pushChallenges(ctx context.Context, partnershipID, userID string) {
	local, err := m.local.ListChallenges(ctx)
	if err != nil {
		m.logError(opReconcile, "local_list_failed", err)
		return
	}
	pushed := 0
	for _, challenge := range local {
		err := m.remote.Upsert(ctx, remote.TableChallenges, challengeToRow(challenge, partnershipID, userID))
		if err == nil {
			pushed++
			continue
		}
		m.logError(opReconcile, "push_failed", err, zap.String("challenge_id", challenge.ID.String()))
		if enqueueErr := m.enqueue(ctx, TypeChallenge, ActionUpdate, challenge); enqueueErr != nil {
			m.logError(opReconcile, "enqueue_failed", enqueueErr, zap.String("challenge_id", challenge.ID.String()))
		}
	}
	m.logger.Debug("pushed local challenges",
		zap.String("operation", opReconcile),
		zap.Int("pushed", pushed),
		zap.Int("total", len(local)))
}

// pullChallenges inserts remote challenges missing locally; known ids keep their local version.
func (m *Manager) pullChallenges(ctx context.Context, partnershipID string) {
	rows, err := m.remote.Select(ctx, remote.TableChallenges, remote.Eq("partnership_id", partnershipID))
	if err != nil {
		m.logError(opReconcile, "remote_select_failed", err)
		return
	}
	inserted := 0
	for _, row := range rows {
		challenge, err := challengeFromRow(row)
		if err != nil {
			m.logError(opReconcile, "invalid_remote_row", err)
			continue
		}
		_, exists, err := m.local.GetChallenge(ctx, challenge.ID)
		if err != nil {
			m.logError(opReconcile, "local_get_failed", err, zap.String("challenge_id", challenge.ID.String()))
			continue
		}
		if exists {
			continue
		}
		if err := m.local.PutChallenge(ctx, challenge); err != nil {
			m.logError(opReconcile, "local_put_failed", err, zap.String("challenge_id", challenge.ID.String()))
			continue
		}
		inserted++
	}
	m.logger.Debug("pulled remote challenges",
		zap.String("operation", opReconcile),
		zap.Int("inserted", inserted),
		zap.Int("total", len(rows)))
}

// pullPet broadcasts the shared pet, or seeds the backend with the local pet when none exists yet.
func (m *Manager) pullPet(ctx context.Context, partnershipID string) {
	rows, err := m.remote.Select(ctx, remote.TablePets, remote.Eq("partnership_id", partnershipID))
	if err != nil {
		m.logError(opPetPull, "remote_select_failed", err)
		return
	}
	if len(rows) > 0 {
		change, err := petChangeFromRow(rows[0])
		if err != nil {
			m.logError(opPetPull, "invalid_remote_row", err)
			return
		}
		m.publishPet(change)
		return
	}

	local, found, err := m.local.GetPet(ctx)
	if err != nil {
		m.logError(opPetPull, "local_get_failed", err)
		return
	}
	if !found {
		return
	}
	if err := m.enqueue(ctx, TypePet, ActionUpdate, local); err != nil {
		m.logError(opPetPull, "enqueue_failed", err)
	}
}
