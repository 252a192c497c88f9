package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/localstore"
	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"go.uber.org/zap"
)

// Queue item types.
const (
	TypeChallenge = "challenge"
	TypePet       = "pet"
)

// Queue item actions.
const (
	ActionAdd    = "add"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

const petEntityKey = "pet"

var errInvalidItem = errors.New("syncer: invalid queue item")

// DrainStats summarizes one ProcessQueue call.
type DrainStats struct {
	Skipped   bool
	Succeeded int
	Retried   int
	Deferred  int
	Dropped   int
	Remaining int
}

// QueueSync records an outbound mutation. It is a no-op without an active partnership and never
// reports failures to the caller; when online it drains immediately.
func (m *Manager) QueueSync(ctx context.Context, itemType, action string, data any) {
	_, partnershipID := m.session()
	if partnershipID == "" {
		m.logger.Debug("sync skipped without partnership",
			zap.String("operation", opQueueSync),
			zap.String("type", itemType),
			zap.String("action", action))
		return
	}
	if err := m.enqueue(ctx, itemType, action, data); err != nil {
		m.logError(opQueueSync, "enqueue_failed", err, zap.String("type", itemType), zap.String("action", action))
		return
	}
	if m.Online() {
		m.ProcessQueue(ctx)
	}
}

func (m *Manager) enqueue(ctx context.Context, itemType, action string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	id, err := m.newID()
	if err != nil {
		return fmt.Errorf("issue item id: %w", err)
	}
	return m.local.AppendQueueItem(ctx, localstore.QueueItem{
		ID:        id,
		Type:      itemType,
		Action:    action,
		Data:      payload,
		Timestamp: m.clock().UTC(),
	})
}

// ProcessQueue drains the persisted queue against the remote backend. Concurrent calls return
// immediately while a drain is running. Each item is attempted at most once per call; a failed
// item moves to the tail and is dropped once it has failed MaxAttempts times.
func (m *Manager) ProcessQueue(ctx context.Context) DrainStats {
	if !m.draining.CompareAndSwap(false, true) {
		return DrainStats{Skipped: true}
	}
	defer m.draining.Store(false)

	var stats DrainStats
	_, partnershipID := m.session()
	if partnershipID == "" {
		return stats
	}

	userID, err := m.remote.CurrentUser(ctx)
	if err != nil {
		m.logError(opDrain, "current_user_failed", err)
		stats.Remaining = m.queueLength(ctx)
		return stats
	}

	attempted := make(map[string]struct{})
	blocked := make(map[string]struct{})
	halted := false
	for !halted && ctx.Err() == nil {
		items, err := m.local.ListQueue(ctx)
		if err != nil {
			m.logError(opDrain, "queue_list_failed", err)
			break
		}
		pending := make([]localstore.QueueItem, 0, len(items))
		for _, item := range items {
			if _, seen := attempted[item.ID]; !seen {
				pending = append(pending, item)
			}
		}
		if len(pending) == 0 {
			break
		}
		for _, item := range pending {
			if ctx.Err() != nil {
				break
			}
			attempted[item.ID] = struct{}{}
			key := entityKey(item)
			if _, isBlocked := blocked[key]; isBlocked {
				m.deferItem(ctx, item)
				stats.Deferred++
				continue
			}
			if stop := m.drainItem(ctx, partnershipID, userID, item, &stats, blocked); stop {
				halted = true
				break
			}
		}
	}

	stats.Remaining = m.queueLength(ctx)
	return stats
}

// drainItem applies one item and records the outcome. It reports whether the pass must stop.
func (m *Manager) drainItem(ctx context.Context, partnershipID, userID string, item localstore.QueueItem, stats *DrainStats, blocked map[string]struct{}) bool {
	fields := itemFields(item)
	applyErr := m.apply(ctx, partnershipID, userID, item)
	switch {
	case applyErr == nil:
		if err := m.local.RemoveQueueItem(ctx, item.ID); err != nil {
			m.logError(opDrain, "queue_remove_failed", err, fields...)
			return true
		}
		stats.Succeeded++
		return false
	case errors.Is(applyErr, errInvalidItem):
		m.logger.Warn("dropping undeliverable queue item", append(fields, zap.Error(applyErr))...)
		if err := m.local.RemoveQueueItem(ctx, item.ID); err != nil {
			m.logError(opDrain, "queue_remove_failed", err, fields...)
			return true
		}
		stats.Dropped++
		return false
	case errors.Is(applyErr, remote.ErrUnauthorized):
		m.logError(opDrain, "unauthorized", applyErr, fields...)
		return true
	}

	item.RetryCount++
	if item.RetryCount >= m.maxAttempts {
		m.logger.Warn("dropping queue item after retry ceiling",
			append(itemFields(item), zap.Int("max_attempts", m.maxAttempts), zap.Error(applyErr))...)
		if err := m.local.RemoveQueueItem(ctx, item.ID); err != nil {
			m.logError(opDrain, "queue_remove_failed", err, fields...)
			return true
		}
		stats.Dropped++
		return false
	}

	m.logger.Info("queue item failed, retrying later", append(itemFields(item), zap.Error(applyErr))...)
	if err := m.local.MoveQueueItemToTail(ctx, item); err != nil {
		m.logError(opDrain, "queue_move_failed", err, fields...)
		return true
	}
	stats.Retried++
	blocked[entityKey(item)] = struct{}{}
	return m.haltOnFailure
}

// deferItem keeps later items for a failed entity behind it.
func (m *Manager) deferItem(ctx context.Context, item localstore.QueueItem) {
	if err := m.local.MoveQueueItemToTail(ctx, item); err != nil {
		m.logError(opDrain, "queue_move_failed", err, itemFields(item)...)
	}
}

func (m *Manager) apply(ctx context.Context, partnershipID, userID string, item localstore.QueueItem) error {
	switch item.Type {
	case TypeChallenge:
		var challenge challenges.Challenge
		if err := json.Unmarshal(item.Data, &challenge); err != nil {
			return fmt.Errorf("%w: %v", errInvalidItem, err)
		}
		if _, err := challenges.NewChallengeID(challenge.ID.String()); err != nil {
			return fmt.Errorf("%w: %v", errInvalidItem, err)
		}
		switch item.Action {
		case ActionAdd, ActionUpdate:
			return m.remote.Upsert(ctx, remote.TableChallenges, challengeToRow(challenge, partnershipID, userID))
		case ActionDelete:
			return m.remote.Delete(ctx, remote.TableChallenges, remote.Eq("id", challenge.ID.String()))
		}
	case TypePet:
		if item.Action != ActionAdd && item.Action != ActionUpdate {
			break
		}
		var state pet.State
		if err := json.Unmarshal(item.Data, &state); err != nil {
			return fmt.Errorf("%w: %v", errInvalidItem, err)
		}
		return m.remote.Upsert(ctx, remote.TablePets, petToRow(state, partnershipID))
	}
	return fmt.Errorf("%w: unsupported %s/%s", errInvalidItem, item.Type, item.Action)
}

// entityKey groups queue items that must reach the backend in order.
func entityKey(item localstore.QueueItem) string {
	if item.Type == TypeChallenge {
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item.Data, &ref); err == nil && strings.TrimSpace(ref.ID) != "" {
			return TypeChallenge + ":" + strings.TrimSpace(ref.ID)
		}
		return TypeChallenge + ":" + item.ID
	}
	if item.Type == TypePet {
		return petEntityKey
	}
	return item.Type + ":" + item.ID
}

func (m *Manager) queueLength(ctx context.Context) int {
	length, err := m.local.QueueLength(ctx)
	if err != nil {
		m.logError(opDrain, "queue_length_failed", err)
		return 0
	}
	return length
}

func itemFields(item localstore.QueueItem) []zap.Field {
	return []zap.Field{
		zap.String("operation", opDrain),
		zap.String("item_id", item.ID),
		zap.String("type", item.Type),
		zap.String("action", item.Action),
		zap.Int("retry_count", item.RetryCount),
	}
}
