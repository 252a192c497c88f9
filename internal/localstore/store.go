// Package localstore is the per-device persistent store: settings, the pet document, the challenge
// collection, an activity history, metadata, and the persisted outbound sync queue.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/challenges"
	"github.com/MarcoPoloResearchLab/twogether/internal/database"
	"github.com/MarcoPoloResearchLab/twogether/internal/pet"
	"github.com/gofrs/flock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	schemaName                     = "device"
	migrationBackfillCompletedFlag = "2026-09-01_backfill_challenge_completed_flag"
)

var (
	// ErrLocked indicates another process holds the device store.
	ErrLocked = errors.New("localstore: store is locked by another process")
	// ErrQueueItemNotFound indicates an update to a queue item that no longer exists.
	ErrQueueItemNotFound = errors.New("localstore: queue item not found")
	errMissingPath       = errors.New("localstore: path is required")
)

// Config configures Open.
type Config struct {
	Path   string
	Clock  func() time.Time
	Logger *zap.Logger
}

// Store implements the device collections on top of gorm.
type Store struct {
	db     *gorm.DB
	lock   *flock.Flock
	clock  func() time.Time
	logger *zap.Logger
}

// Open opens (creating if needed) the device database. File-backed stores hold an exclusive lock on
// <path>.lock for their lifetime.
func Open(cfg Config) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errMissingPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	var lock *flock.Flock
	if !isMemoryPath(path) {
		lock = flock.New(path + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("localstore: acquire lock: %w", err)
		}
		if !locked {
			return nil, ErrLocked
		}
	}

	db, err := database.OpenSQLite(path, Schema(), logger)
	if err != nil {
		if lock != nil {
			err = multierr.Append(err, lock.Unlock())
		}
		return nil, err
	}
	return &Store{db: db, lock: lock, clock: clock, logger: logger}, nil
}

// Schema describes the device database.
func Schema() database.Schema {
	return database.Schema{
		Name:   schemaName,
		Models: Models(),
		Migrations: []database.Migration{
			{Name: migrationBackfillCompletedFlag, Apply: backfillCompletedFlag},
		},
	}
}

func backfillCompletedFlag(tx *gorm.DB) error {
	return tx.Model(&challengeRecord{}).
		Where("completed_at IS NOT NULL AND completed = ?", false).
		Update("completed", true).Error
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Close releases the database and the file lock.
func (s *Store) Close() error {
	err := database.Close(s.db)
	if s.lock != nil {
		err = multierr.Append(err, s.lock.Unlock())
	}
	return err
}

// GetChallenge loads a challenge by id.
func (s *Store) GetChallenge(ctx context.Context, id challenges.ChallengeID) (challenges.Challenge, bool, error) {
	var record challengeRecord
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return challenges.Challenge{}, false, nil
	}
	if err != nil {
		return challenges.Challenge{}, false, storeError("get_challenge", err)
	}
	return record.toChallenge(), true, nil
}

// PutChallenge inserts or replaces a challenge.
func (s *Store) PutChallenge(ctx context.Context, challenge challenges.Challenge) error {
	record := challengeToRecord(challenge)
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return storeError("put_challenge", err)
	}
	return nil
}

// DeleteChallenge removes a challenge; deleting a missing id is not an error.
func (s *Store) DeleteChallenge(ctx context.Context, id challenges.ChallengeID) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&challengeRecord{}).Error; err != nil {
		return storeError("delete_challenge", err)
	}
	return nil
}

// ListChallenges returns every challenge ordered by creation time.
func (s *Store) ListChallenges(ctx context.Context) ([]challenges.Challenge, error) {
	return s.listChallenges(ctx, "list_challenges", nil)
}

// ListChallengesByCategory scans the category index.
func (s *Store) ListChallengesByCategory(ctx context.Context, category challenges.Category) ([]challenges.Challenge, error) {
	return s.listChallenges(ctx, "list_challenges_by_category", map[string]any{"category": string(category)})
}

// ListChallengesByCompletion scans the completion index.
func (s *Store) ListChallengesByCompletion(ctx context.Context, completed bool) ([]challenges.Challenge, error) {
	return s.listChallenges(ctx, "list_challenges_by_completion", map[string]any{"completed": completed})
}

func (s *Store) listChallenges(ctx context.Context, operation string, conditions map[string]any) ([]challenges.Challenge, error) {
	query := s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC")
	if len(conditions) > 0 {
		query = query.Where(conditions)
	}
	var records []challengeRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, storeError(operation, err)
	}
	result := make([]challenges.Challenge, 0, len(records))
	for _, record := range records {
		result = append(result, record.toChallenge())
	}
	return result, nil
}

// GetPet loads the pet document.
func (s *Store) GetPet(ctx context.Context) (pet.State, bool, error) {
	var record petRecord
	err := s.db.WithContext(ctx).Where("id = ?", singletonKey).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pet.State{}, false, nil
	}
	if err != nil {
		return pet.State{}, false, storeError("get_pet", err)
	}
	return record.State, true, nil
}

// PutPet replaces the pet document.
func (s *Store) PutPet(ctx context.Context, state pet.State) error {
	record := petRecord{Key: singletonKey, State: state, UpdatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return storeError("put_pet", err)
	}
	return nil
}

// GetSettings loads the device settings.
func (s *Store) GetSettings(ctx context.Context) (Settings, bool, error) {
	var record settingsRecord
	err := s.db.WithContext(ctx).Where("id = ?", singletonKey).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, storeError("get_settings", err)
	}
	return record.Settings, true, nil
}

// PutSettings replaces the device settings.
func (s *Store) PutSettings(ctx context.Context, settings Settings) error {
	record := settingsRecord{Key: singletonKey, Settings: settings, UpdatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return storeError("put_settings", err)
	}
	return nil
}

// AppendHistory adds an entry to the activity log.
func (s *Store) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clock()
	}
	record := historyRecord{
		Kind:       entry.Kind,
		Subject:    entry.Subject,
		Detail:     entry.Detail,
		OccurredAt: occurredAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return storeError("append_history", err)
	}
	return nil
}

// ListHistory returns the most recent entries, newest first. A non-positive limit returns all entries.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []historyRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, storeError("list_history", err)
	}
	entries := make([]HistoryEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, HistoryEntry{
			ID:         record.ID,
			Kind:       record.Kind,
			Subject:    record.Subject,
			Detail:     record.Detail,
			OccurredAt: record.OccurredAt.UTC(),
		})
	}
	return entries, nil
}

// GetMetadata reads a metadata value.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var record metadataRecord
	err := s.db.WithContext(ctx).Where("meta_key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeError("get_metadata", err)
	}
	return record.Value, true, nil
}

// SetMetadata writes a metadata value.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	record := metadataRecord{Key: key, Value: value}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return storeError("set_metadata", err)
	}
	return nil
}

// AppendQueueItem adds an item at the tail of the sync queue.
func (s *Store) AppendQueueItem(ctx context.Context, item QueueItem) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		position, err := nextPosition(tx)
		if err != nil {
			return err
		}
		record := queueRecord{
			ID:         item.ID,
			Position:   position,
			Type:       item.Type,
			Action:     item.Action,
			Data:       string(item.Data),
			Timestamp:  item.Timestamp.UTC(),
			RetryCount: item.RetryCount,
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return storeError("append_queue_item", err)
	}
	return nil
}

// ListQueue returns the queue head first.
func (s *Store) ListQueue(ctx context.Context) ([]QueueItem, error) {
	var records []queueRecord
	if err := s.db.WithContext(ctx).Order("position ASC").Find(&records).Error; err != nil {
		return nil, storeError("list_queue", err)
	}
	items := make([]QueueItem, 0, len(records))
	for _, record := range records {
		items = append(items, record.toItem())
	}
	return items, nil
}

// QueueLength counts pending queue items.
func (s *Store) QueueLength(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&queueRecord{}).Count(&count).Error; err != nil {
		return 0, storeError("queue_length", err)
	}
	return int(count), nil
}

// RemoveQueueItem deletes an item; removing a missing id is not an error.
func (s *Store) RemoveQueueItem(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&queueRecord{}).Error; err != nil {
		return storeError("remove_queue_item", err)
	}
	return nil
}

// MoveQueueItemToTail persists the item's retry count and moves it behind every other item.
func (s *Store) MoveQueueItemToTail(ctx context.Context, item QueueItem) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		position, err := nextPosition(tx)
		if err != nil {
			return err
		}
		result := tx.Model(&queueRecord{}).
			Where("id = ?", item.ID).
			Updates(map[string]any{"position": position, "retry_count": item.RetryCount})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrQueueItemNotFound
		}
		return nil
	})
	if err != nil {
		return storeError("move_queue_item_to_tail", err)
	}
	return nil
}

func nextPosition(tx *gorm.DB) (int64, error) {
	var maxPosition int64
	if err := tx.Model(&queueRecord{}).
		Select("COALESCE(MAX(position), 0)").
		Scan(&maxPosition).Error; err != nil {
		return 0, err
	}
	return maxPosition + 1, nil
}

func storeError(operation string, err error) error {
	return fmt.Errorf("localstore.%s: %w", operation, err)
}
