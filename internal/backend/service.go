// Package backend implements the hosted system of record: partnership-scoped challenge and pet tables,
// the partnership table itself, an append-only audit trail, and change events for subscribers.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingActor      = errors.New("actor is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "backend.service.new"
	opUpsert        = "backend.upsert"
	opDelete        = "backend.delete"
	opSelect        = "backend.select"
	opAuthorizeFeed = "backend.authorize_feed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Publisher receives committed change events. PublishLatest is used for tables whose events each
// carry the whole shared document, where a subscriber only needs the newest one.
type Publisher interface {
	Publish(topic string, event remote.Event) int
	PublishLatest(topic string, event remote.Event) int
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  Publisher
	Logger     *zap.Logger
}

// Service applies row writes with last-writer-wins semantics and membership authorization.
type Service struct {
	db           *gorm.DB
	clock        func() time.Time
	idProvider   IDProvider
	publisher    Publisher
	logger       *zap.Logger
	tables       map[string]tableDefinition
	partnerships sync.Map

	// writeMu spans commit and publish so subscribers see events in commit order.
	writeMu sync.Mutex
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		publisher:  cfg.Publisher,
		logger:     logger,
		tables:     defaultTables(),
	}, nil
}

// Topic names the change-feed topic for a table within a partnership.
func Topic(table, partnershipID string) string {
	return table + ":" + partnershipID
}

// Upsert stores the row in full, replacing any stored row with the same key.
func (s *Service) Upsert(ctx context.Context, actor, table string, row remote.Row) (remote.Event, error) {
	definition, err := s.resolveTable(opUpsert, actor, table)
	if err != nil {
		return remote.Event{}, err
	}
	incoming, err := definition.decode(row)
	if err != nil {
		return remote.Event{}, newServiceError(opUpsert, "invalid_row", err)
	}
	if err := incoming.validate(); err != nil {
		return remote.Event{}, newServiceError(opUpsert, "invalid_row", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var event remote.Event
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := definition.load(tx, incoming.key())
		if err != nil {
			s.logError(opUpsert, "row_select_failed", err, zap.String("table", table), zap.String("row_id", incoming.key()))
			return newServiceError(opUpsert, "row_select_failed", err)
		}
		if err := s.authorizeWrite(tx, definition, actor, existing, incoming); err != nil {
			return newServiceError(opUpsert, "forbidden", err)
		}

		appliedAt := s.clock().UTC()
		outcome, err := resolveWrite(table, existing, incoming, actor, appliedAt)
		if err != nil {
			s.logError(opUpsert, "resolve_write_failed", err, zap.String("table", table), zap.String("row_id", incoming.key()))
			return newServiceError(opUpsert, "resolve_write_failed", err)
		}

		if existing == nil {
			err = tx.Create(incoming).Error
		} else {
			err = tx.Save(incoming).Error
		}
		if err != nil {
			s.logError(opUpsert, "row_save_failed", err, zap.String("table", table), zap.String("row_id", incoming.key()))
			return newServiceError(opUpsert, "row_save_failed", err)
		}
		if err := s.recordAudit(tx, opUpsert, outcome.Audit); err != nil {
			return err
		}

		event, err = buildEvent(outcome.EventType, table, existing, incoming, appliedAt)
		if err != nil {
			return newServiceError(opUpsert, "event_encode_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return remote.Event{}, txErr
	}

	if table == remote.TablePartnerships {
		s.partnerships.Delete(incoming.key())
	}
	s.publish(table, incoming.partnership(), event)
	return event, nil
}

// Delete removes every visible row matching the filter. Rows the actor may not see are skipped.
func (s *Service) Delete(ctx context.Context, actor, table string, filter remote.Filter) ([]remote.Event, error) {
	definition, err := s.resolveTable(opDelete, actor, table)
	if err != nil {
		return nil, err
	}
	if err := s.validateFilter(definition, filter); err != nil {
		return nil, newServiceError(opDelete, "invalid_filter", err)
	}

	type deletion struct {
		scope string
		event remote.Event
	}
	var deletions []deletion

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		matches, err := definition.find(tx, filter.Column, filter.Value)
		if err != nil {
			s.logError(opDelete, "row_select_failed", err, zap.String("table", table))
			return newServiceError(opDelete, "row_select_failed", err)
		}
		for _, existing := range matches {
			if !s.canRead(tx, definition, actor, existing) {
				continue
			}
			appliedAt := s.clock().UTC()
			outcome, err := resolveWrite(table, existing, nil, actor, appliedAt)
			if err != nil {
				return newServiceError(opDelete, "resolve_write_failed", err)
			}
			if err := definition.remove(tx, existing.key()); err != nil {
				s.logError(opDelete, "row_delete_failed", err, zap.String("table", table), zap.String("row_id", existing.key()))
				return newServiceError(opDelete, "row_delete_failed", err)
			}
			if err := s.recordAudit(tx, opDelete, outcome.Audit); err != nil {
				return err
			}
			event, err := buildEvent(remote.EventDelete, table, existing, nil, appliedAt)
			if err != nil {
				return newServiceError(opDelete, "event_encode_failed", err)
			}
			deletions = append(deletions, deletion{scope: existing.partnership(), event: event})
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	events := make([]remote.Event, 0, len(deletions))
	for _, removed := range deletions {
		if table == remote.TablePartnerships {
			s.partnerships.Delete(removed.scope)
		}
		s.publish(table, removed.scope, removed.event)
		events = append(events, removed.event)
	}
	return events, nil
}

// Select returns the visible rows matching the filter.
func (s *Service) Select(ctx context.Context, actor, table string, filter remote.Filter) ([]remote.Row, error) {
	definition, err := s.resolveTable(opSelect, actor, table)
	if err != nil {
		return nil, err
	}
	if err := s.validateFilter(definition, filter); err != nil {
		return nil, newServiceError(opSelect, "invalid_filter", err)
	}

	db := s.db.WithContext(ctx)
	matches, err := definition.find(db, filter.Column, filter.Value)
	if err != nil {
		s.logError(opSelect, "query_failed", err, zap.String("table", table))
		return nil, newServiceError(opSelect, "query_failed", err)
	}
	rows := make([]remote.Row, 0, len(matches))
	for _, match := range matches {
		if !s.canRead(db, definition, actor, match) {
			continue
		}
		row, err := encodeRow(match)
		if err != nil {
			return nil, newServiceError(opSelect, "row_encode_failed", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AuthorizeFeed checks that the actor may follow the filtered table and returns the feed topic.
func (s *Service) AuthorizeFeed(ctx context.Context, actor, table string, filter remote.Filter) (string, error) {
	definition, err := s.resolveTable(opAuthorizeFeed, actor, table)
	if err != nil {
		return "", err
	}
	if err := filter.Validate(); err != nil {
		return "", newServiceError(opAuthorizeFeed, "invalid_filter", err)
	}
	if filter.Column != definition.scopeColumn {
		return "", newServiceError(opAuthorizeFeed, "invalid_filter",
			fmt.Errorf("%w: feeds filter on %s", remote.ErrInvalidFilter, definition.scopeColumn))
	}
	partnership, found, err := s.partnership(s.db.WithContext(ctx), filter.Value)
	if err != nil {
		return "", newServiceError(opAuthorizeFeed, "partnership_lookup_failed", err)
	}
	if !found || !s.permits(definition, partnership, actor) {
		return "", newServiceError(opAuthorizeFeed, "forbidden", remote.ErrForbidden)
	}
	return Topic(table, filter.Value), nil
}

func (s *Service) resolveTable(operation, actor, table string) (tableDefinition, error) {
	if strings.TrimSpace(actor) == "" {
		return tableDefinition{}, newServiceError(operation, "missing_actor", fmt.Errorf("%w: %v", remote.ErrUnauthorized, errMissingActor))
	}
	definition, ok := s.tables[table]
	if !ok {
		return tableDefinition{}, newServiceError(operation, "unknown_table", fmt.Errorf("%w: table %q", remote.ErrNotFound, table))
	}
	return definition, nil
}

func (s *Service) validateFilter(definition tableDefinition, filter remote.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	if !definition.allowsFilter(filter.Column) {
		return fmt.Errorf("%w: column %q is not filterable", remote.ErrInvalidFilter, filter.Column)
	}
	return nil
}

func (s *Service) authorizeWrite(tx *gorm.DB, definition tableDefinition, actor string, existing, incoming record) error {
	if existing != nil && existing.partnership() != incoming.partnership() {
		return fmt.Errorf("%w: row belongs to another partnership", remote.ErrForbidden)
	}
	if definition.memberScoped {
		proposed, ok := incoming.(*PartnershipRecord)
		if !ok || !proposed.IsMember(actor) {
			return fmt.Errorf("%w: actor is not a partner", remote.ErrForbidden)
		}
		if existing != nil {
			stored, ok := existing.(*PartnershipRecord)
			if !ok || !stored.IsMember(actor) {
				return fmt.Errorf("%w: actor is not a partner", remote.ErrForbidden)
			}
		}
		return nil
	}
	partnership, found, err := s.partnership(tx, incoming.partnership())
	if err != nil {
		return err
	}
	if !found || !partnership.IsActiveMember(actor) {
		return fmt.Errorf("%w: no active partnership %s for actor", remote.ErrForbidden, incoming.partnership())
	}
	return nil
}

func (s *Service) canRead(tx *gorm.DB, definition tableDefinition, actor string, rec record) bool {
	if definition.memberScoped {
		stored, ok := rec.(*PartnershipRecord)
		return ok && stored.IsMember(actor)
	}
	partnership, found, err := s.partnership(tx, rec.partnership())
	if err != nil || !found {
		return false
	}
	return partnership.IsActiveMember(actor)
}

func (s *Service) permits(definition tableDefinition, partnership PartnershipRecord, actor string) bool {
	if definition.memberScoped {
		return partnership.IsMember(actor)
	}
	return partnership.IsActiveMember(actor)
}

// partnership loads a partnership row, consulting the membership cache first.
func (s *Service) partnership(tx *gorm.DB, partnershipID string) (PartnershipRecord, bool, error) {
	if cached, ok := s.partnerships.Load(partnershipID); ok {
		if stored, ok := cached.(PartnershipRecord); ok {
			return stored, true, nil
		}
	}
	var stored PartnershipRecord
	err := tx.Where("id = ?", partnershipID).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PartnershipRecord{}, false, nil
	}
	if err != nil {
		return PartnershipRecord{}, false, err
	}
	s.partnerships.Store(partnershipID, stored)
	return stored, true, nil
}

func (s *Service) recordAudit(tx *gorm.DB, operation string, audit *RowChange) error {
	changeID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err, zap.String("row_id", audit.RowID))
		return newServiceError(operation, "id_generation_failed", err)
	}
	audit.ChangeID = changeID
	if err := tx.Create(audit).Error; err != nil {
		s.logError(operation, "audit_insert_failed", err, zap.String("row_id", audit.RowID))
		return newServiceError(operation, "audit_insert_failed", err)
	}
	return nil
}

func (s *Service) publish(table, partnershipID string, event remote.Event) {
	if s.publisher == nil {
		return
	}
	var delivered int
	if table == remote.TablePets {
		delivered = s.publisher.PublishLatest(Topic(table, partnershipID), event)
	} else {
		delivered = s.publisher.Publish(Topic(table, partnershipID), event)
	}
	s.loggerOrDefault().Debug("change event published",
		zap.String("table", table),
		zap.String("event_type", string(event.Type)),
		zap.Int("subscribers", delivered))
}

func buildEvent(eventType remote.EventType, table string, existing, incoming record, committedAt time.Time) (remote.Event, error) {
	event := remote.Event{Type: eventType, Table: table, CommitTimestamp: committedAt}
	if existing != nil {
		old, err := encodeRow(existing)
		if err != nil {
			return remote.Event{}, err
		}
		event.Old = old
	}
	if incoming != nil {
		updated, err := encodeRow(incoming)
		if err != nil {
			return remote.Event{}, err
		}
		event.New = updated
	}
	return event, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("backend service error", attrs...)
}
