package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type record interface {
	key() string
	partnership() string
	rowVersion() int64
	stamp(version int64, at time.Time)
	validate() error
}

// tableDefinition binds a hosted table name to its gorm model.
type tableDefinition struct {
	name string
	// scopeColumn is the column a change feed must filter on.
	scopeColumn string
	// memberScoped tables are visible to any member; others require an active partnership.
	memberScoped  bool
	filterColumns map[string]struct{}
	decode        func(remote.Row) (record, error)
	load          func(tx *gorm.DB, key string) (record, error)
	find          func(tx *gorm.DB, column, value string) ([]record, error)
	remove        func(tx *gorm.DB, key string) error
}

func (d tableDefinition) allowsFilter(column string) bool {
	_, ok := d.filterColumns[column]
	return ok
}

func columns(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func defaultTables() map[string]tableDefinition {
	return map[string]tableDefinition{
		remote.TableChallenges: {
			name:          remote.TableChallenges,
			scopeColumn:   "partnership_id",
			filterColumns: columns("id", "partnership_id", "created_by", "status", "category"),
			decode:        decodeRecord[ChallengeRecord],
			load:          loadRecord[ChallengeRecord]("id"),
			find:          findRecords[ChallengeRecord],
			remove:        removeRecord[ChallengeRecord]("id"),
		},
		remote.TablePets: {
			name:          remote.TablePets,
			scopeColumn:   "partnership_id",
			filterColumns: columns("partnership_id"),
			decode:        decodeRecord[PetRecord],
			load:          loadRecord[PetRecord]("partnership_id"),
			find:          findRecords[PetRecord],
			remove:        removeRecord[PetRecord]("partnership_id"),
		},
		remote.TablePartnerships: {
			name:          remote.TablePartnerships,
			scopeColumn:   "id",
			memberScoped:  true,
			filterColumns: columns("id", "user1_id", "user2_id", "status"),
			decode:        decodeRecord[PartnershipRecord],
			load:          loadRecord[PartnershipRecord]("id"),
			find:          findRecords[PartnershipRecord],
			remove:        removeRecord[PartnershipRecord]("id"),
		},
	}
}

// Models lists the gorm models backing the hosted tables.
func Models() []any {
	return []any{&ChallengeRecord{}, &PetRecord{}, &PartnershipRecord{}, &RowChange{}}
}

func decodeRecord[R any](row remote.Row) (record, error) {
	encoded, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	decoded := new(R)
	if err := json.Unmarshal(encoded, decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	rec, ok := any(decoded).(record)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported model %T", ErrInvalidRow, decoded)
	}
	return rec, nil
}

func loadRecord[R any](keyColumn string) func(tx *gorm.DB, key string) (record, error) {
	return func(tx *gorm.DB, key string) (record, error) {
		stored := new(R)
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(keyColumn+" = ?", key).
			Take(stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return any(stored).(record), nil
	}
}

func findRecords[R any](tx *gorm.DB, column, value string) ([]record, error) {
	var rows []R
	if err := tx.Where(column+" = ?", value).Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]record, 0, len(rows))
	for index := range rows {
		records = append(records, any(&rows[index]).(record))
	}
	return records, nil
}

func removeRecord[R any](keyColumn string) func(tx *gorm.DB, key string) error {
	return func(tx *gorm.DB, key string) error {
		return tx.Where(keyColumn+" = ?", key).Delete(new(R)).Error
	}
}

// encodeRow renders a stored record in its wire shape.
func encodeRow(rec record) (remote.Row, error) {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var row remote.Row
	if err := json.Unmarshal(encoded, &row); err != nil {
		return nil, err
	}
	return row, nil
}
