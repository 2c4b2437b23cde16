// Package mysqlkv implements the kv contract on MySQL. All records live in
// one table keyed (pk, sk); predicates compile to conditional INSERT/UPDATE
// statements and Commit runs the whole batch inside a single transaction.
package mysqlkv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finledger/ledgercore/internal/kv"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const duplicateEntry = 1062

type record struct {
	PK        string    `gorm:"column:pk;primaryKey;type:varchar(191)"`
	SK        string    `gorm:"column:sk;primaryKey;type:varchar(191)"`
	Version   int64     `gorm:"column:version;not null;default:0"`
	Status    string    `gorm:"column:status;type:varchar(20)"`
	Attrs     string    `gorm:"column:attrs;type:json"`
	CreatedAt time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP"`
}

func (record) TableName() string { return "records" }

// Migrate provisions the records table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&record{})
}

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

func (s *Store) Read(ctx context.Context, key kv.Key) (kv.Record, error) {
	var row record
	err := s.db.WithContext(ctx).
		Where("pk = ? AND sk = ?", key.PK, key.SK).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return kv.Record{}, kv.ErrNotFound
		}
		return kv.Record{}, fmt.Errorf("read %s: %w", key, err)
	}
	return toRecord(row)
}

func (s *Store) Put(ctx context.Context, rec kv.Record, pred kv.Predicate) error {
	return s.apply(s.db.WithContext(ctx), kv.Write{Record: rec, Predicate: pred}, 0)
}

func (s *Store) Commit(ctx context.Context, writes []kv.Write) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, w := range writes {
			if err := s.apply(tx, w, i); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) apply(tx *gorm.DB, w kv.Write, index int) error {
	if w.Delete {
		return s.applyDelete(tx, w, index)
	}

	row, err := toRow(w.Record)
	if err != nil {
		return err
	}

	switch w.Predicate.Kind {
	case kv.PredicateNone:
		if err := s.update(tx, row, nil); err == nil {
			return nil
		} else if !errors.Is(err, kv.ErrConditionFailed) {
			return err
		}
		return s.insert(tx, row, index)

	case kv.PredicateAbsent:
		return s.insert(tx, row, index)

	case kv.PredicateVersionIs:
		err := s.update(tx, row, map[string]any{"version": w.Predicate.Version})
		return conditionAt(err, index, w.Record.Key)

	case kv.PredicateAbsentOrVersionIs:
		err := s.update(tx, row, map[string]any{"version": w.Predicate.Version})
		if err == nil {
			return nil
		}
		if !errors.Is(err, kv.ErrConditionFailed) {
			return err
		}
		// No row carries the expected version; the predicate can still hold
		// via the absent branch.
		return s.insert(tx, row, index)

	case kv.PredicateStatusIs:
		err := s.update(tx, row, map[string]any{"status": w.Predicate.Status})
		return conditionAt(err, index, w.Record.Key)
	}

	return fmt.Errorf("unknown predicate kind %d", w.Predicate.Kind)
}

func (s *Store) applyDelete(tx *gorm.DB, w kv.Write, index int) error {
	q := tx.Where("pk = ? AND sk = ?", w.Record.Key.PK, w.Record.Key.SK)
	switch w.Predicate.Kind {
	case kv.PredicateNone:
		return q.Delete(&record{}).Error
	case kv.PredicateVersionIs:
		q = q.Where("version = ?", w.Predicate.Version)
	case kv.PredicateStatusIs:
		q = q.Where("status = ?", w.Predicate.Status)
	default:
		return fmt.Errorf("unsupported delete predicate kind %d", w.Predicate.Kind)
	}

	res := q.Delete(&record{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &kv.ConditionError{Index: index, Key: w.Record.Key}
	}
	return nil
}

func (s *Store) insert(tx *gorm.DB, row record, index int) error {
	err := tx.Create(&row).Error
	if err == nil {
		return nil
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntry {
		return &kv.ConditionError{Index: index, Key: kv.Key{PK: row.PK, SK: row.SK}}
	}
	return err
}

// update rewrites the full record where the extra conditions match. A zero
// row count maps to a plain ErrConditionFailed for the caller to refine.
func (s *Store) update(tx *gorm.DB, row record, conds map[string]any) error {
	q := tx.Model(&record{}).Where("pk = ? AND sk = ?", row.PK, row.SK)
	for col, val := range conds {
		q = q.Where(col+" = ?", val)
	}

	res := q.Updates(map[string]any{
		"version": row.Version,
		"status":  row.Status,
		"attrs":   row.Attrs,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return kv.ErrConditionFailed
	}
	return nil
}

func conditionAt(err error, index int, key kv.Key) error {
	if errors.Is(err, kv.ErrConditionFailed) {
		return &kv.ConditionError{Index: index, Key: key}
	}
	return err
}

func toRow(rec kv.Record) (record, error) {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return record{}, fmt.Errorf("marshal attributes for %s: %w", rec.Key, err)
	}
	return record{
		PK:      rec.Key.PK,
		SK:      rec.Key.SK,
		Version: rec.Version,
		Status:  rec.Status,
		Attrs:   string(attrs),
	}, nil
}

func toRecord(row record) (kv.Record, error) {
	attrs := make(map[string]string)
	if row.Attrs != "" {
		if err := json.Unmarshal([]byte(row.Attrs), &attrs); err != nil {
			return kv.Record{}, fmt.Errorf("unmarshal attributes for %s/%s: %w", row.PK, row.SK, err)
		}
	}
	return kv.Record{
		Key:        kv.Key{PK: row.PK, SK: row.SK},
		Version:    row.Version,
		Status:     row.Status,
		Attributes: attrs,
	}, nil
}
