package store

import (
	"context"
	"fmt"
	"time"

	"table-bulkwriter/internal/bulkwriter/writer"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultDBBatchSize = 1000

// BulkRecord is the row layout of the SQL store: the record key and its JSON
// payload. The table must have a unique index on record_key.
type BulkRecord struct {
	RecordKey string         `gorm:"column:record_key;primaryKey"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

// DBStore upserts a batch in one statement. The statement is all or
// nothing, so it never reports unprocessed records.
type DBStore[T any] struct {
	db        *gorm.DB
	tl        *zap.Logger
	table     string
	key       writer.KeyFunc[T]
	batchSize int
}

func NewDBStore[T any](db *gorm.DB, tl *zap.Logger, table string, key writer.KeyFunc[T], batchSize int) *DBStore[T] {
	if batchSize <= 0 {
		batchSize = DefaultDBBatchSize
	}
	return &DBStore[T]{db: db, tl: tl, table: table, key: key, batchSize: batchSize}
}

func (s *DBStore[T]) MaxBatchSize() int {
	return s.batchSize
}

func (s *DBStore[T]) BatchWrite(ctx context.Context, batch []T) ([]T, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	rows, err := s.rows(batch)
	if err != nil {
		return nil, err
	}

	newCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// 按 record_key 冲突时覆盖, postgres 与 mysql 由 gorm 生成各自的语法
	err = s.db.WithContext(newCtx).Table(s.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("upsert into %s: %w", s.table, err)
	}
	return nil, nil
}

func (s *DBStore[T]) rows(batch []T) ([]BulkRecord, error) {
	now := time.Now().UTC()
	rows := make([]BulkRecord, 0, len(batch))
	for _, item := range batch {
		data, err := sonic.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", s.key(item), err)
		}
		rows = append(rows, BulkRecord{
			RecordKey: s.key(item),
			Payload:   datatypes.JSON(data),
			UpdatedAt: now,
		})
	}
	return rows, nil
}

func (s *DBStore[T]) Close() error {
	return nil
}
