// Package eventstore persists decoded contract events and per-listener
// block checkpoints with gorm.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xueqianLu/ethcontract/pkg/events"
	"github.com/xueqianLu/ethcontract/pkg/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Event is one stored log. (TxHash, LogIndex) identifies it, so storing the
// same log twice is a no-op.
type Event struct {
	ID          uint            `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	Contract    string          `json:"contract" gorm:"column:contract;size:64;index:idx_contract_event"`
	Event       string          `json:"event" gorm:"column:event;size:64;index:idx_contract_event"`
	Address     string          `json:"address" gorm:"column:address;size:42"`
	BlockNumber uint64          `json:"blockNumber" gorm:"column:block_number;index"`
	TxHash      string          `json:"transactionHash" gorm:"column:tx_hash;size:66;uniqueIndex:idx_tx_log"`
	LogIndex    uint            `json:"logIndex" gorm:"column:log_index;uniqueIndex:idx_tx_log"`
	Args        json.RawMessage `json:"args" gorm:"column:args;type:text;serializer:json"`
	CreatedAt   time.Time       `json:"createdAt" gorm:"column:created_at"`
}

func (Event) TableName() string {
	return "contract_events"
}

// Checkpoint is the next block a listener has to read for one event.
type Checkpoint struct {
	Contract  string    `gorm:"column:contract;size:64;primaryKey"`
	Event     string    `gorm:"column:event;size:255;primaryKey"`
	NextBlock uint64    `gorm:"column:next_block"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Checkpoint) TableName() string {
	return "event_checkpoints"
}

type Store struct {
	db *gorm.DB
}

// Open connects with driver "sqlite" or "mysql" and migrates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported event store driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log.L(ctx), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s event store: %w", driver, err)
	}
	if driver == "sqlite" {
		// sqlite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.WithContext(ctx).AutoMigrate(&Event{}, &Checkpoint{}); err != nil {
		return nil, fmt.Errorf("migrate event store: %w", err)
	}
	log.L(ctx).Infof("Event store ready (%s)", driver)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save stores records emitted by contract, skipping ones already stored,
// and returns how many were new.
func (s *Store) Save(ctx context.Context, contract string, records []*events.Record) (int64, error) {
	rows := make([]*Event, 0, len(records))
	for _, rec := range records {
		if rec.Log == nil {
			continue
		}
		args, err := json.Marshal(rec.Args())
		if err != nil {
			return 0, err
		}
		rows = append(rows, &Event{
			Contract:    contract,
			Event:       rec.Event,
			Address:     rec.Log.Address.Hex(),
			BlockNumber: uint64(rec.Log.BlockNumber),
			TxHash:      rec.Log.TransactionHash.Hex(),
			LogIndex:    uint(rec.Log.LogIndex),
			Args:        args,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("store %d %s events: %w", len(rows), contract, res.Error)
	}
	return res.RowsAffected, nil
}

type Query struct {
	Contract string
	Event    string // empty matches all events
	Limit    int
}

// Find returns the newest matching events first.
func (s *Store) Find(ctx context.Context, q Query) ([]*Event, error) {
	tx := s.db.WithContext(ctx).Where("contract = ?", q.Contract)
	if q.Event != "" {
		tx = tx.Where("event = ?", q.Event)
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []*Event
	err := tx.Order("block_number desc").Order("log_index desc").Limit(limit).Find(&out).Error
	return out, err
}

// LoadCheckpoint returns the stored next block, or false if none.
func (s *Store) LoadCheckpoint(ctx context.Context, contract, event string) (uint64, bool, error) {
	var cp Checkpoint
	res := s.db.WithContext(ctx).Where("contract = ? AND event = ?", contract, event).Limit(1).Find(&cp)
	if res.Error != nil {
		return 0, false, res.Error
	}
	return cp.NextBlock, res.RowsAffected > 0, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, contract, event string, next uint64) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract"}, {Name: "event"}},
		DoUpdates: clause.AssignmentColumns([]string{"next_block", "updated_at"}),
	}).Create(&Checkpoint{Contract: contract, Event: event, NextBlock: next}).Error
}
