// Package store is the durable side of the server: versioned snapshot rows,
// an append-only event log for audit/replay, and the debounce scheduler that
// keeps writes off the hot path.
package store

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pitchparty/realtime-server/internal/room"
)

// Persister is what the scheduler and audit path need from durable storage.
type Persister interface {
	SaveSnapshot(ctx context.Context, snap room.Snapshot) error
	RecordEvent(ctx context.Context, roomCode, eventType string, version int, payload []byte) error
}

// SnapshotRow stores the full snapshot JSON keyed by (room_code, version).
type SnapshotRow struct {
	ID        uint   `gorm:"primaryKey"`
	RoomCode  string `gorm:"column:room_code;uniqueIndex:idx_room_version;size:6"`
	Version   int    `gorm:"uniqueIndex:idx_room_version"`
	Data      []byte `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (SnapshotRow) TableName() string { return "room_snapshots" }

// EventRow is the append-only audit log.
type EventRow struct {
	ID        uint   `gorm:"primaryKey"`
	RoomCode  string `gorm:"column:room_code;index;size:6"`
	EventType string `gorm:"column:event_type"`
	Version   int
	Payload   []byte `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (EventRow) TableName() string { return "room_events" }

type DB struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the two tables.
func Open(dsn string) (*DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SnapshotRow{}, &EventRow{}); err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

// SaveSnapshot upserts on (room_code, version) so a retried write of the same
// version is harmless.
func (d *DB) SaveSnapshot(ctx context.Context, snap room.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	row := SnapshotRow{RoomCode: snap.Code, Version: snap.Version, Data: data}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_code"}, {Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{"data"}),
	}).Create(&row).Error
}

func (d *DB) RecordEvent(ctx context.Context, roomCode, eventType string, version int, payload []byte) error {
	row := EventRow{RoomCode: roomCode, EventType: eventType, Version: version, Payload: payload}
	return d.db.WithContext(ctx).Create(&row).Error
}

// Nop is used when no DATABASE_URL is configured; the server then runs purely
// in memory.
type Nop struct{}

func (Nop) SaveSnapshot(context.Context, room.Snapshot) error { return nil }

func (Nop) RecordEvent(context.Context, string, string, int, []byte) error { return nil }
