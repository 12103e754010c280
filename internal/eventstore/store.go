// Package eventstore persists the activity log and aggregate stats in a
// local sqlite database.
package eventstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

type Event struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	PaneID      string `gorm:"column:pane_id;not null;default:''"`
	SessionID   string `gorm:"column:session_id;not null;default:''"`
	EventType   string `gorm:"column:event_type;not null"`
	PayloadJSON string `gorm:"column:payload_json;not null;default:''"`
	CreatedAt   int64  `gorm:"column:created_at;not null;default:0"`
}

func (Event) TableName() string { return "events" }

type Stat struct {
	EntityType string `gorm:"column:entity_type;primaryKey"`
	EntityID   string `gorm:"column:entity_id;primaryKey"`
	StatPath   string `gorm:"column:stat_path;primaryKey"`
	Value      int64  `gorm:"column:value;not null;default:0"`
	UpdatedAt  int64  `gorm:"column:updated_at;not null;default:0"`
}

func (Stat) TableName() string { return "stats" }

// OpenSQLite opens (creating directories as needed) and migrates the
// database. sqlite with a single writer connection is enough for a
// single-host service; WAL keeps readers from blocking it.
func OpenSQLite(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	if err := SyncSchema(gdb); err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return gdb, nil
}

// SyncSchema creates/updates tables and indexes from models.
func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := db.AutoMigrate(&Event{}, &Stat{}); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_events_pane_created_at ON events(pane_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db}, nil
}

func (s *Store) RecordEvent(paneID, sessionID, eventType string, payload map[string]any) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	var payloadJSON string
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		payloadJSON = string(data)
	}
	row := Event{
		PaneID:      paneID,
		SessionID:   sessionID,
		EventType:   eventType,
		PayloadJSON: payloadJSON,
		CreatedAt:   time.Now().UTC().Unix(),
	}
	return s.db.Create(&row).Error
}

// IncrStat bumps one counter, creating the row on first touch.
func (s *Store) IncrStat(entityType, entityID, statPath string, delta int64) error {
	if entityType == "" || statPath == "" {
		return errors.New("entity type and stat path are required")
	}
	now := time.Now().UTC().Unix()
	row := Stat{
		EntityType: entityType,
		EntityID:   entityID,
		StatPath:   statPath,
		Value:      delta,
		UpdatedAt:  now,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}, {Name: "stat_path"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      gorm.Expr("stats.value + ?", delta),
			"updated_at": now,
		}),
	}).Create(&row).Error
}

func (s *Store) StatValue(entityType, entityID, statPath string) (int64, error) {
	var row Stat
	err := s.db.Where("entity_type = ? AND entity_id = ? AND stat_path = ?",
		entityType, entityID, statPath).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Value, nil
}

// StatsFor returns every stat path recorded for one entity.
func (s *Store) StatsFor(entityType, entityID string) (map[string]int64, error) {
	var rows []Stat
	if err := s.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.StatPath] = row.Value
	}
	return out, nil
}

// RecentEvents lists the newest events, optionally filtered to one pane.
func (s *Store) RecentEvents(paneID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.Order("created_at DESC, id DESC").Limit(limit)
	if paneID != "" {
		q = q.Where("pane_id = ?", paneID)
	}
	var rows []Event
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteEventsBefore removes events older than the cutoff and reports how
// many rows went away.
func (s *Store) DeleteEventsBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff.UTC().Unix()).Delete(&Event{})
	return res.RowsAffected, res.Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
