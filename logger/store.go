package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// RequestRecord is the metadata kept for one bridged request. Message
// content is never stored.
type RequestRecord struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Timestamp    time.Time `json:"timestamp" gorm:"index:idx_timestamp;not null"`
	RequestID    string    `json:"request_id" gorm:"index:idx_request_id;size:64;not null"`
	Protocol     string    `json:"protocol" gorm:"index:idx_protocol;size:16;not null"`
	ClientModel  string    `json:"client_model" gorm:"size:100;default:''"`
	BackendModel string    `json:"backend_model" gorm:"size:100;default:''"`
	Stream       bool      `json:"stream" gorm:"default:false"`
	StatusCode   int       `json:"status_code" gorm:"index:idx_status_code;default:0"`
	DurationMs   int64     `json:"duration_ms" gorm:"default:0"`
	StopReason   string    `json:"stop_reason,omitempty" gorm:"size:32;default:''"`
	Error        string    `json:"error,omitempty" gorm:"type:text;default:''"`

	DroppedInvocations int `json:"dropped_invocations" gorm:"default:0"`
	OrphanedResults    int `json:"orphaned_results" gorm:"default:0"`
	StrayResults       int `json:"stray_results" gorm:"default:0"`
	DroppedTurns       int `json:"dropped_turns" gorm:"default:0"`

	CreatedAt time.Time `json:"-" gorm:"autoCreateTime"`
}

// TableName keeps the table name stable across struct renames
func (RequestRecord) TableName() string {
	return "request_logs"
}

// RequestStore persists request records
type RequestStore interface {
	Save(ctx context.Context, record *RequestRecord) error
	Recent(ctx context.Context, limit int) ([]RequestRecord, error)
	Close() error
}

// GORMStore is a RequestStore backed by sqlite through gorm
type GORMStore struct {
	db *gorm.DB
}

const maxSaveRetries = 3

// NewGORMStore opens (creating if needed) the sqlite database at dsn and
// migrates the schema. ":memory:" gives a private in-memory database.
func NewGORMStore(dsn string) (*GORMStore, error) {
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", err)
			}
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One writer avoids SQLITE_BUSY and keeps :memory: on a single connection
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&RequestRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &GORMStore{db: db}, nil
}

// Save inserts record, retrying briefly while the database is locked
func (g *GORMStore) Save(ctx context.Context, record *RequestRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	var err error
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		err = g.db.WithContext(ctx).Create(record).Error
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") && !strings.Contains(err.Error(), "SQLITE_BUSY") {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("failed to save request record: %w", err)
}

// Recent returns up to limit records, newest first
func (g *GORMStore) Recent(ctx context.Context, limit int) ([]RequestRecord, error) {
	var records []RequestRecord
	err := g.db.WithContext(ctx).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query request records: %w", err)
	}
	return records, nil
}

// Close closes the database
func (g *GORMStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NopStore discards records. It is used when the store is disabled.
type NopStore struct{}

func (NopStore) Save(context.Context, *RequestRecord) error { return nil }

func (NopStore) Recent(context.Context, int) ([]RequestRecord, error) { return nil, nil }

func (NopStore) Close() error { return nil }
