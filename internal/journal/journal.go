// Package journal records metadata about payloads published through the
// relay. Payload bodies are never stored.
package journal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Topic     string    `gorm:"size:200;not null;index" json:"topic"`
	Type      string    `gorm:"size:32" json:"type"`
	ClientID  string    `gorm:"size:64" json:"client_id"`
	QoS       int       `gorm:"not null;default:0" json:"qos"`
	Size      int       `gorm:"not null" json:"size"`
	Fanout    int       `gorm:"not null" json:"fanout"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Entry) TableName() string { return "relay_publishes" }

type Journal interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Nop is used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close() error                        { return nil }

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

var _ Journal = (*Store)(nil)

func Open(dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	log.Info("journal connected")
	return &Store{db: db, log: log.Named("journal")}, nil
}

func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return fmt.Errorf("record publish on %s: %w", e.Topic, err)
	}
	return nil
}

// Recent returns the newest entries for topic, newest first.
func (s *Store) Recent(ctx context.Context, topic string, limit int) ([]Entry, error) {
	var out []Entry
	err := s.db.WithContext(ctx).
		Where("topic = ?", topic).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("recent publishes on %s: %w", topic, err)
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
