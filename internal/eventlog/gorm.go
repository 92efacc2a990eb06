package eventlog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"oikos/concierge/pkg/types"
)

// EventRecord is the persisted row form of an event. The unique index on
// (run_id, sequence) is what turns a concurrent append race into an
// ErrConflict instead of a duplicate sequence.
type EventRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	RunID         string    `gorm:"column:run_id;size:64;uniqueIndex:uk_run_sequence;index:idx_run"`
	Sequence      int64     `gorm:"column:sequence;uniqueIndex:uk_run_sequence"`
	EventType     string    `gorm:"column:event_type;size:64"`
	Payload       string    `gorm:"column:payload;type:text"`
	CorrelationID string    `gorm:"column:correlation_id;size:64"`
	Timestamp     time.Time `gorm:"column:timestamp"`
}

// TableName 指定表名
func (EventRecord) TableName() string {
	return "t_run_event"
}

// GormStore persists the event log through gorm (mysql or postgres).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a Store backed by db and migrates the event table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// AppendAt inserts ev at expectedSeq; a unique-index violation means another
// appender claimed the sequence first and surfaces as ErrConflict.
func (s *GormStore) AppendAt(ctx context.Context, ev *types.Event, expectedSeq int64) error {
	payload, err := sonic.MarshalString(ev.Payload)
	if err != nil {
		return err
	}

	rec := &EventRecord{
		RunID:         ev.RunID,
		Sequence:      expectedSeq,
		EventType:     string(ev.Type),
		Payload:       payload,
		CorrelationID: ev.CorrelationID,
		Timestamp:     ev.Timestamp,
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// ReadFrom returns events with sequence > afterSeq in order.
func (s *GormStore) ReadFrom(ctx context.Context, runID string, afterSeq int64) ([]*types.Event, error) {
	var records []EventRecord
	err := s.db.WithContext(ctx).
		Where("run_id = ? AND sequence > ?", runID, afterSeq).
		Order("sequence ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	events := make([]*types.Event, 0, len(records))
	for i := range records {
		ev, err := recordToEvent(&records[i])
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Runs returns every run id with at least one event.
func (s *GormStore) Runs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&EventRecord{}).
		Distinct("run_id").
		Pluck("run_id", &ids).Error
	return ids, err
}

// Tail returns the run's highest sequence.
func (s *GormStore) Tail(ctx context.Context, runID string) (int64, error) {
	var tail int64
	err := s.db.WithContext(ctx).
		Model(&EventRecord{}).
		Where("run_id = ?", runID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&tail).Error
	return tail, err
}

func recordToEvent(rec *EventRecord) (*types.Event, error) {
	ev := &types.Event{
		RunID:         rec.RunID,
		Sequence:      rec.Sequence,
		Type:          types.EventType(rec.EventType),
		CorrelationID: rec.CorrelationID,
		Timestamp:     rec.Timestamp,
	}
	if rec.Payload != "" && rec.Payload != "null" {
		if err := sonic.UnmarshalString(rec.Payload, &ev.Payload); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Driver-specific duplicate key messages (mysql 1062, postgres 23505).
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "23505")
}
