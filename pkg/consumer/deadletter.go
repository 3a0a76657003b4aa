package consumer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeadLetter is a delivery the runtime gave up on: either the payload was
// malformed or the handler exhausted its retry budget.
type DeadLetter struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Queue      string    `gorm:"column:queue;index;not null"`
	RoutingKey string    `gorm:"column:routing_key"`
	Body       []byte    `gorm:"column:body"`
	Reason     string    `gorm:"column:reason"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
}

// TableName returns the GORM table name.
func (DeadLetter) TableName() string { return "dead_letters" }

// DeadLetterSink records undeliverable messages. Satisfied by
// *DeadLetterStore; the runtime tolerates a nil sink.
type DeadLetterSink interface {
	Record(queue, routingKey string, body []byte, reason string) error
}

// DeadLetterStore is the gorm-backed sink.
type DeadLetterStore struct {
	db *gorm.DB
}

// NewDeadLetterStore creates a DeadLetterStore.
func NewDeadLetterStore(db *gorm.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

// AutoMigrate creates or updates the dead_letters table.
func (s *DeadLetterStore) AutoMigrate() error {
	return s.db.AutoMigrate(&DeadLetter{})
}

// Record appends a dead letter.
func (s *DeadLetterStore) Record(queue, routingKey string, body []byte, reason string) error {
	dl := &DeadLetter{
		ID:         uuid.New().String(),
		Queue:      queue,
		RoutingKey: routingKey,
		Body:       body,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	if err := s.db.Create(dl).Error; err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}
	return nil
}

// List returns the most recent dead letters for a queue, newest first.
func (s *DeadLetterStore) List(queue string, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []DeadLetter
	q := s.db.Order("created_at DESC").Limit(limit)
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return out, nil
}
