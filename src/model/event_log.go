package model

import "time"

// EventLog is the persisted form of an event emitted to the reporting sink.
type EventLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	Kind       string            `gorm:"size:50;not null;index" json:"kind"`
	PositionID string            `gorm:"size:64;index" json:"position_id,omitempty"`
	Symbol     string            `gorm:"size:50;index" json:"symbol,omitempty"`
	Message    string            `gorm:"size:1024" json:"message"`
	Metadata   map[string]string `gorm:"serializer:json" json:"metadata,omitempty"`
	OccurredAt time.Time         `gorm:"index" json:"occurred_at"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (EventLog) TableName() string {
	return "event_logs"
}
