package model

import "time"

// Exception represents a critical condition that must be persisted
// for auditing and alerting: invariant violations, exits that keep failing, halts.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "tradefunnel"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "router"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "Close"

	Message string `gorm:"type:text" json:"message"`

	// debug | info | warn | error | fatal
	Level string `gorm:"size:20;index" json:"level"`

	Context map[string]string `gorm:"serializer:json" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
