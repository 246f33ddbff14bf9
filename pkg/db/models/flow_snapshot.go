package models

import "time"

// FlowSnapshot is the terminal-local row holding one wizard's step completion
// and flow data as a single JSON payload.
type FlowSnapshot struct {
	Profile   string    `gorm:"column:profile;primaryKey"`
	Session   string    `gorm:"column:session;primaryKey"`
	Kind      string    `gorm:"column:kind;primaryKey"`
	Payload   string    `gorm:"column:payload;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (FlowSnapshot) TableName() string { return "flow_snapshots" }
