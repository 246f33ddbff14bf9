package models

import (
	"time"

	"github.com/google/uuid"
)

// Entity is a printed QR card. The QR payload carries ID; Label is the short
// code printed under it for manual entry.
type Entity struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Label      string     `gorm:"column:label;not null;uniqueIndex:entities_label_key"`
	CustomerID *uuid.UUID `gorm:"column:customer_id;type:uuid"`
	Customer   *Customer  `gorm:"foreignKey:CustomerID"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Entity) TableName() string { return "entities" }

// HasOwner reports whether the card is already bound to a customer.
func (e Entity) HasOwner() bool {
	return e.CustomerID != nil && *e.CustomerID != uuid.Nil
}
