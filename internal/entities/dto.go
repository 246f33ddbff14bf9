package entities

import "github.com/angelmondragon/posflow/pkg/db/models"

// EntityDTO is the wire shape returned by the lookup endpoints.
type EntityDTO struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	CustomerID string `json:"customer_id,omitempty"`
}

func FromModel(m *models.Entity) *EntityDTO {
	if m == nil {
		return nil
	}
	dto := &EntityDTO{ID: m.ID.String(), Label: m.Label}
	if m.HasOwner() {
		dto.CustomerID = m.CustomerID.String()
	}
	return dto
}
