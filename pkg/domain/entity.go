package common

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity is embedded by every persisted aggregate in this module. It carries only
// identity and timestamps: this domain has no multi-tenant or audience-visibility
// concept, so the richer visibility/resource-owner fields of a generic entity base
// don't apply here.
type BaseEntity struct {
	ID        uuid.UUID `json:"id" bson:"_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

type Entity interface {
	GetID() uuid.UUID
}

func (b BaseEntity) GetID() uuid.UUID {
	return b.ID
}

func NewEntity() BaseEntity {
	now := time.Now().UTC()
	return BaseEntity{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (b *BaseEntity) Touch() {
	b.UpdatedAt = time.Now().UTC()
}
