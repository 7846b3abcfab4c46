package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a business (restaurant/clinic) with the voice agent add-on.
type Tenant struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name             string    `gorm:"column:name;not null"`
	Active           bool      `gorm:"column:active;not null;default:true"`
	StripeCustomerID *string   `gorm:"column:stripe_customer_id;uniqueIndex"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
