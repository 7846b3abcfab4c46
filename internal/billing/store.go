package billing

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/db/models"
)

// TenantStore resolves tenants for invoicing.
type TenantStore interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

type tenantStore struct {
	db *gorm.DB
}

func NewTenantStore(db *gorm.DB) TenantStore {
	return &tenantStore{db: db}
}

func (s *tenantStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&tenant).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}
