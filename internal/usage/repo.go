package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/db/models"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
)

// Repository is the persistence surface of the usage meter. Methods that
// participate in atomic recording accept the transaction through WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	GetMinuteLimit(ctx context.Context, tenantID uuid.UUID) (*models.MinuteLimit, error)
	SaveMinuteLimit(ctx context.Context, limit *models.MinuteLimit) error
	UpdateOveragePolicy(ctx context.Context, tenantID uuid.UUID, policy enums.OveragePolicy) error

	// GetPeriodForUpdate locks the tenant's period row for the duration of
	// the surrounding transaction, creating it on first use.
	GetPeriodForUpdate(ctx context.Context, tenantID uuid.UUID, periodStart, periodEnd time.Time) (*models.UsagePeriod, error)
	GetPeriod(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) (*models.UsagePeriod, error)
	SavePeriod(ctx context.Context, period *models.UsagePeriod) error
	InsertTransaction(ctx context.Context, txn *models.UsageTransaction) error

	// ListPendingOverage returns unbilled overage periods that closed on
	// or before asOf. Open periods are excluded so a mid-period run
	// cannot bill partial overage and strand the remainder behind the
	// billed_at guard.
	ListPendingOverage(ctx context.Context, asOf time.Time, limit int) ([]models.UsagePeriod, error)
	MarkOverageBilled(ctx context.Context, tenantID uuid.UUID, periodStart time.Time, invoiceItemID string, billedAt time.Time) (bool, error)
	AttachBillingReference(ctx context.Context, periodID uuid.UUID, reference string) (int64, error)
	UnblockPolicyBlocked(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds the GORM-backed usage repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) GetMinuteLimit(ctx context.Context, tenantID uuid.UUID) (*models.MinuteLimit, error) {
	var limit models.MinuteLimit
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&limit).Error
	if err != nil {
		return nil, err
	}
	return &limit, nil
}

func (r *repository) SaveMinuteLimit(ctx context.Context, limit *models.MinuteLimit) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			UpdateAll: true,
		}).
		Create(limit).Error
}

func (r *repository) UpdateOveragePolicy(ctx context.Context, tenantID uuid.UUID, policy enums.OveragePolicy) error {
	result := r.db.WithContext(ctx).
		Model(&models.MinuteLimit{}).
		Where("tenant_id = ?", tenantID).
		Update("overage_policy", policy)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) GetPeriodForUpdate(ctx context.Context, tenantID uuid.UUID, periodStart, periodEnd time.Time) (*models.UsagePeriod, error) {
	// Insert-if-absent first so the locking SELECT always has a row to
	// grab. Concurrent creators collide on the tenant+period unique index
	// and both proceed to lock the surviving row.
	seed := models.UsagePeriod{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		IncludedMinutesUsed: decimalZero,
		OverageMinutesUsed:  decimalZero,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() != "sqlite" {
		// sqlite serializes writers globally and rejects FOR UPDATE.
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var period models.UsagePeriod
	err = query.
		Where("tenant_id = ? AND period_start = ?", tenantID, periodStart).
		First(&period).Error
	if err != nil {
		return nil, err
	}
	return &period, nil
}

func (r *repository) GetPeriod(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) (*models.UsagePeriod, error) {
	var period models.UsagePeriod
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND period_start = ?", tenantID, periodStart).
		First(&period).Error
	if err != nil {
		return nil, err
	}
	return &period, nil
}

func (r *repository) SavePeriod(ctx context.Context, period *models.UsagePeriod) error {
	return r.db.WithContext(ctx).Save(period).Error
}

func (r *repository) InsertTransaction(ctx context.Context, txn *models.UsageTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListPendingOverage(ctx context.Context, asOf time.Time, limit int) ([]models.UsagePeriod, error) {
	var periods []models.UsagePeriod
	query := r.db.WithContext(ctx).
		Where("(overage_charge_centavos > 0 OR overage_minutes_used > 0) AND billed_at IS NULL AND period_end <= ?", asOf).
		Order("period_start ASC, tenant_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&periods).Error; err != nil {
		return nil, err
	}
	return periods, nil
}

// MarkOverageBilled sets billed_at at most once. The billed_at IS NULL
// guard makes retries and concurrent reconcilers safe; a false return
// means some other run already billed the period.
func (r *repository) MarkOverageBilled(ctx context.Context, tenantID uuid.UUID, periodStart time.Time, invoiceItemID string, billedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UsagePeriod{}).
		Where("tenant_id = ? AND period_start = ? AND billed_at IS NULL", tenantID, periodStart).
		Updates(map[string]any{
			"billed_at":       billedAt,
			"invoice_item_id": invoiceItemID,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AttachBillingReference stamps the ledger rows of a billed period.
// Rows that already carry a reference are left untouched.
func (r *repository) AttachBillingReference(ctx context.Context, periodID uuid.UUID, reference string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UsageTransaction{}).
		Where("period_id = ? AND billing_reference IS NULL", periodID).
		Update("billing_reference", reference)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// UnblockPolicyBlocked clears blocks that exist only because the tenant
// ran under the block policy. Infra and cap blocks stay in place.
func (r *repository) UnblockPolicyBlocked(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UsagePeriod{}).
		Where("tenant_id = ? AND is_blocked = ? AND block_reason IN ?",
			tenantID, true, []enums.BlockReason{enums.BlockReasonLimitReached, enums.BlockReasonPolicyBlock}).
		Updates(map[string]any{
			"is_blocked":   false,
			"block_reason": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// IsNotFound reports whether err is the repository's missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
