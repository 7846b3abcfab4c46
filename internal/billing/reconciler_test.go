package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fernandofuc/tistis-platform-sub016/internal/usage"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/db/models"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

type fakeProvider struct {
	deletedCustomers map[string]bool
	customerErr      error
	createErr        error
	created          []createdItem
	nextID           int
}

type createdItem struct {
	customerID string
	amount     int64
	currency   string
	metadata   map[string]string
}

func (f *fakeProvider) CustomerDeleted(_ context.Context, customerID string) (bool, error) {
	if f.customerErr != nil {
		return false, f.customerErr
	}
	return f.deletedCustomers[customerID], nil
}

func (f *fakeProvider) CreateInvoiceItem(_ context.Context, customerID string, amount int64, currency, _ string, metadata map[string]string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, createdItem{
		customerID: customerID,
		amount:     amount,
		currency:   currency,
		metadata:   metadata,
	})
	f.nextID++
	return "ii_" + uuid.NewString()[:8], nil
}

type fixture struct {
	reconciler *Reconciler
	provider   *fakeProvider
	conn       *gorm.DB
	usageRepo  usage.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Tenant{},
		&models.MinuteLimit{},
		&models.UsagePeriod{},
		&models.UsageTransaction{},
	))
	t.Cleanup(func() {
		sqlDB, err := conn.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	provider := &fakeProvider{deletedCustomers: map[string]bool{}}
	usageRepo := usage.NewRepository(conn)
	reconciler, err := NewReconciler(ReconcilerParams{
		Usage:    usageRepo,
		Tenants:  NewTenantStore(conn),
		Provider: provider,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: nopWriter{}}),
		Currency: "mxn",
		Now: func() time.Time {
			return time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)
		},
	})
	require.NoError(t, err)
	return &fixture{reconciler: reconciler, provider: provider, conn: conn, usageRepo: usageRepo}
}

func (f *fixture) seedTenant(t *testing.T, customerID string) uuid.UUID {
	t.Helper()
	tenant := models.Tenant{ID: uuid.New(), Name: "Taquería La Central", Active: true}
	if customerID != "" {
		tenant.StripeCustomerID = &customerID
	}
	require.NoError(t, f.conn.Create(&tenant).Error)
	require.NoError(t, f.conn.Create(&models.MinuteLimit{
		TenantID:             tenant.ID,
		IncludedMinutes:      200,
		OveragePriceCentavos: 350,
		OveragePolicy:        enums.OveragePolicyCharge,
	}).Error)
	return tenant.ID
}

func (f *fixture) seedPeriod(t *testing.T, tenantID uuid.UUID, overageMinutes decimal.Decimal, chargeCentavos int64) models.UsagePeriod {
	t.Helper()
	period := models.UsagePeriod{
		ID:                    uuid.New(),
		TenantID:              tenantID,
		PeriodStart:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:             time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		IncludedMinutesUsed:   decimal.NewFromInt(200),
		OverageMinutesUsed:    overageMinutes,
		OverageChargeCentavos: chargeCentavos,
	}
	require.NoError(t, f.conn.Create(&period).Error)
	return period
}

func TestProcessMonthlyBillingInvoicesPendingOverage(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedTenant(t, "cus_123")
	f.seedPeriod(t, tenantID, decimal.NewFromFloat(25.5), 8925)

	report, err := f.reconciler.ProcessMonthlyBilling(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.TenantsProcessed)
	assert.Equal(t, 1, report.TenantsWithOverage)
	require.Len(t, report.Results, 1)
	assert.Equal(t, int64(8925), report.TotalOverageAmount)

	require.Len(t, f.provider.created, 1)
	assert.Equal(t, "cus_123", f.provider.created[0].customerID)
	assert.Equal(t, int64(8925), f.provider.created[0].amount)
	assert.Equal(t, "mxn", f.provider.created[0].currency)
	assert.Equal(t, "voice_overage", f.provider.created[0].metadata["type"])
	assert.Equal(t, tenantID.String(), f.provider.created[0].metadata["tenant_id"])

	var period models.UsagePeriod
	require.NoError(t, f.conn.Where("tenant_id = ?", tenantID).First(&period).Error)
	require.NotNil(t, period.BilledAt)
	require.NotNil(t, period.InvoiceItemID)
	assert.Equal(t, report.Results[0].InvoiceItemID, *period.InvoiceItemID)
}

func TestProcessMonthlyBillingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedTenant(t, "cus_123")
	f.seedPeriod(t, tenantID, decimal.NewFromFloat(25.5), 8925)

	_, err := f.reconciler.ProcessMonthlyBilling(context.Background())
	require.NoError(t, err)
	report, err := f.reconciler.ProcessMonthlyBilling(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.provider.created, 1, "second run must not create a second invoice item")
	assert.Equal(t, 0, report.TenantsWithOverage)
}

func TestCreateOverageInvoiceItemGuardShortCircuits(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedTenant(t, "cus_123")
	period := f.seedPeriod(t, tenantID, decimal.NewFromFloat(10), 3500)

	item := TenantOverage{
		TenantID:         tenantID,
		StripeCustomerID: "cus_123",
		PeriodID:         period.ID,
		PeriodStart:      period.PeriodStart,
		OverageMinutes:   period.OverageMinutesUsed,
		AmountCentavos:   period.OverageChargeCentavos,
	}

	first, err := f.reconciler.CreateOverageInvoiceItem(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, first.AlreadyBilled)

	// Retrying the same item hits the billed_at guard before Stripe.
	second, err := f.reconciler.CreateOverageInvoiceItem(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, second.AlreadyBilled)
	assert.Equal(t, first.InvoiceItemID, second.InvoiceItemID)
	assert.Len(t, f.provider.created, 1)
}

func TestCreateOverageInvoiceItemRecomputesStaleZero(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedTenant(t, "cus_123")
	period := f.seedPeriod(t, tenantID, decimal.NewFromFloat(2.5), 0)

	result, err := f.reconciler.CreateOverageInvoiceItem(context.Background(), TenantOverage{
		TenantID:         tenantID,
		StripeCustomerID: "cus_123",
		PeriodID:         period.ID,
		PeriodStart:      period.PeriodStart,
		OverageMinutes:   period.OverageMinutesUsed,
	})
	require.NoError(t, err)
	// 2.5 minutes at 350 centavos recomputed from the ledger.
	assert.Equal(t, int64(875), result.AmountCentavos)
}

func TestCreateOverageInvoiceItemRejectsDeletedCustomer(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedTenant(t, "cus_gone")
	period := f.seedPeriod(t, tenantID, decimal.NewFromFloat(10), 3500)
	f.provider.deletedCustomers["cus_gone"] = true

	_, err := f.reconciler.CreateOverageInvoiceItem(context.Background(), TenantOverage{
		TenantID:         tenantID,
		StripeCustomerID: "cus_gone",
		PeriodID:         period.ID,
		PeriodStart:      period.PeriodStart,
		OverageMinutes:   period.OverageMinutesUsed,
		AmountCentavos:   period.OverageChargeCentavos,
	})
	require.Error(t, err)
	assert.Empty(t, f.provider.created)

	var reloaded models.UsagePeriod
	require.NoError(t, f.conn.Where("id = ?", period.ID).First(&reloaded).Error)
	assert.Nil(t, reloaded.BilledAt, "failed item must leave the period unbilled")
}

func TestProcessMonthlyBillingContinuesPastFailures(t *testing.T) {
	f := newFixture(t)

	badTenant := f.seedTenant(t, "cus_bad")
	f.seedPeriod(t, badTenant, decimal.NewFromFloat(5), 1750)
	f.provider.deletedCustomers["cus_bad"] = true

	goodTenant := f.seedTenant(t, "cus_good")
	f.seedPeriod(t, goodTenant, decimal.NewFromFloat(10), 3500)

	report, err := f.reconciler.ProcessMonthlyBilling(context.Background())
	require.Error(t, err, "batch error should surface the per-tenant failures")
	assert.Equal(t, 2, report.TenantsProcessed)
	require.Len(t, report.Results, 1)
	assert.Equal(t, goodTenant, report.Results[0].TenantID)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, int64(3500), report.TotalOverageAmount)
}

func TestTenantsWithPendingOverageSkipsMissingCustomer(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedTenant(t, "")
	f.seedPeriod(t, tenantID, decimal.NewFromFloat(5), 1750)

	pending, err := f.reconciler.TenantsWithPendingOverage(context.Background(), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func (f *fixture) setPolicy(t *testing.T, tenantID uuid.UUID, policy enums.OveragePolicy) {
	t.Helper()
	require.NoError(t, f.conn.Model(&models.MinuteLimit{}).
		Where("tenant_id = ?", tenantID).
		Update("overage_policy", policy).Error)
}

func TestProcessMonthlyBillingSkipsNotifyOnlyTenants(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedTenant(t, "cus_notify")
	f.setPolicy(t, tenantID, enums.OveragePolicyNotifyOnly)
	// Overage minutes accrued but never priced under notify_only.
	period := f.seedPeriod(t, tenantID, decimal.NewFromFloat(25.5), 0)

	report, err := f.reconciler.ProcessMonthlyBilling(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TenantsWithOverage)
	assert.Empty(t, f.provider.created, "notify_only overage must never become an invoice item")

	var reloaded models.UsagePeriod
	require.NoError(t, f.conn.Where("id = ?", period.ID).First(&reloaded).Error)
	assert.Nil(t, reloaded.BilledAt)
}

func TestCreateOverageInvoiceItemRejectsBlockPolicy(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedTenant(t, "cus_block")
	f.setPolicy(t, tenantID, enums.OveragePolicyBlock)
	// A call straddling the limit leaves fractional overage even when
	// the policy blocks further calls.
	period := f.seedPeriod(t, tenantID, decimal.NewFromFloat(0.7), 0)

	_, err := f.reconciler.CreateOverageInvoiceItem(context.Background(), TenantOverage{
		TenantID:         tenantID,
		StripeCustomerID: "cus_block",
		PeriodID:         period.ID,
		PeriodStart:      period.PeriodStart,
		OverageMinutes:   period.OverageMinutesUsed,
	})
	require.Error(t, err)
	assert.Empty(t, f.provider.created)

	var reloaded models.UsagePeriod
	require.NoError(t, f.conn.Where("id = ?", period.ID).First(&reloaded).Error)
	assert.Nil(t, reloaded.BilledAt)
}

func TestProcessMonthlyBillingIgnoresOpenPeriod(t *testing.T) {
	f := newFixture(t)
	tenantID := f.seedTenant(t, "cus_open")
	// Current period, still accruing: started April 1st, the fixture
	// clock is April 1st 03:00.
	open := models.UsagePeriod{
		ID:                    uuid.New(),
		TenantID:              tenantID,
		PeriodStart:           time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:             time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		IncludedMinutesUsed:   decimal.NewFromInt(200),
		OverageMinutesUsed:    decimal.NewFromFloat(10),
		OverageChargeCentavos: 3500,
	}
	require.NoError(t, f.conn.Create(&open).Error)

	report, err := f.reconciler.ProcessMonthlyBilling(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TenantsWithOverage)
	assert.Empty(t, f.provider.created, "an open period must stay pending until it closes")

	var reloaded models.UsagePeriod
	require.NoError(t, f.conn.Where("id = ?", open.ID).First(&reloaded).Error)
	assert.Nil(t, reloaded.BilledAt, "billing the open period would strand later overage behind the guard")
}

func TestNewReconcilerValidatesParams(t *testing.T) {
	_, err := NewReconciler(ReconcilerParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage repository")
}
