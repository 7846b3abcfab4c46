package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/fernandofuc/tistis-platform-sub016/internal/usage"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/enums"
	pkgerrors "github.com/fernandofuc/tistis-platform-sub016/pkg/errors"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
)

const overageItemType = "voice_overage"

// Provider is the external billing surface the reconciler talks to.
// Satisfied by the Stripe client; faked in tests.
type Provider interface {
	CustomerDeleted(ctx context.Context, customerID string) (bool, error)
	CreateInvoiceItem(ctx context.Context, customerID string, amountCentavos int64, currency, description string, metadata map[string]string) (string, error)
}

// TenantOverage is one tenant's unbilled overage in one period.
type TenantOverage struct {
	TenantID         uuid.UUID
	StripeCustomerID string
	PeriodID         uuid.UUID
	PeriodStart      time.Time
	PeriodEnd        time.Time
	OverageMinutes   decimal.Decimal
	AmountCentavos   int64
}

// InvoiceResult reports one invoicing attempt.
type InvoiceResult struct {
	TenantID       uuid.UUID
	InvoiceItemID  string
	AmountCentavos int64
	AlreadyBilled  bool
}

// Report aggregates one batch run.
type Report struct {
	TenantsProcessed   int
	TenantsWithOverage int
	Results            []InvoiceResult
	Errors             []error
	TotalOverageMins   decimal.Decimal
	TotalOverageAmount int64
}

// ReconcilerParams groups reconciler dependencies.
type ReconcilerParams struct {
	Usage      usage.Repository
	Tenants    TenantStore
	Provider   Provider
	Logger     *logger.Logger
	Currency   string
	BatchLimit int
	Now        func() time.Time
}

// Reconciler turns unbilled overage into invoice line items. Duplicate
// invoicing is prevented by checking the billed_at guard before any
// Stripe call, not by transactional rollback across two systems.
type Reconciler struct {
	usageRepo  usage.Repository
	tenants    TenantStore
	provider   Provider
	logg       *logger.Logger
	currency   string
	batchLimit int
	now        func() time.Time
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Usage == nil {
		return nil, fmt.Errorf("usage repository required")
	}
	if params.Tenants == nil {
		return nil, fmt.Errorf("tenant store required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("billing provider required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Currency == "" {
		params.Currency = "mxn"
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		usageRepo:  params.Usage,
		tenants:    params.Tenants,
		provider:   params.Provider,
		logg:       params.Logger,
		currency:   params.Currency,
		batchLimit: params.BatchLimit,
		now:        now,
	}, nil
}

// TenantsWithPendingOverage lists unbilled overage from closed periods
// of charge-policy tenants as of the given time. Overage minutes under
// block or notify_only never become invoice items. Tenants without a
// Stripe customer are skipped with a warning; they stay pending until
// onboarding completes.
func (r *Reconciler) TenantsWithPendingOverage(ctx context.Context, asOf time.Time) ([]TenantOverage, error) {
	periods, err := r.usageRepo.ListPendingOverage(ctx, asOf, r.batchLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending overage")
	}

	out := make([]TenantOverage, 0, len(periods))
	for _, period := range periods {
		limit, err := r.usageRepo.GetMinuteLimit(ctx, period.TenantID)
		if err != nil {
			logCtx := r.logg.WithTenantID(ctx, period.TenantID.String())
			r.logg.Error(logCtx, "billing.limit_lookup_failed", err)
			continue
		}
		if limit.OveragePolicy != enums.OveragePolicyCharge {
			logCtx := r.logg.WithFields(ctx, map[string]any{
				"tenant_id": period.TenantID,
				"policy":    limit.OveragePolicy,
			})
			r.logg.Info(logCtx, "billing.overage_not_billable_under_policy")
			continue
		}
		tenant, err := r.tenants.GetTenant(ctx, period.TenantID)
		if err != nil {
			logCtx := r.logg.WithTenantID(ctx, period.TenantID.String())
			r.logg.Error(logCtx, "billing.tenant_lookup_failed", err)
			continue
		}
		if tenant.StripeCustomerID == nil || *tenant.StripeCustomerID == "" {
			logCtx := r.logg.WithTenantID(ctx, period.TenantID.String())
			r.logg.Warn(logCtx, "billing.tenant_missing_stripe_customer")
			continue
		}
		out = append(out, TenantOverage{
			TenantID:         period.TenantID,
			StripeCustomerID: *tenant.StripeCustomerID,
			PeriodID:         period.ID,
			PeriodStart:      period.PeriodStart,
			PeriodEnd:        period.PeriodEnd,
			OverageMinutes:   period.OverageMinutesUsed,
			AmountCentavos:   period.OverageChargeCentavos,
		})
	}
	return out, nil
}

// CreateOverageInvoiceItem invoices one tenant's period. Safe to retry:
// the billed_at guard short-circuits before any Stripe call.
func (r *Reconciler) CreateOverageInvoiceItem(ctx context.Context, item TenantOverage) (*InvoiceResult, error) {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"tenant_id":    item.TenantID,
		"period_start": item.PeriodStart.Format("2006-01-02"),
	})

	// Already-billed guard first. A period billed by a concurrent run or
	// an earlier retry is a success, not a duplicate.
	period, err := r.usageRepo.GetPeriod(ctx, item.TenantID, item.PeriodStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load period for billing guard")
	}
	if period.BilledAt != nil {
		invoiceItemID := ""
		if period.InvoiceItemID != nil {
			invoiceItemID = *period.InvoiceItemID
		}
		return &InvoiceResult{
			TenantID:      item.TenantID,
			InvoiceItemID: invoiceItemID,
			AlreadyBilled: true,
		}, nil
	}

	// Only the charge policy turns overage minutes into money. Block and
	// notify_only tenants accrue minutes in the ledger but never an item.
	limit, err := r.usageRepo.GetMinuteLimit(ctx, item.TenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load minute limit")
	}
	if limit.OveragePolicy != enums.OveragePolicyCharge {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("overage policy %q is not billable", limit.OveragePolicy))
	}

	deleted, err := r.provider.CustomerDeleted(ctx, item.StripeCustomerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify billing customer")
	}
	if deleted {
		return nil, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("stripe customer %s is deleted", item.StripeCustomerID))
	}

	// Never trust a stale zero: recompute from the ledger's minutes.
	amount := period.OverageChargeCentavos
	if amount <= 0 {
		amount = period.OverageMinutesUsed.
			Mul(decimal.NewFromInt(limit.OveragePriceCentavos)).
			Ceil().
			IntPart()
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "period has no billable overage amount")
	}

	description := fmt.Sprintf("Minutos excedentes de voz (%s)", item.PeriodStart.Format("2006-01"))
	invoiceItemID, err := r.provider.CreateInvoiceItem(ctx, item.StripeCustomerID, amount, r.currency, description, map[string]string{
		"tenant_id":    item.TenantID.String(),
		"type":         overageItemType,
		"period_start": item.PeriodStart.Format(time.RFC3339),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice item")
	}

	// An invoice item that exists without the billed mark is recoverable;
	// the guard above prevents the unrecoverable duplicate. So a failed
	// mark is a warning, not a failure.
	marked, err := r.usageRepo.MarkOverageBilled(ctx, item.TenantID, item.PeriodStart, invoiceItemID, r.now().UTC())
	if err != nil {
		r.logg.Warn(r.logg.WithField(logCtx, "invoice_item_id", invoiceItemID), "billing.mark_billed_failed")
	} else if !marked {
		r.logg.Warn(r.logg.WithField(logCtx, "invoice_item_id", invoiceItemID), "billing.period_billed_concurrently")
	} else if _, err := r.usageRepo.AttachBillingReference(ctx, item.PeriodID, invoiceItemID); err != nil {
		r.logg.Warn(r.logg.WithField(logCtx, "invoice_item_id", invoiceItemID), "billing.ledger_reference_failed")
	}

	r.logg.Info(r.logg.WithFields(logCtx, map[string]any{
		"invoice_item_id": invoiceItemID,
		"amount_centavos": amount,
	}), "billing.invoice_item_created")

	return &InvoiceResult{
		TenantID:       item.TenantID,
		InvoiceItemID:  invoiceItemID,
		AmountCentavos: amount,
	}, nil
}

// ProcessMonthlyBilling invoices every tenant with pending overage. One
// tenant's failure never stops the batch.
func (r *Reconciler) ProcessMonthlyBilling(ctx context.Context) (*Report, error) {
	asOf := r.now().UTC()
	pending, err := r.TenantsWithPendingOverage(ctx, asOf)
	if err != nil {
		return nil, err
	}

	report := &Report{
		TenantsWithOverage: len(pending),
		TotalOverageMins:   decimal.Zero,
	}
	var combined error
	for _, item := range pending {
		report.TenantsProcessed++
		result, err := r.CreateOverageInvoiceItem(ctx, item)
		if err != nil {
			logCtx := r.logg.WithTenantID(ctx, item.TenantID.String())
			r.logg.Error(logCtx, "billing.invoice_item_failed", err)
			report.Errors = append(report.Errors, err)
			combined = multierr.Append(combined, err)
			continue
		}
		report.Results = append(report.Results, *result)
		if !result.AlreadyBilled {
			report.TotalOverageMins = report.TotalOverageMins.Add(item.OverageMinutes)
			report.TotalOverageAmount += result.AmountCentavos
		}
	}

	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"tenants_processed": report.TenantsProcessed,
		"invoiced":          len(report.Results),
		"failed":            len(report.Errors),
		"total_centavos":    report.TotalOverageAmount,
	}), "billing.reconciliation_complete")

	return report, combined
}
