package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/config"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client wraps Stripe's API client plus env-specific metadata. The
// gateway only needs the customer and invoice-item surfaces.
type Client struct {
	api         *stripe.Client
	environment string
}

// NewClient initializes Stripe once with the configured secrets and env.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	api := stripe.NewClient(apiKey)

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}

	return &Client{
		api:         api,
		environment: env,
	}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// CustomerDeleted reports whether the Stripe customer no longer exists.
func (c *Client) CustomerDeleted(ctx context.Context, customerID string) (bool, error) {
	if c == nil || c.api == nil {
		return false, errors.New("stripe client not initialized")
	}
	if strings.TrimSpace(customerID) == "" {
		return false, errors.New("customer id is required")
	}
	customer, err := c.api.V1Customers.Retrieve(ctx, customerID, &stripe.CustomerRetrieveParams{})
	if err != nil {
		return false, fmt.Errorf("retrieve customer %s: %w", customerID, err)
	}
	return customer.Deleted, nil
}

// CreateInvoiceItem creates a pending invoice line item on the customer's
// next invoice and returns its id.
func (c *Client) CreateInvoiceItem(ctx context.Context, customerID string, amountCentavos int64, currency, description string, metadata map[string]string) (string, error) {
	if c == nil || c.api == nil {
		return "", errors.New("stripe client not initialized")
	}
	if strings.TrimSpace(customerID) == "" {
		return "", errors.New("customer id is required")
	}
	if amountCentavos <= 0 {
		return "", fmt.Errorf("amount must be positive, got %d", amountCentavos)
	}

	params := &stripe.InvoiceItemCreateParams{
		Customer:    stripe.String(customerID),
		Amount:      stripe.Int64(amountCentavos),
		Currency:    stripe.String(currency),
		Description: stripe.String(description),
	}
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}

	item, err := c.api.V1InvoiceItems.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create invoice item: %w", err)
	}
	return item.ID, nil
}

func normalizeEnv(env string) (string, error) {
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, apiKey string) error {
	switch env {
	case testEnv:
		if !strings.HasPrefix(apiKey, "sk_test_") {
			return fmt.Errorf("test environment requires an sk_test_ key")
		}
	case liveEnv:
		if !strings.HasPrefix(apiKey, "sk_live_") {
			return fmt.Errorf("live environment requires an sk_live_ key")
		}
	}
	return nil
}
