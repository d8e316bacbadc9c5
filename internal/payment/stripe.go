package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

type StripeConfig struct {
	SecretKey string
	Currency  string
	Timeout   time.Duration
	// APIURL overrides the Stripe API base URL. Empty uses api.stripe.com.
	APIURL string
}

// StripeGateway charges by creating and confirming a PaymentIntent against a
// previously tokenized payment method. Its backend has network retries
// disabled, so each Charge or Refund is sent at most once.
type StripeGateway struct {
	api      *client.API
	currency string
	timeout  time.Duration
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	backendCfg := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(0)}
	if u := strings.TrimSpace(cfg.APIURL); u != "" {
		backendCfg.URL = stripe.String(u)
	}
	api := &client.API{}
	api.Init(strings.TrimSpace(cfg.SecretKey), &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackend(stripe.ConnectBackend),
		Uploads: stripe.GetBackend(stripe.UploadsBackend),
	})

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StripeGateway{api: api, currency: currency, timeout: timeout}
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return Receipt{}, fmt.Errorf("%w: payment method is required", ErrDeclined)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(g.currency),
		PaymentMethod: stripe.String(req.PaymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.AddMetadata("tenant_id", req.TenantID)
	params.AddMetadata("customer_id", req.CustomerID)
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return Receipt{}, classifyStripeError(ctx, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return Receipt{}, fmt.Errorf("%w: payment intent %s is %s", ErrDeclined, pi.ID, pi.Status)
	}

	return Receipt{
		ID:          pi.ID,
		Provider:    "stripe",
		AmountCents: pi.Amount,
		Currency:    string(pi.Currency),
	}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, receipt Receipt) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(receipt.ID),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String("refund:" + receipt.ID)

	if _, err := g.api.Refunds.New(params); err != nil {
		return classifyStripeError(ctx, err)
	}
	return nil
}

func classifyStripeError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
		return fmt.Errorf("%w: %s", ErrDeclined, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
