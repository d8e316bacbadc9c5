package payment

import (
	"context"
	"errors"
)

var (
	ErrDeclined    = errors.New("payment declined")
	ErrTimeout     = errors.New("payment timed out")
	ErrUnavailable = errors.New("payment provider unavailable")
)

type Method string

const (
	MethodCard Method = "card"
	// MethodOnSite settles at the venue; no charge is taken at booking time.
	MethodOnSite Method = "on_site"
)

type ChargeRequest struct {
	TenantID       string
	CustomerID     string
	CustomerEmail  string
	AmountCents    int64
	PaymentMethod  string
	Description    string
	IdempotencyKey string
}

type Receipt struct {
	ID          string
	Provider    string
	AmountCents int64
	Currency    string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Receipt, error)
	Refund(ctx context.Context, receipt Receipt) error
}

// Disabled rejects every charge. It stands in when no provider is configured
// so that only on-site and package bookings are accepted.
type Disabled struct{}

func (Disabled) Charge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	return Receipt{}, ErrUnavailable
}

func (Disabled) Refund(ctx context.Context, receipt Receipt) error {
	return ErrUnavailable
}
