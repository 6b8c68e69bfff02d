package payment

import (
	"context"
	"errors"
	"fmt"

	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotVerified = errors.New("payment could not be verified")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Charge asks the gateway to collect money from a participant.
type Charge struct {
	UserID      string
	UserOrderID string
	Amount      decimal.Decimal
	Method      models.PaymentMethod
	// PaymentReference is the external id of the participant's earlier
	// payment, used to reuse their saved payment method.
	PaymentReference string
	Description      string
}

type ChargeResult struct {
	Gateway       string
	ExternalID    string
	Status        models.TransactionStatus
	FailureReason string
}

// Gateway routes payment operations by payment method. ONLINE goes through
// Stripe when a client is configured; WALLET is settled internally; COD is
// collected on delivery and stays PENDING.
type Gateway struct {
	stripe *StripeService
	logger *logger.Logger
}

func NewGateway(stripe *StripeService, log *logger.Logger) *Gateway {
	return &Gateway{stripe: stripe, logger: log}
}

// VerifyPayment checks an externally completed payment before it is recorded.
func (g *Gateway) VerifyPayment(ctx context.Context, method models.PaymentMethod, externalID string, amount decimal.Decimal) (string, error) {
	switch method {
	case models.PaymentOnline:
		if externalID == "" {
			return "", fmt.Errorf("%w: external transaction id is required for online payments", models.ErrInvalidRequest)
		}
		if g.stripe == nil {
			g.logger.Warn("PAYMENT", fmt.Sprintf("Stripe not configured, accepting reference %s unverified", externalID))
			return "offline", nil
		}
		if err := g.stripe.VerifyIntent(ctx, externalID, amount); err != nil {
			return "", err
		}
		return "stripe", nil
	case models.PaymentWallet:
		return "wallet", nil
	case models.PaymentCOD:
		return "cod", nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", models.ErrInvalidRequest, method)
	}
}

// ChargePenalty collects a cancellation penalty.
func (g *Gateway) ChargePenalty(ctx context.Context, c Charge) (ChargeResult, error) {
	switch c.Method {
	case models.PaymentOnline:
		if g.stripe == nil {
			return ChargeResult{Gateway: "offline", Status: models.TransactionPending}, nil
		}
		return g.stripe.ChargeIntent(ctx, c)
	case models.PaymentWallet:
		return ChargeResult{Gateway: "wallet", Status: models.TransactionSuccess}, nil
	case models.PaymentCOD:
		return ChargeResult{Gateway: "cod", Status: models.TransactionPending}, nil
	default:
		return ChargeResult{}, fmt.Errorf("%w: unsupported payment method %q", models.ErrInvalidRequest, c.Method)
	}
}

// minorUnits converts an amount to the smallest currency unit.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
