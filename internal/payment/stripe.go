package payment

import (
	"context"
	"fmt"

	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// intentAPI is the part of the Stripe client used here.
type intentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeService struct {
	intents  intentAPI
	currency string
	log      *logger.Logger
}

func NewStripeService(secretKey, currency string, log *logger.Logger) (*StripeService, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("%w: STRIPE_SECRET_KEY not set", ErrGatewayUnavailable)
	}
	sc := client.New(secretKey, nil)
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeService{intents: sc.PaymentIntents, currency: currency, log: log}, nil
}

// VerifyIntent accepts a succeeded PaymentIntent for at least amount.
func (s *StripeService) VerifyIntent(ctx context.Context, intentID string, amount decimal.Decimal) error {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.intents.Get(intentID, params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to fetch payment intent %s: %v", intentID, err))
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return fmt.Errorf("%w: intent %s is %s", ErrPaymentNotVerified, intentID, pi.Status)
	}
	if want := minorUnits(amount); pi.AmountReceived < want {
		return fmt.Errorf("%w: intent %s received %d, expected %d", ErrPaymentNotVerified, intentID, pi.AmountReceived, want)
	}
	s.log.Info("STRIPE", fmt.Sprintf("Payment intent %s verified", intentID))
	return nil
}

// ChargeIntent creates a PaymentIntent for the penalty. When the participant
// paid earlier, their customer and payment method are reused off-session.
func (s *StripeService) ChargeIntent(ctx context.Context, c Charge) (ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(minorUnits(c.Amount)),
		Currency:    stripe.String(s.currency),
		Description: stripe.String(c.Description),
		Metadata: map[string]string{
			"user_id":       c.UserID,
			"user_order_id": c.UserOrderID,
			"kind":          "cancellation_penalty",
		},
	}
	params.Context = ctx

	if c.PaymentReference != "" {
		prev, err := s.intents.Get(c.PaymentReference, &stripe.PaymentIntentParams{})
		if err == nil && prev.PaymentMethod != nil && prev.Customer != nil {
			params.Customer = stripe.String(prev.Customer.ID)
			params.PaymentMethod = stripe.String(prev.PaymentMethod.ID)
			params.OffSession = stripe.Bool(true)
			params.Confirm = stripe.Bool(true)
		} else if err != nil {
			s.log.Warn("STRIPE", fmt.Sprintf("Could not load original intent %s: %v", c.PaymentReference, err))
		}
	}

	pi, err := s.intents.New(params)
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create penalty intent for %s: %v", c.UserOrderID, err))
		return ChargeResult{Gateway: "stripe", Status: models.TransactionFailed, FailureReason: err.Error()}, nil
	}

	result := ChargeResult{Gateway: "stripe", ExternalID: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Status = models.TransactionSuccess
	case stripe.PaymentIntentStatusCanceled:
		result.Status = models.TransactionFailed
		result.FailureReason = "payment intent canceled"
	default:
		result.Status = models.TransactionPending
	}
	s.log.Info("STRIPE", fmt.Sprintf("Penalty intent %s for %s is %s", pi.ID, c.UserOrderID, pi.Status))
	return result, nil
}
