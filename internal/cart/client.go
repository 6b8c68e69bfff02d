package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"

	"github.com/shopspring/decimal"
)

// TokenSource supplies a bearer token for service-to-service calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client reads cart totals from the cart service.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *logger.Logger
}

func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		logger:  log,
	}
}

type cartResponse struct {
	CartID      string          `json:"cart_id"`
	UserID      string          `json:"user_id"`
	Status      string          `json:"status"`
	ValueTotal  decimal.Decimal `json:"value_total"`
	WeightTotal float64         `json:"weight_total"`
	ItemCount   int             `json:"item_count"`
}

func (c *Client) fetch(ctx context.Context, userID, cartID string) (*cartResponse, error) {
	endpoint := fmt.Sprintf("%s/internal/v1/carts/%s?user_id=%s", c.baseURL, url.PathEscape(cartID), url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("CART", fmt.Sprintf("Cart service error: %v", err))
		return nil, fmt.Errorf("cart service error: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("cart %s: %w", cartID, models.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		c.logger.Error("CART", fmt.Sprintf("Cart service returned status: %d", resp.StatusCode))
		return nil, fmt.Errorf("cart service returned status: %d", resp.StatusCode)
	}

	var body cartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode cart response: %w", err)
	}
	if body.UserID != "" && body.UserID != userID {
		return nil, fmt.Errorf("cart %s: %w", cartID, models.ErrNotFound)
	}
	return &body, nil
}

// GetCartTotals returns the current value and weight of the user's cart.
func (c *Client) GetCartTotals(ctx context.Context, userID, cartID string) (models.CartTotals, error) {
	body, err := c.fetch(ctx, userID, cartID)
	if err != nil {
		return models.CartTotals{}, err
	}
	return models.CartTotals{
		CartID:      cartID,
		ValueTotal:  body.ValueTotal,
		WeightTotal: body.WeightTotal,
		ItemCount:   body.ItemCount,
	}, nil
}

// IsCartActive reports whether the cart can still be ordered.
func (c *Client) IsCartActive(ctx context.Context, userID, cartID string) (bool, error) {
	body, err := c.fetch(ctx, userID, cartID)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(body.Status, "ACTIVE") && body.ItemCount > 0, nil
}
