package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ms-buddycart/internal/logger"
)

type m2mTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// M2MTokenSource fetches client-credentials tokens for calls to other
// services and caches them in redis when a cache is configured.
type M2MTokenSource struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTP         *http.Client
	Cache        *RedisTokenCache
	Logger       *logger.Logger
}

func (s *M2MTokenSource) Token(ctx context.Context) (string, error) {
	if s.Cache != nil {
		cached, err := s.Cache.GetToken(ctx)
		if err != nil {
			s.Logger.Warn("AUTH", fmt.Sprintf("Token cache read failed: %v", err))
		} else if cached != nil {
			return cached.Token, nil
		}
	}

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", s.ClientID)
	data.Set("client_secret", s.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.Logger.Error("AUTH", fmt.Sprintf("Token endpoint returned %s: %s", resp.Status, string(body)))
		return "", fmt.Errorf("failed to get token, status: %s", resp.Status)
	}

	var tokenResp m2mTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	if s.Cache != nil && tokenResp.ExpiresIn > 0 {
		if err := s.Cache.SetToken(ctx, tokenResp.AccessToken, time.Duration(tokenResp.ExpiresIn)*time.Second); err != nil {
			s.Logger.Warn("AUTH", fmt.Sprintf("Token cache write failed: %v", err))
		}
	}
	s.Logger.Debug("AUTH", "Fetched new service token")
	return tokenResp.AccessToken, nil
}
