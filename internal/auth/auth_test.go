package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ms-buddycart/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, sub string) string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestExtractUserIDFromJWT(t *testing.T) {
	sub, err := ExtractUserIDFromJWT(signedToken(t, "user-42"))
	require.NoError(t, err)
	assert.Equal(t, "user-42", sub)

	_, err = ExtractUserIDFromJWT("")
	assert.Error(t, err)

	_, err = ExtractUserIDFromJWT("not-a-jwt")
	assert.Error(t, err)
}

func TestMiddleware_SetsUserID(t *testing.T) {
	var seen string
	h := Middleware(UnverifiedDecoder{}, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/club/queue/x", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "user-7"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", seen)
}

func TestMiddleware_RejectsMissingOrMalformed(t *testing.T) {
	h := Middleware(UnverifiedDecoder{}, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Token abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestUserID_EmptyWithoutAuth(t *testing.T) {
	assert.Equal(t, "", UserID(context.Background()))
	assert.Equal(t, "u1", UserID(WithUserID(context.Background(), "u1")))
}

func TestM2MTokenSource_CachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"svc-token","expires_in":300,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	src := &M2MTokenSource{
		TokenURL:     srv.URL,
		ClientID:     "buddycart-service",
		ClientSecret: "secret",
		HTTP:         srv.Client(),
		Cache:        NewRedisTokenCache(client, "buddycart-service"),
		Logger:       logger.Nop(),
	}

	for i := 0; i < 3; i++ {
		tok, err := src.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "svc-token", tok)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestM2MTokenSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	src := &M2MTokenSource{TokenURL: srv.URL, HTTP: srv.Client(), Logger: logger.Nop()}
	_, err := src.Token(context.Background())
	assert.Error(t, err)
}

func TestTokenCache_IsValid(t *testing.T) {
	now := time.Now()
	assert.False(t, (*TokenCache)(nil).IsValid(now))
	assert.False(t, (&TokenCache{Token: "x", ExpiresAt: now.Add(30 * time.Second)}).IsValid(now))
	assert.True(t, (&TokenCache{Token: "x", ExpiresAt: now.Add(5 * time.Minute)}).IsValid(now))
}
