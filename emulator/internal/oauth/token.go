package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/store"
)

const (
	tokenLength     = 32
	tokenTTL        = 600     // Exact access tokens live 10 minutes
	refreshTokenTTL = 2592000 // 30 days in seconds
	refreshPrefix   = "refresh:"
)

// TokenManager manages OAuth2 access tokens.
type TokenManager struct {
	store *store.Store
}

// NewTokenManager creates a new TokenManager.
func NewTokenManager(s *store.Store) *TokenManager {
	return &TokenManager{store: s}
}

// GenerateToken generates a new access token and stores it.
func (tm *TokenManager) GenerateToken() (string, error) {
	token, err := generateRandomToken(tokenLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	// Store token with expiration time.
	expiresAt := time.Now().Add(tokenTTL * time.Second).Unix()
	if err := tm.store.PutString(store.BucketTokens, token, fmt.Sprintf("%d", expiresAt)); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}

	return token, nil
}

// GenerateRefreshToken generates a new refresh token and stores it.
func (tm *TokenManager) GenerateRefreshToken() (string, error) {
	token, err := generateRandomToken(tokenLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	// Store refresh token with longer expiration time.
	expiresAt := time.Now().Add(refreshTokenTTL * time.Second).Unix()
	if err := tm.store.PutString(store.BucketTokens, refreshPrefix+token, fmt.Sprintf("%d", expiresAt)); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return token, nil
}

// ValidateToken validates an access token.
func (tm *TokenManager) ValidateToken(token string) (bool, error) {
	return tm.validate(token)
}

// RedeemRefreshToken validates a refresh token and revokes it. Exact rotates
// refresh tokens on every use.
func (tm *TokenManager) RedeemRefreshToken(token string) (bool, error) {
	valid, err := tm.validate(refreshPrefix + token)
	if err != nil || !valid {
		return valid, err
	}
	if err := tm.store.DeleteString(store.BucketTokens, refreshPrefix+token); err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return true, nil
}

// RevokeToken revokes an access token.
func (tm *TokenManager) RevokeToken(token string) error {
	return tm.store.DeleteString(store.BucketTokens, token)
}

func (tm *TokenManager) validate(key string) (bool, error) {
	expiresAtStr, err := tm.store.GetString(store.BucketTokens, key)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to get token: %w", err)
	}

	var expiresAt int64
	if _, err := fmt.Sscanf(expiresAtStr, "%d", &expiresAt); err != nil {
		return false, fmt.Errorf("failed to parse expiration time: %w", err)
	}

	// Check if token is expired.
	if time.Now().Unix() > expiresAt {
		// Delete expired token.
		_ = tm.store.DeleteString(store.BucketTokens, key)
		return false, nil
	}

	return true, nil
}

// generateRandomToken generates a random token string.
func generateRandomToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
