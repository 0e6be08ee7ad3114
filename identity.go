package gather

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Identity
// ============================================================================

// SenderIDFromToken extracts the stable user identifier from a Gather session
// JWT without verifying the signature. The token was verified by the backend
// at login; the client only needs the claim to tell its own messages apart
// from other participants' during reconciliation and rendering.
func SenderIDFromToken(token string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("failed to parse session token: %w", err)
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	if uid, ok := claims["userId"].(string); ok && uid != "" {
		return uid, nil
	}
	return "", fmt.Errorf("session token carries no user identifier")
}

// SenderID resolves the current user's identifier, preferring the token's
// claims and falling back to a /me round trip for opaque tokens.
func (c *Client) SenderID(ctx context.Context) (string, error) {
	if id, err := SenderIDFromToken(c.token); err == nil {
		return id, nil
	}

	result, err := c.Account.Me(ctx)
	if err != nil {
		return "", err
	}
	if !result.OK {
		return "", resultErr(result, "identity lookup failed")
	}
	var user User
	if err := result.Decode(&user); err != nil {
		return "", fmt.Errorf("failed to decode identity: %w", err)
	}
	if user.ID == "" {
		return "", fmt.Errorf("identity lookup returned no user id")
	}
	return user.ID, nil
}
