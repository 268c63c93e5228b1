package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesSessionTokens(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "compass-auth",
		Audience:      "compass-api",
		TokenTTL:      30 * time.Minute,
	})

	tokenString, expiresIn, err := issuer.IssueToken(context.Background(), "user-123", "user@example.com", "Avery")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	parser := jwt.Parser{}
	claims := &SessionClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "user-123" || claims.UserID != "user-123" {
		t.Fatalf("unexpected subject claims: %#v", claims)
	}
	if claims.UserDisplayName != "Avery" {
		t.Fatalf("unexpected display name %s", claims.UserDisplayName)
	}
	if claims.Issuer != "compass-auth" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "compass-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerRequiresSubject(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "compass-auth",
		Audience:      "compass-api",
	})

	if _, _, err := issuer.IssueToken(context.Background(), "", "", ""); err == nil {
		t.Fatal("expected error for empty subject")
	}
}

func TestTokenIssuerRequiresSigningSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		Issuer:   "compass-auth",
		Audience: "compass-api",
	})

	if _, _, err := issuer.IssueToken(context.Background(), "user-123", "", ""); err == nil {
		t.Fatal("expected error for missing signing secret")
	}
}
