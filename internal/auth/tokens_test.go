package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateAccessToken("dashboard", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.ClientName != "dashboard" {
		t.Errorf("ClientName = %q, want dashboard", claims.ClientName)
	}
	if claims.LongLived {
		t.Error("LongLived = true for access token")
	}
	if claims.ID == "" {
		t.Error("token ID not set")
	}
}

func TestLongLivedToken(t *testing.T) {
	token, err := GenerateLongLivedToken("grafana", testSecret)
	if err != nil {
		t.Fatalf("GenerateLongLivedToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if !claims.LongLived {
		t.Error("LongLived = false")
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining < 9*365*24*time.Hour {
		t.Errorf("expiry only %v away, want years", remaining)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, _ := GenerateAccessToken("dashboard", testSecret, time.Hour)

	if _, err := ParseToken(token, "another-secret-another-secret-xx"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Expired(t *testing.T) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dashboard",
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
		ClientName: "dashboard",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}

	if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ParseToken() error = %v, want ErrTokenExpired", err)
	}
}

func TestParseToken_Garbage(t *testing.T) {
	if _, err := ParseToken("not.a.token", testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}
