package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestVerifyTokenRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Sign("user-1", "pro", time.Hour)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	claims, err := v.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.UserID != "user-1" || claims.Tier != "pro" {
		t.Errorf("claims: %+v", claims)
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Sign("user-1", "free", -time.Minute)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := v.VerifyToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err: got %v, want ErrTokenExpired", err)
	}
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	token, err := NewVerifier("secret-a").Sign("user-1", "free", time.Hour)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := NewVerifier("secret-b").VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err: got %v, want ErrInvalidToken", err)
	}
}

func TestVerifyTokenRejectsUnsignedAlg(t *testing.T) {
	v := NewVerifier("test-secret")

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}
	if _, err := v.VerifyToken(token); err == nil {
		t.Fatal("expected error for alg=none token")
	}
}

func TestVerifyTokenMissingSubject(t *testing.T) {
	v := NewVerifier("test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if _, err := v.VerifyToken(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err: got %v, want ErrInvalidToken", err)
	}
}
