package crypto_test

import (
	"errors"
	"testing"
	"time"

	"github.com/godamri/helix-triggers/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestDeriveKey(t *testing.T) {
	a := crypto.DeriveKey("event:chg_1", "RESTAURANT_UPDATE", "r1")
	b := crypto.DeriveKey("event:chg_1", "RESTAURANT_UPDATE", "r1")
	if a != b {
		t.Fatalf("DeriveKey not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64 hex chars", len(a))
	}
	if crypto.DeriveKey("ab", "c") == crypto.DeriveKey("a", "bc") {
		t.Error("part boundaries must change the key")
	}
	if crypto.DeriveKey("event:chg_1") == crypto.DeriveKey("event:chg_2") {
		t.Error("different events must not share a key")
	}
}

func TestHMACVerifier(t *testing.T) {
	v, err := crypto.NewHMACVerifier(crypto.JWTConfig{Secret: testSecret, Issuer: "gateway"})
	if err != nil {
		t.Fatalf("NewHMACVerifier: %v", err)
	}

	token, err := v.Sign("u1", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := v.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Subject != "u1" {
		t.Errorf("Subject = %q, want u1", claims.Subject)
	}
	if claims.GetActorType() != "human" {
		t.Errorf("ActorType = %q, want human", claims.GetActorType())
	}

	expired, err := v.Sign("u1", -time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := v.VerifyToken(expired); !errors.Is(err, crypto.ErrExpiredToken) {
		t.Errorf("expired token err = %v, want ErrExpiredToken", err)
	}

	other, _ := crypto.NewHMACVerifier(crypto.JWTConfig{Secret: testSecret + "x", Issuer: "gateway"})
	forged, _ := other.Sign("u1", time.Minute)
	if _, err := v.VerifyToken(forged); !errors.Is(err, crypto.ErrInvalidToken) {
		t.Errorf("forged token err = %v, want ErrInvalidToken", err)
	}
}

func TestHMACVerifierRejectsShortSecret(t *testing.T) {
	if _, err := crypto.NewHMACVerifier(crypto.JWTConfig{Secret: "short"}); err == nil {
		t.Fatal("expected error for short secret")
	}
}
