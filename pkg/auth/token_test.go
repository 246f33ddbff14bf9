package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/posflow/pkg/config"
	"github.com/angelmondragon/posflow/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "posflow",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseOperatorToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()

	token, err := MintOperatorToken(cfg, now, OperatorTokenPayload{
		OperatorID: "op-17",
		TerminalID: "till-1",
		Role:       enums.OperatorRoleSupervisor,
		JTI:        "fixed-jti",
	})
	if err != nil {
		t.Fatalf("mint operator token: %v", err)
	}

	claims, err := ParseOperatorToken(cfg, token)
	if err != nil {
		t.Fatalf("parse operator token: %v", err)
	}
	if claims.OperatorID != "op-17" || claims.TerminalID != "till-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Role != enums.OperatorRoleSupervisor {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.ID != "fixed-jti" || claims.Subject != "op-17" {
		t.Fatalf("registered claims not preserved: %+v", claims.RegisteredClaims)
	}
}

func TestMintOperatorTokenValidation(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now()

	if _, err := MintOperatorToken(cfg, now, OperatorTokenPayload{Role: enums.OperatorRoleCashier}); err == nil {
		t.Fatalf("expected missing operator error")
	}
	if _, err := MintOperatorToken(cfg, now, OperatorTokenPayload{OperatorID: "op", Role: "manager"}); err == nil {
		t.Fatalf("expected invalid role error")
	}
	bad := cfg
	bad.Secret = ""
	if _, err := MintOperatorToken(bad, now, OperatorTokenPayload{OperatorID: "op", Role: enums.OperatorRoleCashier}); err == nil {
		t.Fatalf("expected secret error")
	}
}

func TestParseOperatorTokenRejectsExpiredAndForeign(t *testing.T) {
	cfg := testJWTConfig()
	payload := OperatorTokenPayload{OperatorID: "op", Role: enums.OperatorRoleCashier}

	expired, err := MintOperatorToken(cfg, time.Now().Add(-2*time.Hour), payload)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseOperatorToken(cfg, expired); err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expiry error, got %v", err)
	}

	token, err := MintOperatorToken(cfg, time.Now(), payload)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	other := cfg
	other.Issuer = "someone-else"
	if _, err := ParseOperatorToken(other, token); err == nil {
		t.Fatalf("expected issuer mismatch")
	}
	other = cfg
	other.Secret = "rotated"
	if _, err := ParseOperatorToken(other, token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}
