package auth

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	t.Setenv("CREDVAULT_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("0xAbCd01", []string{"Issuer", "holder", "issuer"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "0xAbCd01" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if !slices.Contains(claims.Roles, "issuer") || !slices.Contains(claims.Roles, "holder") {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
}

func TestGenerateTokenRequiresAddress(t *testing.T) {
	t.Setenv("CREDVAULT_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	if _, err := GenerateToken("  ", []string{RoleHolder}, time.Minute); err == nil {
		t.Fatal("expected error for blank address")
	}
	if _, err := GenerateToken("0x1", []string{RoleHolder}, 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv("CREDVAULT_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	for _, tok := range []string{"", "not.a.jwt", "a.b"} {
		if _, err := ParseAndValidate(tok); err == nil {
			t.Fatalf("expected rejection for %q", tok)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithWallet(ctx, "0xFeed", []string{"Admin", "Admin", "issuer"})
	addr, ok := AddressFromContext(ctx)
	if !ok || addr != "0xFeed" {
		t.Fatalf("unexpected address: %s, ok=%v", addr, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if !HasRole(ctx, "issuer") || !HasRole(ctx, "admin") {
		t.Fatalf("HasRole missing expected roles: %v", roles)
	}
	if HasRole(ctx, "operator") {
		t.Fatalf("unexpected role found")
	}
}
