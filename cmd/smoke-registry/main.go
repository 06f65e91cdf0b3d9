package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"credvault.org/internal/auth"
	"credvault.org/internal/registry/remote"
)

// Drives one full credential lifecycle against a running API instance.
func main() {
	baseURL := os.Getenv("CREDVAULT_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	adminAddr := os.Getenv("CREDVAULT_ADMIN_ADDRESS")
	if adminAddr == "" {
		adminAddr = "0xAdmin"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	issuerAddr := fmt.Sprintf("0xSmokeIssuer%d", time.Now().Unix())
	holderAddr := fmt.Sprintf("0xSmokeHolder%d", time.Now().Unix())
	verifierAddr := fmt.Sprintf("0xSmokeVerifier%d", time.Now().Unix())

	admin := remote.New(baseURL)
	if _, err := admin.Token(ctx, adminAddr, []string{auth.RoleAdmin}); err != nil {
		log.Fatalf("admin token: %v", err)
	}
	if err := admin.RegisterIssuer(ctx, issuerAddr); err != nil {
		log.Fatalf("register issuer: %v", err)
	}

	issuer := remote.New(baseURL)
	if _, err := issuer.Token(ctx, issuerAddr, []string{auth.RoleIssuer}); err != nil {
		log.Fatalf("issuer token: %v", err)
	}
	issued, err := issuer.Issue(ctx, holderAddr, map[string]string{
		"name":   "Smoke Test",
		"type":   "diploma",
		"course": "Distributed Systems",
		"grade":  "A",
	}, []string{"name", "type"})
	if err != nil {
		log.Fatalf("issue: %v", err)
	}
	cid := issued.Credential.CID

	v, err := issuer.Verify(ctx, cid)
	if err != nil || !v.IsValid {
		log.Fatalf("verify after issue: valid=%v err=%v", v.IsValid, err)
	}

	revoked, err := issuer.RevokeField(ctx, cid, "grade")
	if err != nil {
		log.Fatalf("revoke field: %v", err)
	}
	if revoked.Credential.CID == cid {
		log.Fatal("field revocation did not re-key the credential")
	}
	// The superseded CID must still resolve.
	details, err := issuer.Details(ctx, cid)
	if err != nil || details.CID != revoked.Credential.CID {
		log.Fatalf("alias resolution: %+v err=%v", details, err)
	}

	holder := remote.New(baseURL)
	if _, err := holder.Token(ctx, holderAddr, []string{auth.RoleHolder}); err != nil {
		log.Fatalf("holder token: %v", err)
	}
	if _, err := holder.Share(ctx, revoked.Credential.CID, verifierAddr, []string{"name", "course"}, time.Hour); err != nil {
		log.Fatalf("share: %v", err)
	}

	verifier := remote.New(baseURL)
	if _, err := verifier.Token(ctx, verifierAddr, []string{auth.RoleHolder}); err != nil {
		log.Fatalf("verifier token: %v", err)
	}
	view, err := verifier.SharedView(ctx, revoked.Credential.CID)
	if err != nil {
		log.Fatalf("shared view: %v", err)
	}
	if view["name"] != "Smoke Test" || len(view) != 2 {
		log.Fatalf("unexpected shared view: %v", view)
	}

	if err := issuer.Revoke(ctx, revoked.Credential.CID); err != nil {
		log.Fatalf("revoke: %v", err)
	}
	v, err = verifier.Verify(ctx, revoked.Credential.CID)
	if err != nil || v.IsValid {
		log.Fatalf("verify after revoke: valid=%v err=%v", v.IsValid, err)
	}

	fmt.Printf("✅ registry smoke test passed: cid=%s\n", revoked.Credential.CID)
}
