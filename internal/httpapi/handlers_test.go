package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"credvault.org/internal/auth"
	"credvault.org/internal/chain"
	"credvault.org/internal/content"
	"credvault.org/internal/orchestrator"
	"credvault.org/internal/registry"
	"credvault.org/internal/stream"
	"credvault.org/internal/wallet"
)

const (
	adminAddr    = "0xAdmin"
	issuerAddr   = "0xIssuer"
	holderAddr   = "0xHolder"
	verifierAddr = "0xVerifier"
)

type apiClient struct {
	t   *testing.T
	srv *httptest.Server
}

func newAPIClient(t *testing.T) *apiClient {
	t.Helper()
	t.Setenv("CREDVAULT_AUTH_SECRET", "handler-test-secret")
	auth.ResetSecretForTests()

	reg := registry.NewInMemory(adminAddr)
	broker := stream.NewBroker()
	orch := orchestrator.New(reg, content.NewMemory(), chain.NewClient(), broker)
	session := wallet.NewSession(wallet.StaticProvider{holderAddr})
	api := New(orch, reg, session, broker, "test")

	srv := httptest.NewServer(Chain(api.Routes(), 1<<20, "", 0, 0))
	t.Cleanup(srv.Close)
	return &apiClient{t: t, srv: srv}
}

func (c *apiClient) token(address string, roles ...string) string {
	c.t.Helper()
	token, err := auth.GenerateToken(address, roles, time.Hour)
	if err != nil {
		c.t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, reader)
	if err != nil {
		c.t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.srv.Client().Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, want, body)
	}
}

func TestHealthAndInfo(t *testing.T) {
	c := newAPIClient(t)

	resp := c.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)
	out := decode[map[string]string](t, resp)
	if out["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", out)
	}

	resp = c.do(http.MethodGet, "/v1/info", "", nil)
	expectStatus(t, resp, http.StatusOK)
	info := decode[map[string]any](t, resp)
	if info["service"] != "credvault" || info["version"] != "test" {
		t.Fatalf("unexpected info: %v", info)
	}
}

func TestAuthRequired(t *testing.T) {
	c := newAPIClient(t)

	resp := c.do(http.MethodGet, "/v1/files", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// A holder token cannot issue.
	resp = c.do(http.MethodPost, "/v1/credentials", c.token(holderAddr, auth.RoleHolder), map[string]any{
		"receiver": holderAddr,
		"metadata": map[string]string{"name": "x"},
	})
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestUploadListFetchDelete(t *testing.T) {
	c := newAPIClient(t)
	holder := c.token(holderAddr, auth.RoleHolder)

	resp := c.do(http.MethodPost, "/v1/files", holder, map[string]any{
		"file_name": "diploma.pdf",
		"data":      []byte("pdf-bytes"),
	})
	expectStatus(t, resp, http.StatusCreated)
	up := decode[struct {
		MetadataCID string `json:"metadata_cid"`
		TxHash      string `json:"tx_hash"`
	}](t, resp)
	if up.MetadataCID == "" || up.TxHash == "" {
		t.Fatalf("incomplete upload response: %+v", up)
	}

	resp = c.do(http.MethodGet, "/v1/files", holder, nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[struct {
		Files []registry.FileRecord `json:"files"`
	}](t, resp)
	if len(list.Files) != 1 || list.Files[0].Hash != up.MetadataCID {
		t.Fatalf("unexpected listing: %+v", list.Files)
	}

	resp = c.do(http.MethodGet, "/v1/files/"+up.MetadataCID+"/content", holder, nil)
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(body) == 0 {
		t.Fatal("empty document content")
	}

	// Only the owner may delete.
	resp = c.do(http.MethodDelete, "/v1/files/"+up.MetadataCID, c.token(verifierAddr, auth.RoleHolder), nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/files/"+up.MetadataCID, holder, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/files/"+up.MetadataCID, holder, nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestCredentialLifecycleOverHTTP(t *testing.T) {
	c := newAPIClient(t)
	admin := c.token(adminAddr, auth.RoleAdmin)
	issuer := c.token(issuerAddr, auth.RoleIssuer)
	holder := c.token(holderAddr, auth.RoleHolder)
	verifier := c.token(verifierAddr, auth.RoleHolder)

	resp := c.do(http.MethodPost, "/v1/issuers", admin, map[string]string{"address": issuerAddr})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/issuers/"+issuerAddr, "", nil)
	expectStatus(t, resp, http.StatusOK)
	check := decode[map[string]any](t, resp)
	if check["is_issuer"] != true {
		t.Fatalf("issuer not registered: %v", check)
	}

	resp = c.do(http.MethodPost, "/v1/credentials", issuer, map[string]any{
		"receiver":         holderAddr,
		"metadata":         map[string]string{"name": "Alice", "type": "diploma", "course": "Physics", "grade": "A"},
		"mandatory_fields": []string{"name", "type"},
	})
	expectStatus(t, resp, http.StatusCreated)
	issued := decode[struct {
		Credential registry.Credential `json:"credential"`
	}](t, resp)
	cid := issued.Credential.CID
	if cid == "" {
		t.Fatal("missing credential cid")
	}

	// Verification is public.
	resp = c.do(http.MethodGet, "/v1/credentials/"+cid+"/verify", "", nil)
	expectStatus(t, resp, http.StatusOK)
	v := decode[registry.Verification](t, resp)
	if !v.IsValid || v.Issuer != issuerAddr {
		t.Fatalf("unexpected verification: %+v", v)
	}

	// Field revocation re-keys; the old CID still resolves.
	resp = c.do(http.MethodPost, "/v1/credentials/"+cid+"/revoke-field", issuer, map[string]string{"field": "grade"})
	expectStatus(t, resp, http.StatusOK)
	revoked := decode[struct {
		Credential registry.Credential `json:"credential"`
	}](t, resp)
	newCID := revoked.Credential.CID
	if newCID == cid {
		t.Fatal("credential was not re-keyed")
	}
	resp = c.do(http.MethodGet, "/v1/credentials/"+cid, "", nil)
	expectStatus(t, resp, http.StatusOK)
	details := decode[registry.CredentialDetails](t, resp)
	if details.CID != newCID {
		t.Fatalf("alias not followed: %+v", details)
	}

	// Share and read back the filtered view.
	resp = c.do(http.MethodPost, "/v1/credentials/"+newCID+"/share", holder, map[string]any{
		"recipient":        verifierAddr,
		"fields":           []string{"name", "course"},
		"duration_seconds": 3600,
	})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/credentials/"+newCID+"/shared-view", verifier, nil)
	expectStatus(t, resp, http.StatusOK)
	view := decode[struct {
		Metadata map[string]string `json:"metadata"`
	}](t, resp)
	if view.Metadata["name"] != "Alice" || view.Metadata["course"] != "Physics" {
		t.Fatalf("unexpected shared view: %v", view.Metadata)
	}
	if _, leaked := view.Metadata["type"]; leaked {
		t.Fatal("ungranted field leaked through shared view")
	}

	resp = c.do(http.MethodGet, "/v1/shares?direction=given", holder, nil)
	expectStatus(t, resp, http.StatusOK)
	given := decode[struct {
		Grants []registry.ShareGrant `json:"grants"`
	}](t, resp)
	if len(given.Grants) != 1 || given.Grants[0].Recipient != verifierAddr {
		t.Fatalf("unexpected grants: %+v", given.Grants)
	}

	// Identical re-share is a conflict.
	resp = c.do(http.MethodPost, "/v1/credentials/"+newCID+"/share", holder, map[string]any{
		"recipient":        verifierAddr,
		"fields":           []string{"name"},
		"duration_seconds": 3600,
	})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// Full revocation, then the verifier sees an invalid credential.
	resp = c.do(http.MethodPost, "/v1/credentials/"+newCID+"/revoke", issuer, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/credentials/"+newCID+"/verify", "", nil)
	expectStatus(t, resp, http.StatusOK)
	v = decode[registry.Verification](t, resp)
	if v.IsValid {
		t.Fatal("revoked credential still verifies")
	}
}

func TestWalletSessionEndpoints(t *testing.T) {
	c := newAPIClient(t)

	resp := c.do(http.MethodGet, "/v1/wallet", "", nil)
	expectStatus(t, resp, http.StatusOK)
	state := decode[map[string]any](t, resp)
	if state["connected"] != false {
		t.Fatalf("expected disconnected session: %v", state)
	}

	resp = c.do(http.MethodPost, "/v1/wallet/connect", "", nil)
	expectStatus(t, resp, http.StatusOK)
	state = decode[map[string]any](t, resp)
	if state["connected"] != true || state["address"] != holderAddr {
		t.Fatalf("unexpected connect result: %v", state)
	}

	resp = c.do(http.MethodPost, "/v1/wallet/disconnect", "", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/wallet/refresh", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestUnknownFieldsRejected(t *testing.T) {
	c := newAPIClient(t)
	holder := c.token(holderAddr, auth.RoleHolder)

	resp := c.do(http.MethodPost, "/v1/files", holder, map[string]any{
		"file_name": "x",
		"data":      []byte("y"),
		"surprise":  true,
	})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestTokenEndpoint(t *testing.T) {
	c := newAPIClient(t)

	resp := c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"address": holderAddr,
		"roles":   []string{auth.RoleHolder},
	})
	expectStatus(t, resp, http.StatusOK)
	tok := decode[tokenResponse](t, resp)
	if tok.Token == "" || tok.Address != holderAddr {
		t.Fatalf("unexpected token response: %+v", tok)
	}

	claims, err := auth.ParseAndValidate(tok.Token)
	if err != nil || claims.Subject != holderAddr {
		t.Fatalf("minted token invalid: %v", err)
	}

	resp = c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{"address": " "})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestPortfolioEndpoint(t *testing.T) {
	c := newAPIClient(t)
	holder := c.token(holderAddr, auth.RoleHolder)

	resp := c.do(http.MethodGet, "/v1/portfolio", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/files", holder, map[string]any{
		"file_name": "notes.txt",
		"data":      []byte("plain notes"),
	})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/portfolio", holder, nil)
	expectStatus(t, resp, http.StatusOK)
	p := decode[orchestrator.Portfolio](t, resp)
	if len(p.Uploaded) != 1 || len(p.Received) != 0 {
		t.Fatalf("unexpected portfolio: %+v", p)
	}
}
