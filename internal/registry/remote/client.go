// Package remote is a typed HTTP client for the credvault API. It exists for
// tooling and sibling services that talk to a running instance instead of
// embedding the registry.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"credvault.org/internal/orchestrator"
	"credvault.org/internal/registry"
)

// Client talks to one credvault API instance. Token, if set, is sent as a
// bearer credential on every request.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New builds a client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError mirrors the server's error envelope.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("remote: %d %s", e.Status, e.Message)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&envelope)
		return &apiError{Status: resp.StatusCode, Message: envelope.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode response: %w", err)
	}
	return nil
}

// Token mints a session token for the address and remembers it for
// subsequent calls.
func (c *Client) Token(ctx context.Context, address string, roles []string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, "/v1/auth/token", map[string]any{
		"address": address,
		"roles":   roles,
	}, &out)
	if err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Token, nil
}

// Upload pushes a document and returns the registered record.
func (c *Client) Upload(ctx context.Context, fileName string, data []byte) (orchestrator.UploadResult, error) {
	var out orchestrator.UploadResult
	err := c.call(ctx, http.MethodPost, "/v1/files", map[string]any{
		"file_name": fileName,
		"data":      data,
	}, &out)
	return out, err
}

// Files lists the caller's live documents.
func (c *Client) Files(ctx context.Context) ([]registry.FileRecord, error) {
	var out struct {
		Files []registry.FileRecord `json:"files"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/files", nil, &out)
	return out.Files, err
}

// DeleteFile tombstones a document.
func (c *Client) DeleteFile(ctx context.Context, hash string) error {
	return c.call(ctx, http.MethodDelete, "/v1/files/"+hash, nil, nil)
}

// FetchContent downloads the pinned bytes behind a record.
func (c *Client) FetchContent(ctx context.Context, hash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/files/"+hash+"/content", nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// RegisterIssuer grants issuance rights. Requires an admin token.
func (c *Client) RegisterIssuer(ctx context.Context, address string) error {
	return c.call(ctx, http.MethodPost, "/v1/issuers", map[string]string{"address": address}, nil)
}

// IsIssuer checks registration for an address.
func (c *Client) IsIssuer(ctx context.Context, address string) (bool, error) {
	var out struct {
		IsIssuer bool `json:"is_issuer"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/issuers/"+address, nil, &out)
	return out.IsIssuer, err
}

// Issue creates a credential for the receiver.
func (c *Client) Issue(ctx context.Context, receiver string, metadata map[string]string, mandatoryFields []string) (orchestrator.IssueResult, error) {
	var out orchestrator.IssueResult
	err := c.call(ctx, http.MethodPost, "/v1/credentials", map[string]any{
		"receiver":         receiver,
		"metadata":         metadata,
		"mandatory_fields": mandatoryFields,
	}, &out)
	return out, err
}

// Verify runs the public validity check.
func (c *Client) Verify(ctx context.Context, cid string) (registry.Verification, error) {
	var out registry.Verification
	err := c.call(ctx, http.MethodGet, "/v1/credentials/"+cid+"/verify", nil, &out)
	return out, err
}

// Details fetches the full credential view.
func (c *Client) Details(ctx context.Context, cid string) (registry.CredentialDetails, error) {
	var out registry.CredentialDetails
	err := c.call(ctx, http.MethodGet, "/v1/credentials/"+cid, nil, &out)
	return out, err
}

// AvailableFields lists the shareable field names of a credential.
func (c *Client) AvailableFields(ctx context.Context, cid string) ([]string, error) {
	var out struct {
		Fields []string `json:"fields"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/credentials/"+cid+"/fields", nil, &out)
	return out.Fields, err
}

// RevokeField removes one optional field from a credential.
func (c *Client) RevokeField(ctx context.Context, cid, field string) (orchestrator.RevokeFieldResult, error) {
	var out orchestrator.RevokeFieldResult
	err := c.call(ctx, http.MethodPost, "/v1/credentials/"+cid+"/revoke-field",
		map[string]string{"field": field}, &out)
	return out, err
}

// Revoke invalidates a credential.
func (c *Client) Revoke(ctx context.Context, cid string) error {
	return c.call(ctx, http.MethodPost, "/v1/credentials/"+cid+"/revoke", nil, nil)
}

// Share grants field-scoped access to a recipient.
func (c *Client) Share(ctx context.Context, cid, recipient string, fields []string, duration time.Duration) (orchestrator.ShareResult, error) {
	var out orchestrator.ShareResult
	err := c.call(ctx, http.MethodPost, "/v1/credentials/"+cid+"/share", map[string]any{
		"recipient":        recipient,
		"fields":           fields,
		"duration_seconds": int64(duration / time.Second),
	}, &out)
	return out, err
}

// SharedView reads the filtered metadata the caller was granted.
func (c *Client) SharedView(ctx context.Context, cid string) (map[string]string, error) {
	var out struct {
		Metadata map[string]string `json:"metadata"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/credentials/"+cid+"/shared-view", nil, &out)
	return out.Metadata, err
}

// Portfolio fetches the caller's full read model.
func (c *Client) Portfolio(ctx context.Context) (orchestrator.Portfolio, error) {
	var out orchestrator.Portfolio
	err := c.call(ctx, http.MethodGet, "/v1/portfolio", nil, &out)
	return out, err
}

// Shares lists grants for the caller; direction is "received" or "given".
func (c *Client) Shares(ctx context.Context, direction string) ([]registry.ShareGrant, error) {
	var out struct {
		Grants []registry.ShareGrant `json:"grants"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/shares?direction="+direction, nil, &out)
	return out.Grants, err
}
