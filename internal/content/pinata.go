package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPinataAPI     = "https://api.pinata.cloud"
	defaultPinataGateway = "https://gateway.pinata.cloud"
)

// Pinata pins blobs through the Pinata HTTP API and reads them back through
// an IPFS gateway.
type Pinata struct {
	apiURL     string
	gatewayURL string
	jwt        string
	client     *http.Client
}

// PinataOption customizes the client.
type PinataOption func(*Pinata)

// WithPinataEndpoints overrides the API and gateway base URLs. Used by tests.
func WithPinataEndpoints(apiURL, gatewayURL string) PinataOption {
	return func(p *Pinata) {
		if apiURL != "" {
			p.apiURL = strings.TrimRight(apiURL, "/")
		}
		if gatewayURL != "" {
			p.gatewayURL = strings.TrimRight(gatewayURL, "/")
		}
	}
}

// WithPinataHTTPClient overrides the underlying HTTP client.
func WithPinataHTTPClient(c *http.Client) PinataOption {
	return func(p *Pinata) {
		if c != nil {
			p.client = c
		}
	}
}

// NewPinata builds a client authenticated with a Pinata-issued JWT.
func NewPinata(jwt string, opts ...PinataOption) *Pinata {
	p := &Pinata{
		apiURL:     defaultPinataAPI,
		gatewayURL: defaultPinataGateway,
		jwt:        strings.TrimSpace(jwt),
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GatewayURL returns the public read URL for a pinned CID.
func (p *Pinata) GatewayURL(cid string) string {
	return p.gatewayURL + "/ipfs/" + cid
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

func (p *Pinata) PinFile(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("content: build multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("content: build multipart: %w", err)
	}
	meta, _ := json.Marshal(map[string]any{"name": name})
	if err := mw.WriteField("pinataMetadata", string(meta)); err != nil {
		return "", fmt.Errorf("content: build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("content: build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return p.doPin(req)
}

func (p *Pinata) PinJSON(ctx context.Context, name string, v any) (string, error) {
	content, err := encodeJSON(v)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(map[string]any{
		"pinataMetadata": map[string]any{"name": name},
		"pinataContent":  json.RawMessage(content),
	})
	if err != nil {
		return "", fmt.Errorf("content: encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/pinning/pinJSONToIPFS", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.doPin(req)
}

func (p *Pinata) doPin(req *http.Request) (string, error) {
	req.Header.Set("Authorization", "Bearer "+p.jwt)
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("content: pinata request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("content: pinata returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("content: decode pinata response: %w", err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("content: pinata response missing hash")
	}
	return out.IpfsHash, nil
}

func (p *Pinata) Get(ctx context.Context, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.gatewayURL+"/ipfs/"+cid, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content: gateway request: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("content: gateway returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("content: read gateway body: %w", err)
	}
	return data, nil
}
