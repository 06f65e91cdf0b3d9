// Package content stores the immutable blobs the registry points at. Every
// blob is addressed by the identifier the backend derives from its bytes, so
// a CID fetched from any store always verifies against the registry entry.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the CID is not pinned in this store.
	ErrNotFound = errors.New("content: not found")
	// ErrEmpty indicates a pin request with no payload.
	ErrEmpty = errors.New("content: empty payload")
)

// Store pins blobs and serves them back by CID.
type Store interface {
	// PinFile pins raw bytes under the given display name and returns the CID.
	PinFile(ctx context.Context, name string, data []byte) (string, error)
	// PinJSON pins the canonical JSON encoding of v and returns the CID.
	PinJSON(ctx context.Context, name string, v any) (string, error)
	// Get returns the bytes pinned under cid.
	Get(ctx context.Context, cid string) ([]byte, error)
}

// Gateway is implemented by stores whose blobs are also reachable through a
// public read URL.
type Gateway interface {
	GatewayURL(cid string) string
}

func encodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("content: encode json: %w", err)
	}
	return data, nil
}
