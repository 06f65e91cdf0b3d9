package content

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached wraps a Store with an in-process LRU over Get. Blobs are
// content-addressed and immutable, so cached entries never go stale.
type Cached struct {
	inner Store
	cache *lru.Cache[string, []byte]
}

// NewCached wraps inner with an LRU holding up to size blobs.
func NewCached(inner Store, size int) (*Cached, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) PinFile(ctx context.Context, name string, data []byte) (string, error) {
	cid, err := c.inner.PinFile(ctx, name, data)
	if err != nil {
		return "", err
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	c.cache.Add(cid, stored)
	return cid, nil
}

func (c *Cached) PinJSON(ctx context.Context, name string, v any) (string, error) {
	cid, err := c.inner.PinJSON(ctx, name, v)
	if err != nil {
		return "", err
	}
	// Do not prime the cache here: the backend may wrap JSON pins, so the
	// bytes served back for this CID are its to define.
	return cid, nil
}

// GatewayURL forwards to the backend when it exposes public read URLs.
func (c *Cached) GatewayURL(cid string) string {
	if g, ok := c.inner.(Gateway); ok {
		return g.GatewayURL(cid)
	}
	return ""
}

func (c *Cached) Get(ctx context.Context, cid string) ([]byte, error) {
	if data, ok := c.cache.Get(cid); ok {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	data, err := c.inner.Get(ctx, cid)
	if err != nil {
		return nil, err
	}
	c.cache.Add(cid, data)
	return data, nil
}
