package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	cid, err := store.PinFile(ctx, "diploma.pdf", []byte("hello"))
	if err != nil {
		t.Fatalf("PinFile: %v", err)
	}
	again, err := store.PinFile(ctx, "copy.pdf", []byte("hello"))
	if err != nil {
		t.Fatalf("PinFile: %v", err)
	}
	if cid != again {
		t.Fatalf("identical bytes produced different CIDs: %s vs %s", cid, again)
	}
	if store.Len() != 1 {
		t.Fatalf("duplicate pin created a second blob, len=%d", store.Len())
	}

	data, err := store.Get(ctx, cid)
	if err != nil || string(data) != "hello" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.PinFile(ctx, "empty", nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestMemoryPinJSON(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	cid, err := store.PinJSON(ctx, "meta", map[string]string{"name": "Alice"})
	if err != nil {
		t.Fatalf("PinJSON: %v", err)
	}
	data, err := store.Get(ctx, cid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil || out["name"] != "Alice" {
		t.Fatalf("unexpected payload %q: %v", data, err)
	}
}

func TestPinataPinAndGet(t *testing.T) {
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /pinning/pinFileToIPFS", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-jwt" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"IpfsHash": "QmFile1"})
	})
	mux.HandleFunc("POST /pinning/pinJSONToIPFS", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PinataContent map[string]string `json:"pinataContent"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PinataContent["name"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"IpfsHash": "QmJSON1"})
	})
	mux.HandleFunc("GET /ipfs/QmFile1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPinata("test-jwt", WithPinataEndpoints(srv.URL, srv.URL), WithPinataHTTPClient(srv.Client()))

	cid, err := p.PinFile(ctx, "doc.pdf", []byte("payload"))
	if err != nil || cid != "QmFile1" {
		t.Fatalf("PinFile = %s, %v", cid, err)
	}
	cid, err = p.PinJSON(ctx, "meta", map[string]string{"name": "Alice"})
	if err != nil || cid != "QmJSON1" {
		t.Fatalf("PinJSON = %s, %v", cid, err)
	}
	data, err := p.Get(ctx, "QmFile1")
	if err != nil || string(data) != "payload" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	if _, err := p.Get(ctx, "QmMissing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPinataSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewPinata("test-jwt", WithPinataEndpoints(srv.URL, srv.URL))
	if _, err := p.PinFile(context.Background(), "doc", []byte("x")); err == nil {
		t.Fatal("expected error from non-200 response")
	}
}

type countingStore struct {
	Store
	gets atomic.Int64
}

func (c *countingStore) Get(ctx context.Context, cid string) ([]byte, error) {
	c.gets.Add(1)
	return c.Store.Get(ctx, cid)
}

func TestCachedAvoidsRepeatFetches(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: NewMemory()}
	cached, err := NewCached(backing, 8)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}

	cid, err := cached.PinFile(ctx, "doc", []byte("cached-bytes"))
	if err != nil {
		t.Fatalf("PinFile: %v", err)
	}
	for i := 0; i < 3; i++ {
		data, err := cached.Get(ctx, cid)
		if err != nil || string(data) != "cached-bytes" {
			t.Fatalf("Get = %q, %v", data, err)
		}
	}
	if got := backing.gets.Load(); got != 0 {
		t.Fatalf("pinned blob should be served from cache, backend hit %d times", got)
	}

	// Misses fall through once and then stick.
	other, _ := backing.Store.(*Memory).PinFile(ctx, "other", []byte("other-bytes"))
	for i := 0; i < 3; i++ {
		if _, err := cached.Get(ctx, other); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if got := backing.gets.Load(); got != 1 {
		t.Fatalf("expected exactly one backend fetch, got %d", got)
	}
}

func TestGatewayURLPassthrough(t *testing.T) {
	p := NewPinata("jwt", WithPinataEndpoints("http://api.test", "http://gw.test"))
	cached, err := NewCached(p, 4)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	if got := cached.GatewayURL("bafk1"); got != "http://gw.test/ipfs/bafk1" {
		t.Fatalf("unexpected gateway url: %s", got)
	}

	mem, err := NewCached(NewMemory(), 4)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	if got := mem.GatewayURL("bafk1"); got != "" {
		t.Fatalf("memory store should expose no gateway url, got %q", got)
	}
}
