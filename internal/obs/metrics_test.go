package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/files/QmabcDEF":                 "/v1/files/:hash",
		"/v1/files/QmabcDEF/content":         "/v1/files/:hash/content",
		"/v1/credentials/bafk123":            "/v1/credentials/:cid",
		"/v1/credentials/bafk123/verify":     "/v1/credentials/:cid/verify",
		"/v1/credentials/bafk123/share":      "/v1/credentials/:cid/share",
		"/v1/credentials/bafk123/unknown/x":  "/v1/credentials/bafk123/unknown/x",
		"/v1/shares/received":                "/v1/shares/received",
		"/v1/credentials/bafk123?fields=a,b": "/v1/credentials/:cid",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
