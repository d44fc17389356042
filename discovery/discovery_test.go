package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relier-id/relier/core"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare host", "Example.COM", "http://example.com/"},
		{"scheme kept", "https://example.com/user", "https://example.com/user"},
		{"fragment stripped", "http://example.com/user#frag", "http://example.com/user"},
		{"whitespace trimmed", "  example.com/me  ", "http://example.com/me"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "=name", "xri://@org"} {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, core.ErrMalformedMessage, "input %q", in)
	}
}

const xrdsSignon = `<?xml version="1.0" encoding="UTF-8"?>
<xrds:XRDS xmlns:xrds="xri://$xrds" xmlns="xri://$xrd*($v*2.0)">
  <XRD>
    <Service priority="0">
      <Type>http://specs.openid.net/auth/2.0/signon</Type>
      <URI>https://op.example.com/openid</URI>
      <LocalID>https://op.example.com/users/dimitrij</LocalID>
    </Service>
  </XRD>
</xrds:XRDS>`

const xrdsServer = `<?xml version="1.0" encoding="UTF-8"?>
<xrds:XRDS xmlns:xrds="xri://$xrds" xmlns="xri://$xrd*($v*2.0)">
  <XRD>
    <Service priority="0">
      <Type>http://specs.openid.net/auth/2.0/server</Type>
      <URI>https://op.example.com/openid</URI>
    </Service>
  </XRD>
</xrds:XRDS>`

func TestDiscoverXRDSSignon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xrds+xml")
		w.Write([]byte(xrdsSignon))
	}))
	defer srv.Close()

	c := New(srv.Client(), nil)
	info, err := c.Discover(context.Background(), srv.URL+"/dimitrij")
	require.NoError(t, err)

	assert.Equal(t, "https://op.example.com/openid", info.Endpoint)
	assert.Equal(t, "https://op.example.com/users/dimitrij", info.OPLocalID)
	assert.False(t, info.OPIdentifier)
}

func TestDiscoverXRDSServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xrds+xml")
		w.Write([]byte(xrdsServer))
	}))
	defer srv.Close()

	c := New(srv.Client(), nil)
	info, err := c.Discover(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.True(t, info.OPIdentifier, "server service selects the identity at the provider")
	assert.Equal(t, "https://op.example.com/openid", info.Endpoint)
}

func TestDiscoverYadisLocationHeader(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/id", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-XRDS-Location", srv.URL+"/xrds")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head></head><body>profile page</body></html>"))
	})
	mux.HandleFunc("/xrds", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xrds+xml")
		w.Write([]byte(xrdsSignon))
	})

	c := New(srv.Client(), nil)
	info, err := c.Discover(context.Background(), srv.URL+"/id")
	require.NoError(t, err)

	assert.Equal(t, "https://op.example.com/openid", info.Endpoint)
}

func TestDiscoverHTMLFallback(t *testing.T) {
	page := `<html><head>
<link rel="openid2.provider" href="https://op.example.com/openid">
<link rel="openid2.local_id" href="https://op.example.com/users/dimitrij">
</head><body></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	c := New(srv.Client(), nil)
	info, err := c.Discover(context.Background(), srv.URL+"/dimitrij")
	require.NoError(t, err)

	assert.Equal(t, "https://op.example.com/openid", info.Endpoint)
	assert.Equal(t, "https://op.example.com/users/dimitrij", info.OPLocalID)
}

func TestDiscoverHTMLWithoutProviderLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head></head><body>nothing here</body></html>"))
	}))
	defer srv.Close()

	c := New(srv.Client(), nil)
	_, err := c.Discover(context.Background(), srv.URL)
	assert.ErrorIs(t, err, core.ErrMalformedMessage)
}

func TestDiscoverUsesCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/xrds+xml")
		w.Write([]byte(xrdsSignon))
	}))
	defer srv.Close()

	c := New(srv.Client(), NewMemoryCache(time.Minute))

	_, err := c.Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	_, err = c.Discover(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, 1, hits)
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache(time.Minute).(*memoryCache)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Put("http://example.com/", &core.DiscoveredInfo{Endpoint: "https://op.example.com/openid"})

	_, ok := cache.Get("http://example.com/")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get("http://example.com/")
	assert.False(t, ok)
}
