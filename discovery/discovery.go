// Package discovery resolves user-supplied identifiers to OpenID 2.0
// provider endpoints: identifier normalization, Yadis/XRDS resolution,
// and the HTML link-relation fallback.
package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/relier-id/relier/core"
)

// Service type URIs advertised in XRDS documents.
const (
	serverType = "http://specs.openid.net/auth/2.0/server"
	signonType = "http://specs.openid.net/auth/2.0/signon"
)

const maxDocumentBytes = 1 << 20

// Cache stores discovery results between sign-in attempts.
type Cache interface {
	Get(identifier string) (*core.DiscoveredInfo, bool)
	Put(identifier string, info *core.DiscoveredInfo)
}

// Client performs discovery over HTTP.
type Client struct {
	http  *http.Client
	cache Cache
}

// New creates a discovery client. A nil httpClient uses
// http.DefaultClient; a nil cache disables caching.
func New(httpClient *http.Client, cache Cache) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, cache: cache}
}

// Normalize canonicalizes a user-supplied identifier: scheme defaulting,
// host lowercasing, fragment stripping, empty-path repair. XRIs are not
// supported.
func Normalize(identifier string) (string, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", fmt.Errorf("%w: empty identifier", core.ErrMalformedMessage)
	}
	id = strings.TrimPrefix(id, "xri://")
	if strings.IndexAny(id, "=@+$!") == 0 {
		return "", fmt.Errorf("%w: XRI identifiers are not supported", core.ErrMalformedMessage)
	}
	if !strings.HasPrefix(id, "http://") && !strings.HasPrefix(id, "https://") {
		id = "http://" + id
	}
	u, err := url.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: identifier has no host", core.ErrMalformedMessage)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// Discover resolves an identifier to a provider endpoint. The XRDS
// document wins when the identifier serves one (directly or via the
// X-XRDS-Location header); otherwise the HTML link relations
// openid2.provider and openid2.local_id are used.
func (c *Client) Discover(ctx context.Context, identifier string) (*core.DiscoveredInfo, error) {
	claimedID, err := Normalize(identifier)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if info, ok := c.cache.Get(claimedID); ok {
			return info, nil
		}
	}

	body, contentType, xrdsLocation, err := c.fetch(ctx, claimedID)
	if err != nil {
		return nil, err
	}

	// A Yadis pointer takes priority over the document itself.
	if xrdsLocation != "" && !isXRDS(contentType) {
		body, contentType, _, err = c.fetch(ctx, xrdsLocation)
		if err != nil {
			return nil, err
		}
	}

	var info *core.DiscoveredInfo
	if isXRDS(contentType) {
		info, err = parseXRDS(claimedID, body)
	} else {
		info, err = parseHTML(claimedID, body)
	}
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Put(claimedID, info)
	}
	return info, nil
}

func (c *Client) fetch(ctx context.Context, rawURL string) (body []byte, contentType, xrdsLocation string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("discovery request for %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", "application/xrds+xml, text/html")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("discovery fetch for %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", "", fmt.Errorf("discovery fetch for %s: status %d", rawURL, resp.StatusCode)
	}
	body, err = io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, "", "", fmt.Errorf("discovery read for %s: %w", rawURL, err)
	}
	return body, resp.Header.Get("Content-Type"), resp.Header.Get("X-XRDS-Location"), nil
}

func isXRDS(contentType string) bool {
	return strings.Contains(contentType, "application/xrds+xml")
}

type xrdsDocument struct {
	XMLName xml.Name `xml:"XRDS"`
	XRD     struct {
		Services []xrdsService `xml:"Service"`
	} `xml:"XRD"`
}

type xrdsService struct {
	Types    []string `xml:"Type"`
	URIs     []string `xml:"URI"`
	LocalIDs []string `xml:"LocalID"`
}

func (s xrdsService) hasType(t string) bool {
	for _, st := range s.Types {
		if st == t {
			return true
		}
	}
	return false
}

// parseXRDS picks the provider service from a Yadis document. A server
// service means the identifier names the provider itself and the actual
// identity is selected at the provider (identifier_select); a signon
// service asserts the claimed identifier, optionally delegating to a
// provider-local one.
func parseXRDS(claimedID string, body []byte) (*core.DiscoveredInfo, error) {
	var doc xrdsDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: bad XRDS: %v", core.ErrMalformedMessage, err)
	}

	for _, svc := range doc.XRD.Services {
		if svc.hasType(serverType) && len(svc.URIs) > 0 {
			return &core.DiscoveredInfo{
				Endpoint:     svc.URIs[0],
				ClaimedID:    claimedID,
				OPIdentifier: true,
			}, nil
		}
	}
	for _, svc := range doc.XRD.Services {
		if svc.hasType(signonType) && len(svc.URIs) > 0 {
			info := &core.DiscoveredInfo{
				Endpoint:  svc.URIs[0],
				ClaimedID: claimedID,
			}
			if len(svc.LocalIDs) > 0 {
				info.OPLocalID = svc.LocalIDs[0]
			}
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: no OpenID service in XRDS", core.ErrMalformedMessage)
}

// memoryCache is a TTL cache of discovery results.
type memoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	info    *core.DiscoveredInfo
	expires time.Time
}

// NewMemoryCache creates an in-memory discovery cache with the given
// entry lifetime.
func NewMemoryCache(ttl time.Duration) Cache {
	return &memoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *memoryCache) Get(identifier string) (*core.DiscoveredInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[identifier]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, identifier)
		return nil, false
	}
	return entry.info, true
}

func (c *memoryCache) Put(identifier string, info *core.DiscoveredInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[identifier] = cacheEntry{info: info, expires: c.now().Add(c.ttl)}
}
