package discovery

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/relier-id/relier/core"
)

// parseHTML performs HTML-based discovery: <link rel="openid2.provider">
// names the endpoint, <link rel="openid2.local_id"> the delegated
// identifier. The rel attribute is a space-separated token list.
func parseHTML(claimedID string, body []byte) (*core.DiscoveredInfo, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: bad HTML: %v", core.ErrMalformedMessage, err)
	}

	info := &core.DiscoveredInfo{ClaimedID: claimedID}
	walkLinks(doc, func(rel, href string) {
		for _, token := range strings.Fields(rel) {
			switch token {
			case "openid2.provider":
				if info.Endpoint == "" {
					info.Endpoint = href
				}
			case "openid2.local_id":
				if info.OPLocalID == "" {
					info.OPLocalID = href
				}
			}
		}
	})

	if info.Endpoint == "" {
		return nil, fmt.Errorf("%w: no openid2.provider link", core.ErrMalformedMessage)
	}
	return info, nil
}

func walkLinks(n *html.Node, visit func(rel, href string)) {
	if n.Type == html.ElementNode && n.Data == "link" {
		var rel, href string
		for _, attr := range n.Attr {
			switch attr.Key {
			case "rel":
				rel = attr.Val
			case "href":
				href = attr.Val
			}
		}
		if rel != "" && href != "" {
			visit(rel, href)
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walkLinks(child, visit)
	}
}
