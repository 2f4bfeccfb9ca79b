package cachestore

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"github.com/yl2chen/cidranger"
)

// DefaultExcludedNetworks lists address ranges whose pages are never cached.
var DefaultExcludedNetworks = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
}

var (
	excludedPathParts = []string{"/api/", "/ajax/"}
	excludedSuffixes  = []string{".json", ".xml", ".txt"}
)

// Policy decides which page URLs are eligible for caching.
type Policy struct {
	networks cidranger.Ranger
}

// NewPolicy builds a policy excluding the given CIDR networks.
func NewPolicy(networks []string) (*Policy, error) {
	ranger := cidranger.NewPCTrieRanger()
	for _, raw := range networks {
		_, network, err := net.ParseCIDR(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("new cache policy: parse network %q: %w", raw, err)
		}
		if err := ranger.Insert(cidranger.NewBasicRangerEntry(*network)); err != nil {
			return nil, fmt.Errorf("new cache policy: insert network %q: %w", raw, err)
		}
	}

	return &Policy{networks: ranger}, nil
}

// ShouldCache reports whether results for rawURL may be cached.
//
// Local development hosts, API endpoints and raw data files are excluded.
func (p *Policy) ShouldCache(rawURL string) bool {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Hostname() == "" {
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && p != nil && p.networks != nil {
		excluded, err := p.networks.Contains(ip)
		if err != nil || excluded {
			return false
		}
	}

	lowerPath := strings.ToLower(parsed.EscapedPath())
	for _, part := range excludedPathParts {
		if strings.Contains(lowerPath, part) {
			return false
		}
	}
	extension := path.Ext(lowerPath)
	for _, suffix := range excludedSuffixes {
		if extension == suffix {
			return false
		}
	}

	return true
}
