package egress

import (
	"net"
	"net/http"
	"strings"

	"github.com/aishah914/smolpc-gimp/internal/llm"
)

// LocalOnlyRoundTripper keeps model traffic on the machine. Requests are allowed
// to loopback addresses and to hosts named in Allowlist.
type LocalOnlyRoundTripper struct {
	Base      http.RoundTripper
	Allowlist map[string]bool
}

func NewLocalOnlyRoundTripper(base http.RoundTripper, hosts []string) *LocalOnlyRoundTripper {
	allowlist := make(map[string]bool, len(hosts))
	for _, host := range hosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			allowlist[host] = true
		}
	}
	return &LocalOnlyRoundTripper{Base: base, Allowlist: allowlist}
}

func (rt *LocalOnlyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, llm.ErrEgressBlocked
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, llm.ErrEgressBlocked
	}
	host := strings.ToLower(req.URL.Hostname())
	if host == "" {
		return nil, llm.ErrEgressBlocked
	}
	if !IsLoopback(host) && !rt.Allowlist[host] {
		return nil, llm.ErrEgressBlocked
	}
	base := rt.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func IsLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
