// Package clientip resolves the originating client address of a request.
package clientip

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey struct{}

// Resolver picks the client address of a request. X-Forwarded-For and
// X-Real-IP are only honoured when the direct peer is a trusted proxy;
// otherwise the peer address is the client. A nil Resolver trusts nobody.
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver parses trusted proxies given as addresses or CIDR ranges.
func NewResolver(trusted []string) (*Resolver, error) {
	r := &Resolver{}
	for _, entry := range trusted {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			r.trusted = append(r.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return r, nil
}

// EnrichContext stores the resolved client address on the request context.
func (r *Resolver) EnrichContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := context.WithValue(req.Context(), contextKey{}, r.ClientIP(req))
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// Get returns the address stored by EnrichContext, or "" when absent.
func Get(ctx context.Context) string {
	ip, _ := ctx.Value(contextKey{}).(string)
	return ip
}

// ClientIP returns the right-most X-Forwarded-For hop that is not a trusted
// proxy. An unparsable hop ends the walk at the peer address.
func (r *Resolver) ClientIP(req *http.Request) string {
	peer := remoteHost(req.RemoteAddr)
	if !r.isTrusted(peer) {
		return peer
	}

	if xff := req.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			addr, err := netip.ParseAddr(hop)
			if err != nil {
				return peer
			}
			if !r.isTrusted(hop) || i == 0 {
				return addr.Unmap().String()
			}
		}
	}
	if xrip := strings.TrimSpace(req.Header.Get("X-Real-IP")); xrip != "" {
		if addr, err := netip.ParseAddr(xrip); err == nil {
			return addr.Unmap().String()
		}
	}
	return peer
}

func (r *Resolver) isTrusted(host string) bool {
	if r == nil || len(r.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
