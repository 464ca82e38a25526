package server

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const (
	ipSourceRemoteAddr    = "remote_addr"
	ipSourceForwardedFor  = "x_forwarded_for"
	ipSourceRealIP        = "x_real_ip"
	ipSourceUntrustedPeer = "untrusted_peer"
)

// clientIPResolver decides whether proxy headers may override the TCP peer
// address. Forwarded headers are honoured only when trust is enabled and,
// if trusted proxies are configured, only when the peer is one of them.
type clientIPResolver struct {
	trustForwarded bool
	trusted        []netip.Prefix
}

func newClientIPResolver(trustForwarded bool, proxies []string) (*clientIPResolver, error) {
	resolver := &clientIPResolver{trustForwarded: trustForwarded}
	for _, raw := range proxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("parse trusted proxy %q: %w", raw, err)
			}
			resolver.trusted = append(resolver.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", raw, err)
		}
		resolver.trusted = append(resolver.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return resolver, nil
}

func (c *clientIPResolver) peerTrusted(peer string) bool {
	if len(c.trusted) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range c.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// resolveClientIP returns the client address for r and which source it came from.
func resolveClientIP(r *http.Request, resolver *clientIPResolver) (string, string) {
	peer := clientIP(r.RemoteAddr)
	if resolver == nil || !resolver.trustForwarded {
		return peer, ipSourceRemoteAddr
	}
	if !resolver.peerTrusted(peer) {
		return peer, ipSourceUntrustedPeer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first, ipSourceForwardedFor
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip, ipSourceRealIP
	}
	return peer, ipSourceRemoteAddr
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
