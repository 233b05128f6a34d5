package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/keithlinneman/tradesignals-web/internal/log"
)

// requireNonPublicNetwork rejects peers outside loopback, RFC 1918/4193
// private and link-local ranges. It looks only at the TCP peer; forwarding
// headers are ignored because anyone can send them.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := peerAddr(r.RemoteAddr)
		if !ok || !nonPublic(addr) {
			L.Warn(r.Context(), "ops request from public or unparsable peer rejected",
				"network.peer.address", r.RemoteAddr,
				"url.path", r.URL.Path,
			)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func peerAddr(remote string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	// ::ffff:8.8.8.8 must be judged as 8.8.8.8
	return addr.Unmap(), true
}

func nonPublic(a netip.Addr) bool {
	return a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast()
}
