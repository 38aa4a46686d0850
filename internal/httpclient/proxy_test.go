package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"testing"
)

func testPolicy(mode ProxyMode, proxy string) *proxyPolicy {
	p := newProxyPolicy(mode, nil)
	p.fromEnv = func(*http.Request) (*url.URL, error) {
		return url.Parse(proxy)
	}
	return p
}

func newRequest(t *testing.T, target string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, target, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func TestProxyAutoUsesReachableLoopbackProxy(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	policy := testPolicy(ProxyAuto, "http://"+listener.Addr().String())
	proxy, err := policy.resolve(newRequest(t, "https://shipment.example.com/build"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if proxy == nil || proxy.Host != listener.Addr().String() {
		t.Fatalf("expected proxy %s, got %v", listener.Addr(), proxy)
	}
}

func TestProxyAutoBypassesUnreachableLoopbackProxyOnce(t *testing.T) {
	probes := 0
	policy := testPolicy(ProxyAuto, "http://127.0.0.1:3128")
	policy.probe = func(context.Context, string) bool {
		probes++
		return false
	}

	for i := 0; i < 3; i++ {
		proxy, err := policy.resolve(newRequest(t, "https://shipment.example.com/build"))
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if proxy != nil {
			t.Fatalf("expected proxy to be bypassed, got %v", proxy)
		}
	}
	if probes != 1 {
		t.Fatalf("expected a single probe, got %d", probes)
	}
}

func TestProxyAutoSkipsProxyForLoopbackTargets(t *testing.T) {
	policy := testPolicy(ProxyAuto, "http://proxy.internal:3128")
	proxy, err := policy.resolve(newRequest(t, "http://127.0.0.1:6565/to-upper"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if proxy != nil {
		t.Fatalf("expected loopback target to bypass proxy, got %v", proxy)
	}

	remote, _ := policy.resolve(newRequest(t, "https://shipment.example.com"))
	if remote == nil || remote.Host != "proxy.internal:3128" {
		t.Fatalf("expected remote target to use proxy, got %v", remote)
	}
}

func TestProxyStrictAndDirectModes(t *testing.T) {
	strict := testPolicy(ProxyStrict, "http://127.0.0.1:1")
	if proxy, _ := strict.resolve(newRequest(t, "https://shipment.example.com")); proxy == nil {
		t.Fatalf("expected strict proxy mode to return proxy")
	}

	direct := testPolicy(ProxyDirect, "http://127.0.0.1:1")
	if proxy, _ := direct.resolve(newRequest(t, "https://shipment.example.com")); proxy != nil {
		t.Fatalf("expected direct proxy mode to return nil, got %v", proxy)
	}
}

func TestParseProxyMode(t *testing.T) {
	cases := map[string]ProxyMode{
		"":        ProxyAuto,
		"AUTO":    ProxyAuto,
		"strict":  ProxyStrict,
		" off ":   ProxyDirect,
		"none":    ProxyDirect,
		"unknown": ProxyAuto,
	}
	for raw, want := range cases {
		if got := ParseProxyMode(raw); got != want {
			t.Fatalf("ParseProxyMode(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestProxyHostPortDefaults(t *testing.T) {
	u, _ := url.Parse("socks5://127.0.0.1")
	if got, ok := proxyHostPort(u); !ok || got != "127.0.0.1:1080" {
		t.Fatalf("expected socks default port, got %q %v", got, ok)
	}
	u, _ = url.Parse("ftp://127.0.0.1")
	if _, ok := proxyHostPort(u); ok {
		t.Fatalf("expected unknown scheme without port to be rejected")
	}
}
