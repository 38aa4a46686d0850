package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"shipment/internal/logging"
)

// ProxyModeEnv selects how outbound requests treat HTTP(S)_PROXY and friends.
const ProxyModeEnv = "SHIPMENT_PROXY_MODE"

// ProxyMode is the proxy policy of a transport.
type ProxyMode string

const (
	// ProxyAuto uses the environment proxy but connects directly to loopback
	// endpoints and skips loopback proxies that do not accept connections.
	ProxyAuto ProxyMode = "auto"
	// ProxyStrict always uses the environment proxy.
	ProxyStrict ProxyMode = "strict"
	// ProxyDirect never uses a proxy.
	ProxyDirect ProxyMode = "direct"
)

const proxyDialTimeout = 300 * time.Millisecond

// ParseProxyMode maps a textual mode onto a ProxyMode, defaulting to auto.
func ParseProxyMode(raw string) ProxyMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return ProxyStrict
	case "direct", "none", "off":
		return ProxyDirect
	default:
		return ProxyAuto
	}
}

type proxyPolicy struct {
	mode    ProxyMode
	fromEnv func(*http.Request) (*url.URL, error)
	probe   func(ctx context.Context, hostPort string) bool
	logger  logging.Logger

	mu        sync.Mutex
	reachable map[string]bool // loopback proxy URL -> accepted a connection
}

func newProxyPolicy(mode ProxyMode, logger logging.Logger) *proxyPolicy {
	return &proxyPolicy{
		mode:      mode,
		fromEnv:   http.ProxyFromEnvironment,
		probe:     dialProbe,
		logger:    logging.OrNop(logger),
		reachable: make(map[string]bool),
	}
}

func proxyFunc(logger logging.Logger) func(*http.Request) (*url.URL, error) {
	return newProxyPolicy(ParseProxyMode(os.Getenv(ProxyModeEnv)), logger).resolve
}

func (p *proxyPolicy) resolve(req *http.Request) (*url.URL, error) {
	switch p.mode {
	case ProxyDirect:
		return nil, nil
	case ProxyStrict:
		return p.fromEnv(req)
	}

	if isLoopbackHost(req.URL.Hostname()) {
		return nil, nil
	}
	proxyURL, err := p.fromEnv(req)
	if err != nil || proxyURL == nil || !isLoopbackHost(proxyURL.Hostname()) {
		return proxyURL, err
	}
	hostPort, ok := proxyHostPort(proxyURL)
	if !ok || p.isReachable(req.Context(), proxyURL, hostPort) {
		return proxyURL, nil
	}
	return nil, nil
}

func (p *proxyPolicy) isReachable(ctx context.Context, proxyURL *url.URL, hostPort string) bool {
	key := proxyURL.String()

	p.mu.Lock()
	defer p.mu.Unlock()
	if reachable, seen := p.reachable[key]; seen {
		return reachable
	}
	reachable := p.probe(ctx, hostPort)
	p.reachable[key] = reachable
	if !reachable {
		p.logger.Warn("Local proxy %s is unreachable; connecting directly (set %s=strict to disable).", proxyURL.Redacted(), ProxyModeEnv)
	}
	return reachable
}

func isLoopbackHost(host string) bool {
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

var defaultProxyPorts = map[string]string{
	"":        "80",
	"http":    "80",
	"https":   "443",
	"socks5":  "1080",
	"socks5h": "1080",
}

func proxyHostPort(proxyURL *url.URL) (string, bool) {
	host := strings.TrimSpace(proxyURL.Hostname())
	if host == "" {
		return "", false
	}
	port := proxyURL.Port()
	if port == "" {
		var ok bool
		if port, ok = defaultProxyPorts[strings.ToLower(proxyURL.Scheme)]; !ok {
			return "", false
		}
	}
	return net.JoinHostPort(host, port), true
}

func dialProbe(ctx context.Context, hostPort string) bool {
	dialer := net.Dialer{Timeout: proxyDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
