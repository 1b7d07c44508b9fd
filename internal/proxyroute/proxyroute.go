// Package proxyroute decides which egress route each upstream call takes:
// the credential's own proxy, the global proxy, or a direct connection.
package proxyroute

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/soragate/soragate/internal/store"
)

// Resolver builds one http.Client per distinct proxy URL and reuses it, so
// connection pools are shared across requests on the same route. Safe for
// concurrent use.
type Resolver struct {
	global  string
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewResolver(globalProxy string, timeout time.Duration) (*Resolver, error) {
	r := &Resolver{
		global:  globalProxy,
		clients: map[string]*http.Client{},
		timeout: timeout,
	}
	// Validate routes up front; a bad proxy URL is a config error, not a
	// per-request one.
	if globalProxy != "" {
		if _, err := r.clientFor(globalProxy); err != nil {
			return nil, err
		}
	}
	if _, err := r.clientFor(""); err != nil {
		return nil, err
	}
	return r, nil
}

// Register validates a credential proxy URL at load time.
func (r *Resolver) Register(proxyURL string) error {
	_, err := r.clientFor(proxyURL)
	return err
}

// ClientFor returns the client for the credential's route. Precedence is
// credential proxy, then global proxy, then direct.
func (r *Resolver) ClientFor(cred store.Credential) *http.Client {
	route := cred.ProxyURL
	if route == "" {
		route = r.global
	}
	c, err := r.clientFor(route)
	if err != nil {
		// Routes are validated at load time; an unknown one falls back to
		// the global route rather than failing the request.
		c, _ = r.clientFor(r.global)
	}
	return c
}

// Direct returns the proxy-less client, for services that sit outside the
// backend's egress routing.
func (r *Resolver) Direct() *http.Client {
	c, _ := r.clientFor("")
	return c
}

func (r *Resolver) clientFor(route string) (*http.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[route]; ok {
		return c, nil
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	if route != "" {
		u, err := url.Parse(route)
		if err != nil {
			return nil, fmt.Errorf("proxy url %q: %w", route, err)
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return nil, fmt.Errorf("proxy url %q: unsupported scheme %q", route, u.Scheme)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	c := &http.Client{Transport: transport, Timeout: r.timeout}
	r.clients[route] = c
	return c, nil
}
