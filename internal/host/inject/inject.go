// Package inject adds tracker credentials to outgoing host requests.
//
// Credentials are installed per URL filter of the form protocol://host/*.
// The Transport looks up the most recently installed filter matching a
// request and sets exactly one of the Authorization or Cookie headers. A
// request in cookie mode without a cookie is cancelled before any bytes
// leave the process.
package inject

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/trackerbridge/internal/shared/hostaddr"
)

var (
	// ErrRequestCancelled is returned for cookie-mode requests while no
	// cookie is available.
	ErrRequestCancelled = errors.New("request cancelled: tracker cookie not available")
	ErrInvalidFilter    = errors.New("invalid url filter")
)

// Credentials are the values injected into matching requests.
type Credentials struct {
	Token      string
	Cookie     string
	CookieMode bool
}

// Apply sets the credential headers on h.
func (c Credentials) Apply(h http.Header) error {
	if c.CookieMode {
		if c.Cookie == "" {
			return ErrRequestCancelled
		}
		h.Set("Cookie", c.Cookie)
		h.Del("Authorization")
		return nil
	}
	if c.Token != "" {
		h.Set("Authorization", c.Token)
	}
	return nil
}

// Filter matches request URLs against a protocol://host/path pattern. A
// host without a port matches any port; "*" as host matches every host.
type Filter struct {
	raw    string
	scheme string
	host   string
	path   string
}

// ParseFilter parses a filter such as "https://tracker.example.com/*".
func ParseFilter(raw string) (Filter, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" || rest == "" {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, raw)
	}

	host, path := rest, "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host, path = rest[:i], rest[i:]
	}
	if host == "" {
		return Filter{}, fmt.Errorf("%w: %q has no host", ErrInvalidFilter, raw)
	}
	if strings.HasSuffix(path, "/*") {
		path = strings.TrimSuffix(path, "*") + "**"
	}
	if !doublestar.ValidatePattern(path) {
		return Filter{}, fmt.Errorf("%w: bad path pattern in %q", ErrInvalidFilter, raw)
	}

	return Filter{
		raw:    raw,
		scheme: strings.ToLower(scheme),
		host:   strings.ToLower(host),
		path:   path,
	}, nil
}

func (f Filter) String() string { return f.raw }

// Matches reports whether u falls under the filter.
func (f Filter) Matches(u *url.URL) bool {
	if u == nil || !strings.EqualFold(u.Scheme, f.scheme) {
		return false
	}

	switch {
	case f.host == "*":
	case strings.Contains(f.host, ":"):
		if strings.ToLower(u.Host) != f.host {
			return false
		}
	default:
		if strings.ToLower(u.Hostname()) != f.host {
			return false
		}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	ok, err := doublestar.Match(f.path, path)
	return err == nil && ok
}

type slot struct {
	filter Filter
	creds  Credentials
}

// Registry holds the installed credential slots. It is safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	slots []slot // oldest first
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Install sets the credentials for filter. Installing an existing filter
// replaces its credentials and makes it the most recent.
func (r *Registry) Install(filter string, creds Credentials) error {
	f, err := ParseFilter(filter)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(filter)
	r.slots = append(r.slots, slot{filter: f, creds: creds})
	return nil
}

// Uninstall removes filter and reports whether it was installed.
func (r *Registry) Uninstall(filter string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(filter)
}

func (r *Registry) remove(filter string) bool {
	for i, s := range r.slots {
		if s.filter.raw == filter {
			r.slots = append(r.slots[:i], r.slots[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup returns the credentials of the most recently installed filter
// matching u.
func (r *Registry) Lookup(u *url.URL) (Credentials, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.slots) - 1; i >= 0; i-- {
		if r.slots[i].filter.Matches(u) {
			return r.slots[i].creds, true
		}
	}
	return Credentials{}, false
}

// Len returns the number of installed filters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// InstallAuthInjection parses the configured tracker host and installs creds
// for its protocol://host/* filter.
func InstallAuthInjection(r *Registry, host string, creds Credentials) (hostaddr.Address, error) {
	addr, err := hostaddr.Parse(host)
	if err != nil {
		return hostaddr.Address{}, fmt.Errorf("install auth injection: %w", err)
	}
	if err := r.Install(addr.Filter(), creds); err != nil {
		return hostaddr.Address{}, fmt.Errorf("install auth injection: %w", err)
	}
	return addr, nil
}

type registryKey struct{}

// WithRegistry returns a context whose requests resolve credentials from r
// instead of the transport's own registry.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, r)
}

// RegistryFrom returns the registry carried by ctx, if any.
func RegistryFrom(ctx context.Context) (*Registry, bool) {
	r, ok := ctx.Value(registryKey{}).(*Registry)
	return r, ok && r != nil
}

// Transport wraps an http.RoundTripper and injects credentials from a
// Registry. A registry attached to the request context takes precedence.
type Transport struct {
	base     http.RoundTripper
	registry *Registry
}

// NewTransport wraps base. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, registry *Registry) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, registry: registry}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	registry := t.registry
	if r, ok := RegistryFrom(req.Context()); ok {
		registry = r
	}
	creds, ok := registry.Lookup(req.URL)
	if !ok {
		return t.base.RoundTrip(req)
	}

	out := req.Clone(req.Context())
	if err := creds.Apply(out.Header); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return t.base.RoundTrip(out)
}
