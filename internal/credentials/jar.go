// Package credentials keeps provider login cookies in memory and persists
// them to a pluggable backend.
//
// A Jar is loaded once at startup, consulted on every outbound request and
// written back periodically and on Close.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

// ErrNotFound is returned by a Backend that has nothing stored yet.
var ErrNotFound = errors.New("credentials: not found")

// Backend stores one provider's cookies as a "name=value; name=value" string.
type Backend interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, cookies string) error
	fmt.Stringer
}

// Jar is an http.CookieJar bound to one provider origin.
type Jar struct {
	provider models.Provider
	origin   *url.URL
	domain   string
	jar      *cookiejar.Jar
	backend  Backend
	logger   *utils.Logger

	dirty   atomic.Bool
	flushMu sync.Mutex

	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
}

// NewJar builds a jar for origin and loads whatever the backend holds.
// A backend with nothing stored yields an empty jar.
func NewJar(ctx context.Context, provider models.Provider, origin string, backend Backend, logger *utils.Logger) (*Jar, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid cookie origin %q", models.ErrConfiguration, origin)
	}
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = utils.GetLogger()
	}

	j := &Jar{
		provider: provider,
		origin:   u,
		domain:   cookieDomain(u.Hostname()),
		jar:      inner,
		backend:  backend,
		logger:   logger.Named("credentials").With("provider", provider.String(), "backend", backend.String()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := j.load(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

// cookieDomain returns the registrable domain so loaded cookies reach every
// subdomain. IPs and single-label hosts get host-only cookies.
func cookieDomain(host string) string {
	if net.ParseIP(host) != nil {
		return ""
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return d
}

func (j *Jar) load(ctx context.Context) error {
	raw, err := j.backend.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		j.logger.Warn("No stored cookies, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s cookies: %w", j.provider, err)
	}

	cookies := ParseHeader(raw)
	for _, c := range cookies {
		c.Domain = j.domain
		c.Path = "/"
	}
	j.jar.SetCookies(j.origin, cookies)
	j.logger.Info("Loaded cookies", "count", len(cookies))
	return nil
}

// ParseHeader parses "a=b; c=d". Malformed pairs are skipped.
func ParseHeader(raw string) []*http.Cookie {
	var out []*http.Cookie
	for _, part := range strings.Split(strings.TrimSpace(raw), ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := http.ParseCookie(part)
		if err != nil {
			continue
		}
		out = append(out, parsed...)
	}
	return out
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	j.jar.SetCookies(u, cookies)
	j.dirty.Store(true)
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// Get returns the value of the named cookie as sent to the origin.
func (j *Jar) Get(name string) (string, bool) {
	for _, c := range j.jar.Cookies(j.origin) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Header serializes the cookies sent to the origin.
func (j *Jar) Header() string {
	cookies := j.jar.Cookies(j.origin)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Flush writes the cookies back if anything changed since the last flush.
func (j *Jar) Flush(ctx context.Context) error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	if !j.dirty.Swap(false) {
		return nil
	}
	if err := j.backend.Save(ctx, j.Header()); err != nil {
		j.dirty.Store(true)
		return fmt.Errorf("save %s cookies: %w", j.provider, err)
	}
	j.logger.Debug("Flushed cookies")
	return nil
}

// Start flushes every interval until Close.
func (j *Jar) Start(interval time.Duration) {
	if !j.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(j.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-j.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := j.Flush(ctx); err != nil {
					j.logger.Warn("Failed to write cookies back", "error", err)
				}
				cancel()
			}
		}
	}()
}

// Close stops the flush loop and performs a final flush.
func (j *Jar) Close(ctx context.Context) error {
	var err error
	j.closeOnce.Do(func() {
		close(j.stop)
		if j.started.Load() {
			<-j.done
		}
		err = j.Flush(ctx)
	})
	return err
}

// Provider returns the provider this jar belongs to.
func (j *Jar) Provider() models.Provider { return j.provider }
