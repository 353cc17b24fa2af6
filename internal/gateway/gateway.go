// Package gateway is the inbound boundary of the hosted companion. In
// remote mode it authenticates the mobile user with the shared password
// and forwards chat and model API calls through the tunnel to the desktop.
package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Config holds gateway settings.
type Config struct {
	// RemoteMode enables the gateway; every route 404s without it.
	RemoteMode bool
	// PublicURL is the tunnel URL requests are forwarded to.
	PublicURL string
	// Password is the shared mobile password. Empty rejects every login.
	Password        string
	SessionTTL      time.Duration
	ForwardPrefixes []string
	LoginPerMinute  int
	// TrustedProxyHops is the number of proxies in front of the gateway
	// that append to X-Forwarded-For. Zero keys throttling on the peer
	// address and ignores the header.
	TrustedProxyHops int
}

// DefaultConfig returns the standard settings with remote mode off.
func DefaultConfig() Config {
	return Config{
		SessionTTL:      24 * time.Hour,
		ForwardPrefixes: []string{"/api/chat/", "/api/models/"},
		LoginPerMinute:  10,
	}
}

// Gateway serves login, session checks and forwarding.
type Gateway struct {
	config   Config
	target   *url.URL
	sessions *Sessions
	limiter  *loginLimiter
	proxy    *httputil.ReverseProxy
	logger   *log.Logger
	now      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithLogger(l *log.Logger) Option { return func(g *Gateway) { g.logger = l } }

// WithClock replaces the time source for sessions and throttling.
func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

// WithTransport replaces the transport used for forwarded requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) { g.proxy.Transport = rt }
}

// New creates a Gateway. An empty PublicURL is allowed and makes every
// forwarded request fail with a configuration error.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	def := DefaultConfig()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if len(cfg.ForwardPrefixes) == 0 {
		cfg.ForwardPrefixes = def.ForwardPrefixes
	}
	if cfg.LoginPerMinute <= 0 {
		cfg.LoginPerMinute = def.LoginPerMinute
	}

	g := &Gateway{
		config: cfg,
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "gateway"}),
		now:    time.Now,
	}

	if raw := strings.TrimSpace(cfg.PublicURL); raw != "" {
		target, err := url.Parse(raw)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid public URL %q", raw)
		}
		g.target = target
	}

	g.proxy = &httputil.ReverseProxy{
		Rewrite:        g.rewrite,
		FlushInterval:  -1,
		ModifyResponse: stripResponseHeaders,
		ErrorHandler:   g.upstreamError,
	}

	for _, opt := range opts {
		opt(g)
	}

	g.sessions = NewSessions(cfg.Password, cfg.SessionTTL, g.now)
	g.limiter = newLoginLimiter(cfg.LoginPerMinute, g.now)
	return g, nil
}

// RemoteMode reports whether the gateway is active.
func (g *Gateway) RemoteMode() bool { return g.config.RemoteMode }

// Register mounts the login and forwarding routes on mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", g.handleLogin)
	mux.HandleFunc("PUT /auth/login", g.handleValidateDevice)
	mux.HandleFunc("DELETE /auth/login", g.handleLogout)
	for _, prefix := range g.config.ForwardPrefixes {
		mux.HandleFunc(prefix, g.handleForward)
	}
}
