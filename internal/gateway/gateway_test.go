package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTestGateway(t *testing.T, cfg Config, opts ...Option) (*Gateway, http.Handler) {
	t.Helper()
	opts = append([]Option{WithLogger(log.New(io.Discard))}, opts...)
	g, err := New(cfg, opts...)
	require.NoError(t, err)

	mux := http.NewServeMux()
	g.Register(mux)
	mux.Handle("/", g.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "page "+r.URL.Path)
	})))
	return g, mux
}

func remoteConfig(publicURL string) Config {
	cfg := DefaultConfig()
	cfg.RemoteMode = true
	cfg.PublicURL = publicURL
	cfg.Password = "secret123"
	return cfg
}

func do(h http.Handler, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func login(t *testing.T, h http.Handler) *http.Cookie {
	t.Helper()
	rec := do(h, http.MethodPost, "/auth/login", `{"password":"secret123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func TestLogin(t *testing.T) {
	_, h := newTestGateway(t, remoteConfig("https://abc123.ngrok.app"))

	t.Run("success sets session cookie", func(t *testing.T) {
		rec := do(h, http.MethodPost, "/auth/login", `{"password":"secret123"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Len(t, body["deviceToken"], 64)
		assert.NotEmpty(t, body["tokenHash"])

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		c := cookies[0]
		assert.Equal(t, CookieName, c.Name)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, "/", c.Path)
		assert.Equal(t, int((24 * time.Hour).Seconds()), c.MaxAge)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := do(h, http.MethodPost, "/auth/login", `{"password":"nope"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid password", decode(t, rec)["error"])
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("missing password", func(t *testing.T) {
		rec := do(h, http.MethodPost, "/auth/login", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Password required", decode(t, rec)["error"])
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(h, http.MethodPost, "/auth/login", `{"password":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogin_UnconfiguredPasswordRejectsAll(t *testing.T) {
	cfg := remoteConfig("https://abc123.ngrok.app")
	cfg.Password = ""
	_, h := newTestGateway(t, cfg)

	for _, pw := range []string{"password", "secret123", "x"} {
		rec := do(h, http.MethodPost, "/auth/login", `{"password":"`+pw+`"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Empty(t, rec.Result().Cookies())
	}
}

func TestLogin_NotFoundOutsideRemoteMode(t *testing.T) {
	cfg := remoteConfig("https://abc123.ngrok.app")
	cfg.RemoteMode = false
	_, h := newTestGateway(t, cfg)

	rec := do(h, http.MethodPost, "/auth/login", `{"password":"secret123"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogin_Throttled(t *testing.T) {
	cfg := remoteConfig("https://abc123.ngrok.app")
	cfg.LoginPerMinute = 3
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	_, h := newTestGateway(t, cfg, WithClock(clock.now))

	for i := 0; i < 3; i++ {
		rec := do(h, http.MethodPost, "/auth/login", `{"password":"nope"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := do(h, http.MethodPost, "/auth/login", `{"password":"secret123"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	clock.t = clock.t.Add(time.Minute)
	rec = do(h, http.MethodPost, "/auth/login", `{"password":"secret123"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func loginFrom(h http.Handler, peer, forwardedFor, password string) int {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"`+password+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = peer
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestLogin_ThrottleIgnoresForwardedFor(t *testing.T) {
	cfg := remoteConfig("https://abc123.ngrok.app")
	cfg.LoginPerMinute = 3
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	_, h := newTestGateway(t, cfg, WithClock(clock.now))

	throttled := 0
	for i := 0; i < 50; i++ {
		code := loginFrom(h, "203.0.113.9:4000", fmt.Sprintf("10.0.0.%d", i), "nope")
		if code == http.StatusTooManyRequests {
			throttled++
		}
	}
	assert.Equal(t, 47, throttled)
}

func TestLogin_ThrottleTrustedProxyHops(t *testing.T) {
	cfg := remoteConfig("https://abc123.ngrok.app")
	cfg.LoginPerMinute = 2
	cfg.TrustedProxyHops = 1
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	_, h := newTestGateway(t, cfg, WithClock(clock.now))

	// The edge appends the real client; the spoofed left entries vary.
	for i := 0; i < 2; i++ {
		code := loginFrom(h, "10.1.1.1:4000", fmt.Sprintf("198.51.100.%d, 203.0.113.9", i), "nope")
		require.Equal(t, http.StatusUnauthorized, code)
	}
	assert.Equal(t, http.StatusTooManyRequests, loginFrom(h, "10.1.1.1:4000", "1.2.3.4, 203.0.113.9", "secret123"))

	// Another client behind the same edge has its own bucket.
	assert.Equal(t, http.StatusOK, loginFrom(h, "10.1.1.1:4000", "203.0.113.10", "secret123"))

	// A request that skipped the edge falls back to the peer address.
	assert.Equal(t, http.StatusOK, loginFrom(h, "192.0.2.50:4000", "", "secret123"))
}

func TestDeviceTokenValidation(t *testing.T) {
	_, h := newTestGateway(t, remoteConfig("https://abc123.ngrok.app"))

	body := decode(t, do(h, http.MethodPost, "/auth/login", `{"password":"secret123"}`))
	token, hash := body["deviceToken"].(string), body["tokenHash"].(string)

	rec := do(h, http.MethodPut, "/auth/login", `{"deviceToken":"`+token+`","tokenHash":"`+hash+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["valid"])

	rec = do(h, http.MethodPut, "/auth/login", `{"deviceToken":"`+token+`","tokenHash":"deadbeef"}`)
	assert.Equal(t, false, decode(t, rec)["valid"])
}

func TestSessions(t *testing.T) {
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	s := NewSessions("secret123", time.Hour, clock.now)

	value, expires := s.Issue()
	assert.Equal(t, clock.t.Add(time.Hour), expires)
	assert.True(t, s.Valid(value))

	assert.False(t, s.Valid(""))
	assert.False(t, s.Valid("garbage"))
	assert.False(t, s.Valid(value+"0"))

	parts := strings.Split(value, ".")
	require.Len(t, parts, 3)
	forged := parts[0] + ".9999999999." + parts[2]
	assert.False(t, s.Valid(forged), "extending expiry breaks the signature")

	rotated := NewSessions("new-password", time.Hour, clock.now)
	assert.False(t, rotated.Valid(value), "password rotation invalidates sessions")

	clock.t = clock.t.Add(time.Hour)
	assert.False(t, s.Valid(value))
}

func TestCheckPassword(t *testing.T) {
	s := NewSessions("secret123", time.Hour, time.Now)
	assert.True(t, s.CheckPassword("secret123"))
	assert.False(t, s.CheckPassword("secret12"))
	assert.False(t, s.CheckPassword(""))

	empty := NewSessions("", time.Hour, time.Now)
	assert.False(t, empty.CheckPassword(""))
	assert.False(t, empty.Valid("a.1.b"))
}

func TestForward(t *testing.T) {
	var gotHeaders atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders.Store(r.Header.Clone())
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Upstream", "desktop")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, r.Method+" "+r.URL.RequestURI()+" "+string(body))
	}))
	defer upstream.Close()

	_, h := newTestGateway(t, remoteConfig(upstream.URL))
	session := login(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/completions?stream=1", strings.NewReader(`{"q":1}`))
	req.AddCookie(session)
	req.Header.Set("Authorization", "Bearer abc")
	req.Header.Set("X-Internal-Route", "edge")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `POST /api/chat/completions?stream=1 {"q":1}`, rec.Body.String())
	assert.Equal(t, "desktop", rec.Header().Get("X-Upstream"))

	hdr := gotHeaders.Load().(http.Header)
	assert.Equal(t, "Bearer abc", hdr.Get("Authorization"))
	assert.Empty(t, hdr.Get("Cookie"))
	assert.Empty(t, hdr.Get("X-Internal-Route"))
	assert.Equal(t, "203.0.113.9", hdr.Get("X-Forwarded-For"))
	assert.Equal(t, "true", hdr.Get("X-Mobile-Proxy"))
}

func TestForward_ModelsGet(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "unknown", r.Header.Get("X-Forwarded-For"))
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	defer upstream.Close()

	_, h := newTestGateway(t, remoteConfig(upstream.URL))
	rec := do(h, http.MethodGet, "/api/models/list", "", login(t, h))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api/models/list", rec.Body.String())
}

func TestForward_Errors(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	t.Run("not remote mode", func(t *testing.T) {
		cfg := remoteConfig(upstream.URL)
		cfg.RemoteMode = false
		_, h := newTestGateway(t, cfg)

		rec := do(h, http.MethodGet, "/api/chat/x", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "only available in mobile mode")
	})

	t.Run("public url unset", func(t *testing.T) {
		_, h := newTestGateway(t, remoteConfig(""))

		rec := do(h, http.MethodPost, "/api/chat/x", `{}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decode(t, rec)["error"], "not configured")
	})

	t.Run("no session", func(t *testing.T) {
		_, h := newTestGateway(t, remoteConfig(upstream.URL))

		rec := do(h, http.MethodGet, "/api/chat/x", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		_, h := newTestGateway(t, remoteConfig(upstream.URL))

		rec := do(h, http.MethodPatch, "/api/chat/x", "", login(t, h))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	assert.Zero(t, hits.Load())
}

func TestForward_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	_, h := newTestGateway(t, remoteConfig(url))
	rec := do(h, http.MethodGet, "/api/models/", "", login(t, h))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Failed to connect to local OS Athena", body["error"])
	assert.Equal(t, "Ensure your desktop app is running and the tunnel is active", body["details"])
}

func TestRequireSession(t *testing.T) {
	_, h := newTestGateway(t, remoteConfig("https://abc123.ngrok.app"))
	session := login(t, h)

	tests := []struct {
		name     string
		path     string
		cookie   *http.Cookie
		code     int
		location string
	}{
		{"login page is public", "/login", nil, http.StatusOK, ""},
		{"page without session", "/mobile", nil, http.StatusTemporaryRedirect, "/login"},
		{"root without session", "/", nil, http.StatusTemporaryRedirect, "/login"},
		{"root with session", "/", session, http.StatusTemporaryRedirect, "/mobile"},
		{"page with session", "/mobile", session, http.StatusOK, ""},
		{"api path passes", "/api/other", nil, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cookies []*http.Cookie
			if tt.cookie != nil {
				cookies = append(cookies, tt.cookie)
			}
			rec := do(h, http.MethodGet, tt.path, "", cookies...)
			assert.Equal(t, tt.code, rec.Code)
			if tt.location != "" {
				assert.Equal(t, tt.location, rec.Header().Get("Location"))
			}
		})
	}
}

func TestRequireSession_LocalModePassesThrough(t *testing.T) {
	cfg := remoteConfig("")
	cfg.RemoteMode = false
	_, h := newTestGateway(t, cfg)

	rec := do(h, http.MethodGet, "/mobile", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page /mobile", rec.Body.String())
}

func TestNew_InvalidPublicURL(t *testing.T) {
	_, err := New(remoteConfig("abc123.ngrok.app"))
	assert.Error(t, err)
}
