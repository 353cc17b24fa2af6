package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CookieName is the session cookie.
const CookieName = "mobile-auth"

// Sessions issues and checks signed session values. A value is
// "<nonce>.<expiry unix>.<hex hmac>" keyed by the password, so changing
// the password invalidates every session.
type Sessions struct {
	key      []byte
	password string
	ttl      time.Duration
	now      func() time.Time
}

// NewSessions creates a Sessions for password.
func NewSessions(password string, ttl time.Duration, now func() time.Time) *Sessions {
	key := sha256.Sum256([]byte("athena-session:" + password))
	return &Sessions{key: key[:], password: password, ttl: ttl, now: now}
}

// Configured reports whether a password is set.
func (s *Sessions) Configured() bool { return s.password != "" }

// CheckPassword compares candidate with the configured password.
func (s *Sessions) CheckPassword(candidate string) bool {
	if !s.Configured() {
		return false
	}
	want := sha256.Sum256([]byte(s.password))
	got := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

// Issue returns a new session value and its expiry.
func (s *Sessions) Issue() (string, time.Time) {
	expires := s.now().Add(s.ttl)
	payload := uuid.NewString() + "." + strconv.FormatInt(expires.Unix(), 10)
	return payload + "." + s.sign(payload), expires
}

// Valid reports whether value was issued for the current password and
// has not expired.
func (s *Sessions) Valid(value string) bool {
	if !s.Configured() {
		return false
	}
	i := strings.LastIndexByte(value, '.')
	if i <= 0 {
		return false
	}
	payload, sig := value[:i], value[i+1:]
	_, exp, ok := strings.Cut(payload, ".")
	if !ok {
		return false
	}
	expiry, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || s.now().Unix() >= expiry {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(s.sign(payload)))
}

func (s *Sessions) sign(payload string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewDeviceToken returns a random device token and its hash for the
// configured password.
func (s *Sessions) NewDeviceToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(buf)
	return token, s.deviceHash(token), nil
}

// ValidDevice reports whether hash matches token for the configured
// password.
func (s *Sessions) ValidDevice(token, hash string) bool {
	if !s.Configured() || token == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hash), []byte(s.deviceHash(token))) == 1
}

func (s *Sessions) deviceHash(token string) string {
	sum := sha256.Sum256([]byte(token + s.password))
	return hex.EncodeToString(sum[:])
}
