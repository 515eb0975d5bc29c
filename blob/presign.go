package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Presign expiry bounds.
const (
	DefaultPresignExpiry = time.Hour
	MaxPresignExpiry     = 7 * 24 * time.Hour
)

// Presigner mints and verifies expiring download URLs. URLs are signed with
// HMAC-SHA256 over the object id and expiry instant, so they can be verified
// by any service holding the same secret without a store lookup.
type Presigner struct {
	secret        []byte
	baseURL       string
	defaultExpiry time.Duration
	maxExpiry     time.Duration

	now func() time.Time
}

// NewPresigner creates a presigner. Zero durations fall back to the package
// defaults.
func NewPresigner(secret, baseURL string, defaultExpiry, maxExpiry time.Duration) *Presigner {
	if defaultExpiry <= 0 {
		defaultExpiry = DefaultPresignExpiry
	}
	if maxExpiry <= 0 {
		maxExpiry = MaxPresignExpiry
	}
	return &Presigner{
		secret:        []byte(secret),
		baseURL:       baseURL,
		defaultExpiry: defaultExpiry,
		maxExpiry:     maxExpiry,
		now:           time.Now,
	}
}

// URL returns a signed download URL for the given object id. A zero expiry
// selects the default; expiries beyond the maximum clamp to it.
func (p *Presigner) URL(id string, expiry time.Duration) string {
	if expiry <= 0 {
		expiry = p.defaultExpiry
	}
	if expiry > p.maxExpiry {
		expiry = p.maxExpiry
	}
	expires := p.now().Add(expiry).Unix()
	return fmt.Sprintf("%s/objects/%s?expires=%d&sig=%s", p.baseURL, id, expires, p.sign(id, expires))
}

// Verify checks a presigned request. It fails on signature mismatch or after
// the expiry instant has passed.
func (p *Presigner) Verify(id string, expires int64, sig string) error {
	if p.now().Unix() > expires {
		return fmt.Errorf("presigned url expired at %d", expires)
	}
	want := p.sign(id, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return fmt.Errorf("invalid presign signature for object %s", id)
	}
	return nil
}

func (p *Presigner) sign(id string, expires int64) string {
	mac := hmac.New(sha256.New, p.secret)
	fmt.Fprintf(mac, "%s|%d", id, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
