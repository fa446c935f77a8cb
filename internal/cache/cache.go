// Package cache stores validated classification results under a
// content-addressed request fingerprint with a bounded lifetime.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/scopesignal/internal/model"
)

// DefaultTTL is how long a cached result stays live.
const DefaultTTL = 24 * time.Hour

// fingerprintVersion is bumped whenever the key derivation changes.
const fingerprintVersion = "scopesignal/v1"

// ErrInvalidEntry is returned when a stored value fails result validation.
var ErrInvalidEntry = eris.New("cache: stored result failed validation")

// Cache maps request fingerprints to previously validated results.
// Implementations must be safe for concurrent use. Get treats entries older
// than the TTL as misses without removing them; Purge removes them.
type Cache interface {
	Get(ctx context.Context, key string) (*model.ClassificationResult, bool, error)
	Set(ctx context.Context, key string, result model.ClassificationResult) error
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) (int, error)
	Purge(ctx context.Context) (int, error)
	Close() error
}

// Stats describes cache occupancy. Ages are measured from the cache clock.
type Stats struct {
	Backend   string        `json:"backend"`
	Entries   int           `json:"entry_count"`
	Expired   int           `json:"expired_count"`
	OldestAge time.Duration `json:"oldest_age"`
	NewestAge time.Duration `json:"newest_age"`
	TTL       time.Duration `json:"ttl"`
}

// Option configures a cache backend.
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL sets the entry lifetime. Non-positive values keep DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// expired reports whether an entry created at createdAt has outlived ttl.
func expired(now, createdAt time.Time, ttl time.Duration) bool {
	return now.Sub(createdAt) > ttl
}

// NormalizeText returns the canonical form of opportunity text used for
// fingerprinting: NFC-normalized with runs of whitespace collapsed to a
// single space and the ends trimmed. Case is preserved.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// Fingerprint derives the cache key for req. The namespace identifies the
// model and prompt that produce results, so a prompt or model change never
// replays old entries. Agency does not participate: it never reaches the
// model.
func Fingerprint(namespace string, req model.ClassificationRequest) string {
	h := sha256.New()
	for _, part := range []string{fingerprintVersion, namespace, string(req.Trade), NormalizeText(req.Text)} {
		fmt.Fprintf(h, "%d:%s", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ShortKey returns a log-friendly prefix of a fingerprint.
func ShortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

// validateStored re-checks a decoded entry so a corrupted row is never
// replayed as a hit.
func validateStored(r model.ClassificationResult) error {
	if err := r.Validate(); err != nil {
		return eris.Wrap(ErrInvalidEntry, err.Error())
	}
	return nil
}
