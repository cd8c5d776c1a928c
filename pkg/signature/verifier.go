// Package signature authenticates storefront app proxy requests via the
// keyed digest the platform appends to the forwarded query string.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Param is the query parameter carrying the signature; it is excluded from
// the signed payload.
const Param = "signature"

// Verifier checks app proxy signatures with a shared secret.
type Verifier struct {
	secret []byte
}

// New creates a verifier. An empty secret is allowed but rejects every
// request, so a missing APP_PROXY_SECRET degrades instead of crashing.
func New(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify reports whether provided is the correct signature over params.
// It never panics: a missing signature, malformed hex, a length mismatch,
// or an unset secret all return false.
func (v *Verifier) Verify(params url.Values, provided string) bool {
	if len(v.secret) == 0 || provided == "" {
		return false
	}

	given, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	want := v.digest(params)
	if len(given) != len(want) {
		return false
	}
	return hmac.Equal(given, want)
}

// Sign computes the hex signature over params with the shared secret. The
// platform performs the same computation when forwarding proxy requests.
func (v *Verifier) Sign(params url.Values) string {
	return hex.EncodeToString(v.digest(params))
}

// digest sorts the parameter keys bytewise, concatenates them as key=value
// pairs with no separator (multiple values joined by commas), and computes
// HMAC-SHA256 over the result.
func (v *Verifier) digest(params url.Values) []byte {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == Param {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	mac := hmac.New(sha256.New, v.secret)
	for _, key := range keys {
		mac.Write([]byte(key))
		mac.Write([]byte("="))
		mac.Write([]byte(strings.Join(params[key], ",")))
	}
	return mac.Sum(nil)
}
