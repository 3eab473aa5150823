package authentication

import (
	"crypto/subtle"
	"net/http"

	"github.com/cockroachdb/errors"
)

// DefaultTokenHeader is the header carrying the control-plane shared secret.
const DefaultTokenHeader = "x-cli-token"

var ErrMissingToken = errors.New("missing token")

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ValidateHeaderToken checks that header name carries exactly expected.
// An empty expected value never validates.
func ValidateHeaderToken(headers http.Header, name string, expected string) error {
	token := headers.Get(name)
	if token == "" {
		return ErrMissingToken
	}
	if expected == "" || !Equal(token, expected) {
		return ErrInvalidToken
	}
	return nil
}
