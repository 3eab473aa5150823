package authentication

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

const maxTokenLifetime = 365 * 24 * time.Hour

type TokenOpt func(*tokenOpts) error

type tokenOpts struct {
	nonce string
}

// WithExpiration embeds an expiry in the token, rounded to the minute.
func WithExpiration(expiration time.Time) TokenOpt {
	return func(opts *tokenOpts) error {
		exp := time.Until(expiration)
		if exp < 0 {
			return errors.New("expiration time is in the past")
		}
		if exp > maxTokenLifetime {
			return errors.New("expiration time exceeds maximum of 1 year")
		}
		rounded := max(exp.Round(time.Minute), time.Minute)
		opts.nonce = str2duration.String(rounded) + "." + strconv.FormatInt(time.Now().Unix(), 10)
		return nil
	}
}

func sign(sharedSecret, nonce string) []byte {
	sum := sha256.Sum256([]byte(sharedSecret + "." + nonce))
	return sum[:]
}

// NewBearerToken derives a bearer token from a shared secret. Without options
// the nonce is random and the token never expires.
func NewBearerToken(sharedSecret string, opts ...TokenOpt) (string, error) {
	var o tokenOpts
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return "", err
		}
	}
	if o.nonce == "" {
		buf, err := GenerateRandomBytes(32)
		if err != nil {
			return "", errors.Wrap(err, "error generating nonce")
		}
		o.nonce = hex.EncodeToString(buf)
	}
	return o.nonce + "." + base64.StdEncoding.EncodeToString(sign(sharedSecret, o.nonce)), nil
}

// ValidateToken checks a token produced by NewBearerToken.
func ValidateToken(sharedSecret string, auth string) error {
	if len(auth) < 32 {
		return ErrInvalidToken
	}
	tok := strings.Split(auth, ".")

	var nonce, encoded string
	var expiration time.Time
	switch len(tok) {
	case 2:
		nonce, encoded = tok[0], tok[1]
	case 3:
		dur, err := str2duration.ParseDuration(tok[0])
		if err != nil {
			return ErrInvalidToken
		}
		issued, err := strconv.ParseInt(tok[1], 10, 64)
		if err != nil {
			return ErrInvalidToken
		}
		expiration = time.Unix(issued, 0).Add(dur)
		nonce, encoded = tok[0]+"."+tok[1], tok[2]
	default:
		return ErrInvalidToken
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(sign(sharedSecret, nonce), decoded) == 0 {
		return ErrInvalidToken
	}
	if !expiration.IsZero() && expiration.Before(time.Now()) {
		return ErrTokenExpired
	}
	return nil
}
