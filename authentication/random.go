package authentication

import (
	"crypto/rand"
	"math/big"
)

// GenerateRandomBytes returns securely generated random bytes.
// It will return an error if the system's secure random
// number generator fails to function correctly, in which
// case the caller should not continue.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// URL-safe so the value survives a redirect query string unescaped.
const randletters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

// GenerateRandomString returns a securely generated random string.
func GenerateRandomString(n int) (string, error) {
	ret := make([]byte, n)
	limit := big.NewInt(int64(len(randletters)))
	for i := range n {
		num, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		ret[i] = randletters[num.Int64()]
	}
	return string(ret), nil
}

const (
	stateLength       = 32
	sharedTokenLength = 48
)

// NewState returns a fresh anti-forgery value for an external redirect.
func NewState() (string, error) {
	return GenerateRandomString(stateLength)
}

// NewSharedToken returns a random shared secret suitable for the control plane.
func NewSharedToken() (string, error) {
	return GenerateRandomString(sharedTokenLength)
}
