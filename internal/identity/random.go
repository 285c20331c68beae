package identity

import (
	"crypto/rand"
	"encoding/base64"
	"io"
	"math/big"
	"strconv"

	"github.com/samber/oops"
)

const (
	saltBytes = 16
	codeMin   = 100000
	codeMax   = 999999
)

// Random supplies per-account salts and verification codes.
type Random interface {
	Salt() (string, error)
	Code() (string, error)
}

// CryptoRandom draws from a cryptographic source.
type CryptoRandom struct {
	reader io.Reader
}

// NewCryptoRandom returns a Random backed by crypto/rand.
func NewCryptoRandom() *CryptoRandom {
	return &CryptoRandom{reader: rand.Reader}
}

// Salt returns 16 random bytes, base64 encoded.
func (r *CryptoRandom) Salt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return "", oops.With("operation", "read salt").Wrap(err)
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

// Code returns a uniformly distributed six digit code in [100000, 999999].
func (r *CryptoRandom) Code() (string, error) {
	n, err := rand.Int(r.reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", oops.With("operation", "draw code").Wrap(err)
	}
	return strconv.FormatInt(codeMin+n.Int64(), 10), nil
}
