package cryptoutil

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/keithlinneman/diary/internal/xerrors"
)

// RandomHex returns n random bytes hex encoded
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", xerrors.Wrap(err, "read random bytes")
	}
	return hex.EncodeToString(b), nil
}
