package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/diary/internal/xerrors"
)

const DefaultBcryptCost = 12

// HashPassword returns the bcrypt hash of pw
func HashPassword(pw string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", xerrors.Wrap(err, "hash password")
	}
	return string(h), nil
}

// CheckPassword reports whether pw matches hash. Accounts created through
// google sign-in have no hash and never match.
func CheckPassword(hash, pw string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
