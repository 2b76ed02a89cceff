package auth

import (
	"github.com/jaevor/go-nanoid"
	"golang.org/x/crypto/bcrypt"
)

const refreshTokenLength = 40

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NewRefreshToken returns a random URL-safe token for a login session.
func NewRefreshToken() (string, error) {
	generate, err := nanoid.Standard(refreshTokenLength)
	if err != nil {
		return "", err
	}
	return generate(), nil
}
