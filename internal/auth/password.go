package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// burnCompare spends one bcrypt comparison so unknown users cost the same as known ones.
func burnCompare(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dinehub-placeholder"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// CheckCredentials verifies password for user. Unknown users and disabled users fail the
// same way as a wrong password.
func CheckCredentials(user *User, password string) error {
	if user == nil {
		burnCompare(password)
		return ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return ErrInvalidCredentials
	}
	if !user.Active() {
		return ErrInvalidCredentials
	}
	return nil
}
