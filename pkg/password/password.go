// Package password hashes and verifies user passwords with bcrypt and
// enforces a minimum entropy on new passwords.
package password

import (
	"errors"

	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinCost     = 4
	MaxCost     = 31
	DefaultCost = 12

	// MaxPasswordLength bounds the bcrypt input; longer plaintexts are
	// rejected before hashing.
	MaxPasswordLength = 128

	// MinEntropyBits is the strength floor applied to new passwords.
	MinEntropyBits = 60
)

type HashOptions struct {
	Cost int
}

type HashOpt func(options *HashOptions)

// WithCost sets the bcrypt cost factor. Values outside [MinCost, MaxCost]
// keep the default.
func WithCost(cost int) HashOpt {
	return func(options *HashOptions) {
		if cost >= MinCost && cost <= MaxCost {
			options.Cost = cost
		}
	}
}

// Hash generates a bcrypt hash of the password.
func Hash(password string, opts ...HashOpt) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password cannot be empty")
	}
	if len(password) > MaxPasswordLength {
		return "", errors.New("password too long")
	}

	options := &HashOptions{
		Cost: DefaultCost,
	}
	for _, opt := range opts {
		opt(options)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), options.Cost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

// Compare compares a bcrypt hash with its possible plaintext equivalent.
// A nil return means the password matches.
func Compare(hashedPassword, password string) error {
	if len(hashedPassword) == 0 {
		return errors.New("hashed password cannot be empty")
	}
	if len(password) == 0 {
		return errors.New("password cannot be empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// ValidateStrength rejects passwords below MinEntropyBits of estimated
// entropy.
func ValidateStrength(password string) error {
	return passwordvalidator.Validate(password, MinEntropyBits)
}
