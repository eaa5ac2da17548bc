package remote

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidPassword = errors.New("password must be between 8 and 32 characters")
)

const (
	MinPasswordLen = 8
	MaxPasswordLen = 32
)

// ValidateCredentials applies the account rules shared by client and service.
func ValidateCredentials(email, password string) error {
	if !IsValidEmail(email) {
		return ErrInvalidEmail
	}
	if n := len(password); n < MinPasswordLen || n > MaxPasswordLen {
		return ErrInvalidPassword
	}
	return nil
}

// IsValidEmail accepts a bare address with a dotted domain.
func IsValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}
