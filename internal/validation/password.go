// Package validation holds input rules shared by services and handlers.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinPasswordLength = 12
	MaxPasswordLength = 128
	MaxEmailLength    = 254
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// ValidatePassword requires 12 to 128 characters mixing upper and lower case
// letters, digits and symbols.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if n > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}

	var missing []string
	if !upper {
		missing = append(missing, "an uppercase letter")
	}
	if !lower {
		missing = append(missing, "a lowercase letter")
	}
	if !digit {
		missing = append(missing, "a digit")
	}
	if !special {
		missing = append(missing, "a special character")
	}
	if len(missing) > 0 {
		return errors.New("password must contain " + strings.Join(missing, ", "))
	}
	return nil
}

// ValidateUsername accepts 3-32 letters, digits, dashes and underscores that
// neither start nor end with punctuation.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return errors.New("username must be 3-32 characters of letters, digits, '-' or '_'")
	}
	if strings.ContainsAny(username[:1], "-_") || strings.ContainsAny(username[len(username)-1:], "-_") {
		return errors.New("username cannot start or end with '-' or '_'")
	}
	return nil
}

// ValidateEmail checks a bare address (no display name) of at most 254 bytes.
func ValidateEmail(email string) error {
	if len(email) > MaxEmailLength {
		return fmt.Errorf("email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return errors.New("invalid email address")
	}
	at := strings.LastIndex(email, "@")
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasSuffix(domain, ".") || strings.HasPrefix(domain, ".") {
		return errors.New("invalid email domain")
	}
	return nil
}
