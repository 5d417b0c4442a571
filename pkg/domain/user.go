package domain

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/validate"
)

// UserState is the lifecycle state of a user aggregate.
type UserState int32

const (
	UserStateUnspecified UserState = iota
	UserStateActive
	UserStateInactive
	UserStateLocked
	UserStateDeleted
)

// Exists reports whether the state denotes a live (not deleted, not unborn)
// user.
func (s UserState) Exists() bool {
	return s != UserStateUnspecified && s != UserStateDeleted
}

// Username is a login identifier, unique per instance.
type Username string

// Normalize lowercases and trims the username.
func (u Username) Normalize() Username {
	return Username(strings.ToLower(strings.TrimSpace(string(u))))
}

// Validate checks length bounds.
func (u Username) Validate() error {
	if len(u) == 0 {
		return errs.NewInvalidArgument(nil, "DOMAIN-1Mo9c", "username is empty")
	}
	if len(u) > 200 {
		return errs.NewInvalidArgument(nil, "DOMAIN-kc9Zt", "username exceeds 200 characters")
	}
	return nil
}

// EmailAddress is a validated, normalized email.
type EmailAddress string

// Normalize trims surrounding whitespace; the local part stays case
// sensitive, the domain comparison happens lowercased at uniqueness checks.
func (e EmailAddress) Normalize() EmailAddress {
	return EmailAddress(strings.TrimSpace(string(e)))
}

// Validate checks the address syntactically.
func (e EmailAddress) Validate() error {
	if e == "" {
		return errs.NewInvalidArgument(nil, "DOMAIN-wbQQm", "email is empty")
	}
	if !validate.IsEmail(string(e)) {
		return errs.NewInvalidArgument(nil, "DOMAIN-VJG4e", "email %q is malformed", string(e))
	}
	return nil
}

// PhoneNumber is a telephone number in E.164-ish form.
type PhoneNumber string

// Validate accepts a leading plus and 6 to 15 digits.
func (p PhoneNumber) Validate() error {
	if p == "" {
		return errs.NewInvalidArgument(nil, "DOMAIN-hbeGn", "phone is empty")
	}
	s := string(p)
	if !strings.HasPrefix(s, "+") {
		return errs.NewInvalidArgument(nil, "DOMAIN-ZCy21", "phone %q must start with '+'", s)
	}
	digits := s[1:]
	if len(digits) < 6 || len(digits) > 15 {
		return errs.NewInvalidArgument(nil, "DOMAIN-mL5nd", "phone %q has an invalid length", s)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return errs.NewInvalidArgument(nil, "DOMAIN-so2Ba", "phone %q contains non-digits", s)
		}
	}
	return nil
}

// Profile is the mutable human profile carried by user events.
type Profile struct {
	FirstName         string       `json:"firstName,omitempty"`
	LastName          string       `json:"lastName,omitempty"`
	DisplayName       string       `json:"displayName,omitempty"`
	PreferredLanguage language.Tag `json:"preferredLanguage,omitempty"`
}

// Validate requires first and last name and a parsable language if set.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.FirstName) == "" {
		return errs.NewInvalidArgument(nil, "DOMAIN-zP062", "first name is empty")
	}
	if strings.TrimSpace(p.LastName) == "" {
		return errs.NewInvalidArgument(nil, "DOMAIN-00bWp", "last name is empty")
	}
	return nil
}

// FullName is used as display name when none is set.
func (p *Profile) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ParseLanguage parses a BCP 47 tag, rejecting garbage early.
func ParseLanguage(lang string) (language.Tag, error) {
	if strings.TrimSpace(lang) == "" {
		return language.Und, nil
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return language.Und, errs.NewInvalidArgument(err, "DOMAIN-zGUYv", "language %q is not a valid BCP 47 tag", lang)
	}
	return tag, nil
}
