// Package validate wraps the field validators used by structural command
// validation. Keeping them behind one package pins the validation library
// choice in a single place.
package validate

import (
	"strings"

	"github.com/asaskevich/govalidator"
)

// IsEmail reports whether value is a syntactically valid email address.
func IsEmail(value string) bool {
	return govalidator.IsEmail(value)
}

// IsURL reports whether value is a parsable absolute URL.
func IsURL(value string) bool {
	return govalidator.IsURL(value)
}

// IsPrintableID reports whether value is usable as an externally supplied
// identifier: non-empty, at most 200 bytes, no control characters.
func IsPrintableID(value string) bool {
	if value == "" || len(value) > 200 {
		return false
	}
	for _, r := range value {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// NotEmpty reports whether value contains non-whitespace content.
func NotEmpty(value string) bool {
	return strings.TrimSpace(value) != ""
}
