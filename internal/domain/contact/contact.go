// Package contact normalises and validates customer contact details.
package contact

import (
	"regexp"
	"strings"
)

// PhoneDigits is the number of digits a valid phone number carries.
const PhoneDigits = 10

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// Info is the contact block collected before checkout.
type Info struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	City  string `json:"city"`
}

// NormalizePhone strips every non-digit character from s.
func NormalizePhone(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := range len(s) {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ValidPhone reports whether s carries exactly ten digits once separators
// are removed. "123-456-7890" and "1234567890" are both valid.
func ValidPhone(s string) bool {
	return len(NormalizePhone(s)) == PhoneDigits
}

// ValidEmail performs the loose something@something.something check.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// NormalizeEmail trims and lowercases an address for use as a lookup key.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validate checks every field of info and returns a message per failing
// field. A nil map means info is complete.
func Validate(info Info) map[string]string {
	fields := make(map[string]string)

	if strings.TrimSpace(info.Name) == "" {
		fields["name"] = "Name is required"
	}

	switch {
	case strings.TrimSpace(info.Email) == "":
		fields["email"] = "Email is required"
	case !ValidEmail(info.Email):
		fields["email"] = "Email is invalid"
	}

	switch {
	case strings.TrimSpace(info.Phone) == "":
		fields["phone"] = "Phone number is required"
	case !ValidPhone(info.Phone):
		fields["phone"] = "Phone number must be 10 digits"
	}

	if strings.TrimSpace(info.City) == "" {
		fields["city"] = "City is required"
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}
