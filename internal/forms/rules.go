package forms

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Minimum lengths are counted in runes after trimming, so non-ASCII
// input is measured the way users perceive it.
const (
	MinTitleLen       = 3
	MinDescriptionLen = 10
	MinUsernameLen    = 3
	MinPasswordLen    = 8
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Title validates a ticket title. Empty message means valid.
func Title(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "title is required"
	}
	if utf8.RuneCountInString(trimmed) < MinTitleLen {
		return "title must be at least 3 characters"
	}
	return ""
}

// Description validates a ticket description.
func Description(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "description is required"
	}
	if utf8.RuneCountInString(trimmed) < MinDescriptionLen {
		return "description must be at least 10 characters"
	}
	return ""
}

// Username validates an account name.
func Username(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "username is required"
	}
	if utf8.RuneCountInString(trimmed) < MinUsernameLen {
		return "username must be at least 3 characters"
	}
	return ""
}

// Password validates a password. Not trimmed: leading and trailing
// spaces are legitimate password characters.
func Password(value string) string {
	if value == "" {
		return "password is required"
	}
	if utf8.RuneCountInString(value) < MinPasswordLen {
		return "password must be at least 8 characters"
	}
	return ""
}

// Email validates the local@domain.tld shape.
func Email(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "email is required"
	}
	if !emailRe.MatchString(trimmed) {
		return "enter a valid email address"
	}
	return ""
}

// Name validates a first or last name.
func Name(value string) string {
	if strings.TrimSpace(value) == "" {
		return "this field is required"
	}
	return ""
}
