package domain

import "strings"

// User is an authenticated account. IsStaff gates administrative
// capabilities such as status transitions and queue-wide listing.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	IsStaff   bool   `json:"is_staff"`
}

// DisplayName returns "First Last" when either name part is set,
// falling back to the username.
func (u User) DisplayName() string {
	full := strings.TrimSpace(strings.Join(nonEmpty(u.FirstName, u.LastName), " "))
	if full != "" {
		return full
	}
	return u.Username
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
