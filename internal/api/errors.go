package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// User-facing messages derived from HTTP status.
const (
	MsgInvalidRequest = "invalid request"
	MsgSignInAgain    = "please sign in again"
	MsgForbidden      = "unauthorized access"
	MsgNotFound       = "not found"
	MsgBadCredentials = "invalid username or password"
	MsgNetwork        = "could not reach server, check your connection"
	MsgTimeout        = "request aborted, please retry"
	MsgGeneric        = "something went wrong, please try again"
)

var statusMessages = map[int]string{
	400: MsgInvalidRequest,
	401: MsgSignInAgain,
	403: MsgForbidden,
	404: MsgNotFound,
}

// Backends word credential failures inconsistently; any 400/401 detail
// matching this is normalized to MsgBadCredentials.
var credentialFailureRe = regexp.MustCompile(`(?i)credential|account|invalid|incorrect|wrong|authenticate`)

// Error is a failed HTTP exchange: the status code plus whatever the
// server put in the body. Field-level validation errors are parsed
// from the DRF-style {"field": ["msg", ...]} shape.
type Error struct {
	Status         int
	Body           []byte
	Detail         string
	NonFieldErrors []string
	FieldErrors    map[string][]string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// NewError parses an error response body.
func NewError(status int, body []byte) *Error {
	e := &Error{Status: status, Body: body}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return e
	}
	for key, raw := range payload {
		switch key {
		case "detail":
			var s string
			if json.Unmarshal(raw, &s) == nil {
				e.Detail = s
			}
		case "non_field_errors":
			var msgs []string
			if json.Unmarshal(raw, &msgs) == nil {
				e.NonFieldErrors = msgs
			}
		default:
			var msgs []string
			if json.Unmarshal(raw, &msgs) == nil {
				if e.FieldErrors == nil {
					e.FieldErrors = make(map[string][]string)
				}
				e.FieldErrors[key] = msgs
				continue
			}
			var s string
			if json.Unmarshal(raw, &s) == nil {
				if e.FieldErrors == nil {
					e.FieldErrors = make(map[string][]string)
				}
				e.FieldErrors[key] = []string{s}
			}
		}
	}
	return e
}

// TransportError wraps a failure where no HTTP response was received.
type TransportError struct {
	Err     error
	Timeout bool
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("api: request timed out: %v", e.Err)
	}
	return fmt.Sprintf("api: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UserMessage maps an error from the client to the message shown to
// the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.userMessage()
	}

	var transport *TransportError
	if errors.As(err, &transport) {
		if transport.Timeout {
			return MsgTimeout
		}
		return MsgNetwork
	}

	return MsgGeneric
}

func (e *Error) userMessage() string {
	fallback, known := statusMessages[e.Status]
	if !known {
		return MsgGeneric
	}

	normalize := e.Status == 400 || e.Status == 401

	if e.Detail != "" {
		if normalize && credentialFailureRe.MatchString(e.Detail) {
			return MsgBadCredentials
		}
		return e.Detail
	}
	if len(e.NonFieldErrors) > 0 {
		msg := e.NonFieldErrors[0]
		if normalize && credentialFailureRe.MatchString(msg) {
			return MsgBadCredentials
		}
		return msg
	}
	if e.Status == 400 && len(e.FieldErrors) > 0 {
		return joinFieldErrors(e.FieldErrors)
	}
	return fallback
}

func joinFieldErrors(fields map[string][]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		for _, msg := range fields[k] {
			parts = append(parts, fmt.Sprintf("%s: %s", k, msg))
		}
	}
	return strings.Join(parts, " • ")
}

// IsRetryable classifies an error for the bounded automatic retry:
// server-side failures and transport failures are retryable, other
// client errors are not. Timeouts are terminal: the request may have
// reached the server, so resending is the caller's call.
func IsRetryable(err error) bool {
	var transport *TransportError
	if errors.As(err, &transport) {
		return !transport.Timeout
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status < 400 || apiErr.Status >= 500
	}
	return true
}
