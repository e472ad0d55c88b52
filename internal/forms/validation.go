// Package forms holds the synchronous field validation shared by the
// login, registration and ticket forms.
package forms

import "sync"

// Errors maps field name to error message; absent key means valid.
type Errors map[string]string

// Validator tracks the current per-field error state of one form.
type Validator struct {
	mu     sync.Mutex
	errors Errors
}

// NewValidator returns a validator with no recorded errors.
func NewValidator() *Validator {
	return &Validator{errors: Errors{}}
}

// ValidateAndSet runs validate and replaces the error state wholesale
// with its result. Returns true iff the form is valid.
func (v *Validator) ValidateAndSet(validate func() Errors) bool {
	next := validate()
	if next == nil {
		next = Errors{}
	}
	v.mu.Lock()
	v.errors = next
	v.mu.Unlock()
	return len(next) == 0
}

// ClearField drops a single field's error, used as the user retypes so
// a stale message disappears without re-running full validation.
func (v *Validator) ClearField(name string) {
	v.mu.Lock()
	delete(v.errors, name)
	v.mu.Unlock()
}

// ClearAll resets the error state.
func (v *Validator) ClearAll() {
	v.mu.Lock()
	v.errors = Errors{}
	v.mu.Unlock()
}

// Field returns the message for one field, if any.
func (v *Validator) Field(name string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	msg, ok := v.errors[name]
	return msg, ok
}

// Errors returns a copy of the current error state.
func (v *Validator) Errors() Errors {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(Errors, len(v.errors))
	for k, msg := range v.errors {
		out[k] = msg
	}
	return out
}

// Valid reports whether no field is currently in error.
func (v *Validator) Valid() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.errors) == 0
}
