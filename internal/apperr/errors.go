// Package apperr separates input problems from infrastructure failures and
// converts either into the user-facing response shape.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for the user-facing response.
type Kind string

const (
	KindUser   Kind = "user"
	KindSystem Kind = "system"
	KindModel  Kind = "model"
)

// UserError is returned when the request itself is wrong: unknown bank,
// invalid period, malformed conversation.
type UserError struct {
	Op  string
	Err error
}

func (e *UserError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *UserError) Unwrap() error { return e.Err }

// SystemError is returned when infrastructure fails: database, object store, LLM endpoint.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *SystemError) Unwrap() error { return e.Err }

// ModelBehaviorError is returned when the model keeps producing unusable
// output after the retry budget is spent.
type ModelBehaviorError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ModelBehaviorError) Error() string {
	return fmt.Sprintf("%s: model output invalid after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *ModelBehaviorError) Unwrap() error { return e.Err }

// User wraps err as a UserError.
func User(op string, err error) error {
	return &UserError{Op: op, Err: err}
}

// Userf formats a new UserError.
func Userf(op, format string, a ...any) error {
	return &UserError{Op: op, Err: fmt.Errorf(format, a...)}
}

// System wraps err as a SystemError. A nil err stays nil.
func System(op string, err error) error {
	if err == nil {
		return nil
	}
	return &SystemError{Op: op, Err: err}
}

// Model wraps err as a ModelBehaviorError.
func Model(op string, attempts int, err error) error {
	return &ModelBehaviorError{Op: op, Attempts: attempts, Err: err}
}

// KindOf classifies err. Unclassified errors count as system errors.
func KindOf(err error) Kind {
	var ue *UserError
	if errors.As(err, &ue) {
		return KindUser
	}
	var me *ModelBehaviorError
	if errors.As(err, &me) {
		return KindModel
	}
	return KindSystem
}

// IsUser reports whether err is caused by bad input.
func IsUser(err error) bool {
	return KindOf(err) == KindUser
}

// Message returns the text shown to the user. System errors hide internal detail.
func Message(err error) string {
	switch KindOf(err) {
	case KindUser:
		return err.Error()
	case KindModel:
		return "The model could not produce a valid response. Please rephrase and try again."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The request timed out."
	}
	if errors.Is(err, context.Canceled) {
		return "The request was cancelled."
	}
	return "An internal error occurred."
}

// ToResponse renders err as {"status": "Error", "error": ..., "kind": ...}.
func ToResponse(err error) map[string]any {
	return map[string]any{
		"status": "Error",
		"error":  Message(err),
		"kind":   string(KindOf(err)),
	}
}

// Success renders a {"status": "Success"} response merged with fields.
func Success(fields map[string]any) map[string]any {
	out := map[string]any{"status": "Success"}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
