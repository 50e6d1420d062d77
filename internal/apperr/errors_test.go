package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"user", Userf("clarify", "unknown bank %d", 99), KindUser},
		{"wrapped user", fmt.Errorf("outer: %w", User("op", errors.New("bad"))), KindUser},
		{"system", System("db", errors.New("conn refused")), KindSystem},
		{"model", Model("route", 3, errors.New("no tool call")), KindModel},
		{"plain", errors.New("boom"), KindSystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestSystemNil(t *testing.T) {
	assert.NoError(t, System("op", nil))
}

func TestToResponse(t *testing.T) {
	resp := ToResponse(Userf("clarify", "quarter %q is invalid", "Q7"))
	assert.Equal(t, "Error", resp["status"])
	assert.Equal(t, "user", resp["kind"])
	assert.Contains(t, resp["error"], "Q7")

	resp = ToResponse(System("postgres", errors.New("password authentication failed")))
	assert.Equal(t, "An internal error occurred.", resp["error"])

	resp = ToResponse(System("llm", context.DeadlineExceeded))
	assert.Equal(t, "The request timed out.", resp["error"])
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := Model("extract", 3, cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 attempt(s)")

	assert.Equal(t, map[string]any{"status": "Success", "n": 1}, Success(map[string]any{"n": 1}))
}
