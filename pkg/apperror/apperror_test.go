package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKind_HTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindInvalidArgument, http.StatusBadRequest},
		{KindConflict, http.StatusConflict},
		{KindCapacityExceeded, http.StatusConflict},
		{KindInvalidState, http.StatusConflict},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("book queue: %w", CapacityExceeded("schedule %s is full", "SCH-1"))

	if KindOf(err) != KindCapacityExceeded {
		t.Errorf("expected CapacityExceeded, got %s", KindOf(err))
	}
	if !Is(err, KindCapacityExceeded) {
		t.Error("expected Is to match wrapped kind")
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("expected plain errors to classify as Internal")
	}
	if Is(nil, KindInternal) {
		t.Error("nil error should not match any kind")
	}
}

func TestInternal_KeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause, "insert queue entry")

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if err.Message != "insert queue entry" {
		t.Errorf("unexpected message %q", err.Message)
	}
}
