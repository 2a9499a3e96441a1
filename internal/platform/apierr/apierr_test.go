package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindClassification(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{Wrap(ErrNotFound, errors.New("video gone")), "not_found"},
		{Wrap(ErrUnauthorized, errors.New("not yours")), "ownership"},
		{Wrap(ErrInvalidArgument, errors.New("bad phase")), "validation"},
		{Wrap(ErrIntegrity, errors.New("missing chunk 3")), "integrity"},
		{Wrap(ErrBudgetExceeded, errors.New("45s left")), "budget_exceeded"},
		{Wrap(ErrExternal, errors.New("model 503")), "external"},
		{errors.New("plain"), "internal"},
	}
	for _, tc := range cases {
		if got := Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v): want %q, got %q", tc.err, tc.want, got)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Wrap(ErrInvalidArgument, errors.New("x")), http.StatusBadRequest},
		{Wrap(ErrIntegrity, errors.New("x")), http.StatusBadRequest},
		{Wrap(ErrBudgetExceeded, errors.New("x")), http.StatusBadRequest},
		{Wrap(ErrUnauthorized, errors.New("x")), http.StatusForbidden},
		{Wrap(ErrNotFound, errors.New("x")), http.StatusNotFound},
		{Wrap(ErrExternal, errors.New("x")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("StatusFor(%v): want %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("checkpoint %s not found", "abc")
	err := Wrap(ErrNotFound, cause)

	if err.Error() != cause.Error() {
		t.Fatalf("message: want %q, got %q", cause.Error(), err.Error())
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrapped error should match its sentinel")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped error should still match its cause")
	}
	if Wrap(ErrNotFound, nil) != nil {
		t.Fatalf("wrapping nil should stay nil")
	}
}

func TestWrappingDeepChains(t *testing.T) {
	inner := Wrap(ErrIntegrity, errors.New("gap at 4"))
	outer := fmt.Errorf("phase 3: %w", inner)

	if Kind(outer) != "integrity" {
		t.Fatalf("kind should survive fmt.Errorf wrapping, got %q", Kind(outer))
	}
}
