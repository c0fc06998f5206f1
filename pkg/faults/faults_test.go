package faults

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{Validationf("bad position"), false},
		{Permissionf("viewer cannot annotate"), false},
		{NotFoundf("room %s", "r1"), false},
		{Transientf("store unavailable"), true},
		// unknown errors must stay in the queue rather than be dropped
		{errors.New("disk on fire"), true},
		{fmt.Errorf("wrapped: %w", ErrPermission), false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Fatalf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{Validationf("bad"), http.StatusBadRequest},
		{Permissionf("no"), http.StatusForbidden},
		{NotFoundf("gone"), http.StatusNotFound},
		{Transientf("later"), http.StatusServiceUnavailable},
		{errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestMessagesKeepDetail(t *testing.T) {
	err := Validationf("start %d after end %d", 9, 3)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("lost the sentinel")
	}
	if want := "validation failed: start 9 after end 3"; err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}
