package apierr

import (
	"fmt"
	"net/http"
	"testing"
)

func TestFromError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("belief usage: %w", ErrAlreadyCompleted), http.StatusConflict, "already_completed"},
		{fmt.Errorf("db: %w", ErrStoreTimeout), http.StatusServiceUnavailable, "db_timeout"},
		{ErrNotFound, http.StatusNotFound, "not_found"},
		{New(http.StatusTeapot, "teapot", nil), http.StatusTeapot, "teapot"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "fallback"},
	}
	for _, tc := range cases {
		got := FromError(tc.err, "fallback")
		if got.Status != tc.status || got.Code != tc.code {
			t.Fatalf("FromError(%v): got %d/%s want %d/%s", tc.err, got.Status, got.Code, tc.status, tc.code)
		}
	}
	if FromError(nil, "x") != nil {
		t.Fatalf("FromError(nil) should be nil")
	}
}
