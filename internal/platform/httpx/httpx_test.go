package httpx

import (
	"net/http"
	"testing"
	"time"
)

type statusErr int

func (s statusErr) Error() string       { return "status" }
func (s statusErr) HTTPStatusCode() int { return int(s) }

func TestStatusClassification(t *testing.T) {
	for _, code := range []int{408, 429, 500, 503} {
		if !IsRetryableHTTPStatus(code) || IsPermanentHTTPStatus(code) {
			t.Fatalf("%d should be retryable", code)
		}
	}
	for _, code := range []int{400, 401, 404, 422} {
		if IsRetryableHTTPStatus(code) || !IsPermanentHTTPStatus(code) {
			t.Fatalf("%d should be permanent", code)
		}
	}
	if !IsRetryableError(statusErr(502)) || IsRetryableError(statusErr(404)) {
		t.Fatalf("status coder errors misclassified")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")
	if got := RetryAfterDuration(resp, time.Second, 5*time.Second); got != 5*time.Second {
		t.Fatalf("cap not applied: %s", got)
	}
	if got := RetryAfterDuration(nil, time.Second, 0); got != time.Second {
		t.Fatalf("fallback: %s", got)
	}
}
