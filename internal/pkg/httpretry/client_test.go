package httpretry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type flakyDoer struct {
	failures int
	calls    int
}

func (f *flakyDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	return rec.Result(), nil
}

func TestDoRetriesNetworkErrors(t *testing.T) {
	doer := &flakyDoer{failures: 2}
	client := New(doer, 3)
	client.baseDelay = time.Millisecond
	client.maxDelay = 2 * time.Millisecond

	req := httptest.NewRequest(http.MethodGet, "http://vc.example/portfolio", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if doer.calls != 3 {
		t.Errorf("calls = %d, want 3", doer.calls)
	}
}

func TestDoStopsOnClientError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(srv.Client(), 3)
	client.baseDelay = time.Millisecond

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if calls != 1 {
		t.Errorf("404 should not be retried, calls = %d", calls)
	}
}

func TestDoRetriesThrottleStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(srv.Client(), 3)
	client.baseDelay = time.Millisecond
	client.maxDelay = 2 * time.Millisecond

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestBackoffBounds(t *testing.T) {
	base := 500 * time.Millisecond
	max := 4 * time.Second
	for attempt := 1; attempt <= 10; attempt++ {
		d := Backoff(attempt, base, max)
		if d < 100*time.Millisecond {
			t.Errorf("attempt %d: delay %s below floor", attempt, d)
		}
		if d > max {
			t.Errorf("attempt %d: delay %s above cap", attempt, d)
		}
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !RetryableStatus(code) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404} {
		if RetryableStatus(code) {
			t.Errorf("status %d should not be retryable", code)
		}
	}
}
