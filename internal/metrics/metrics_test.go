package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/wasm/pongo.wasm", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if transportOpensTotal == nil || transportIdleTimeoutsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveOpen(t *testing.T) {
	ObserveOpen("https://cdn.example.org/wasm/pongo.wasm", 200)
	ObserveOpen("https://cdn.example.org/wasm/pongo.wasm", 0)

	if val := testutil.ToFloat64(transportOpensTotal.WithLabelValues("cdn.example.org", "200")); val != 1 {
		t.Errorf("expected one 200 open, got %f", val)
	}
	if val := testutil.ToFloat64(transportOpensTotal.WithLabelValues("cdn.example.org", "error")); val != 1 {
		t.Errorf("expected one failed open, got %f", val)
	}
}

func TestObserveIdleTimeout(t *testing.T) {
	Init()
	before := testutil.ToFloat64(transportIdleTimeoutsTotal)
	ObserveIdleTimeout()
	if val := testutil.ToFloat64(transportIdleTimeoutsTotal); val != before+1 {
		t.Errorf("expected idle timeout counter to increase by one, got %f", val-before)
	}
}

func TestObserveQueueRejected(t *testing.T) {
	Init()
	before := testutil.ToFloat64(loadQueueRejectedTotal)
	ObserveQueueRejected()
	if val := testutil.ToFloat64(loadQueueRejectedTotal); val != before+1 {
		t.Errorf("expected rejected counter to increase by one, got %f", val-before)
	}
}

func TestObserveRateLimitDelay(t *testing.T) {
	Init()
	before := testutil.CollectAndCount(rateLimitDelaySeconds)
	ObserveRateLimitDelay("delay.example", 0)
	if got := testutil.CollectAndCount(rateLimitDelaySeconds); got < before {
		t.Errorf("expected histogram series to persist, got %d < %d", got, before)
	}
	if got := testutil.CollectAndCount(rateLimitDelaySeconds); got == 0 {
		t.Error("expected at least one histogram series")
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
