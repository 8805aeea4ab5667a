package adapters

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeAdapter struct {
	Adapter
	url string
}

// TestRegistry_RoutesByScheme proves that connection URLs reach the
// factory registered for their scheme with the URL intact.
func TestRegistry_RoutesByScheme(t *testing.T) {
	reg := NewRegistry()
	var opened string
	reg.Register("fake", func(connectURL string) (Adapter, error) {
		opened = connectURL
		return &fakeAdapter{url: connectURL}, nil
	})

	a, err := reg.Open("fake://somewhere/db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a == nil {
		t.Fatal("expected an adapter")
	}
	if opened != "fake://somewhere/db" {
		t.Errorf("factory saw %q", opened)
	}

	// Scheme matching is case-insensitive.
	if _, err := reg.Open("FAKE://other"); err != nil {
		t.Errorf("uppercase scheme: %v", err)
	}
}

// TestQueryIDCapture proves that engine-side query ids reach the
// registered capture and only it.
func TestQueryIDCapture(t *testing.T) {
	var got []string
	ctx := WithQueryIDCapture(context.Background(), func(id string) { got = append(got, id) })

	if !CapturesQueryID(ctx) {
		t.Error("CapturesQueryID should see the registered callback")
	}
	if CapturesQueryID(context.Background()) {
		t.Error("a bare context captures nothing")
	}

	NotifyQueryID(ctx, "4711")
	NotifyQueryID(ctx, "")
	NotifyQueryID(context.Background(), "ignored")

	if len(got) != 1 || got[0] != "4711" {
		t.Errorf("captured ids = %v, want [4711]", got)
	}
}

// TestRegistry_UnknownScheme proves that unroutable URLs fail with the
// offending scheme and the known schemes in the message.
func TestRegistry_UnknownScheme(t *testing.T) {
	reg := NewRegistry()
	reg.Register("sqlite", func(string) (Adapter, error) { return nil, nil })

	_, err := reg.Open("mystery://db")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "mystery") || !strings.Contains(err.Error(), "sqlite") {
		t.Errorf("error = %v", err)
	}

	if _, err := reg.Open("no-scheme-here"); err == nil {
		t.Error("URL without scheme should fail")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// TestExecuteWithRetry proves that transient failures are retried with
// every attempt recorded, and permanent failures stop immediately.
func TestExecuteWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	result := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return timeoutErr{}
		}
		return nil
	})
	if !result.Success || result.Attempts != 3 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Errors) != 2 {
		t.Errorf("errors = %v", result.Errors)
	}

	// A non-retryable error stops after the first attempt.
	calls = 0
	permanent := errors.New("syntax error")
	result = ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	if result.Success || result.Attempts != 1 || calls != 1 {
		t.Errorf("result = %+v calls = %d", result, calls)
	}
	if !errors.Is(result.LastError, permanent) {
		t.Errorf("last error = %v", result.LastError)
	}
}

// TestExecuteWithRetry_ContextCancel proves a cancelled context ends
// the retry loop.
func TestExecuteWithRetry_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := ExecuteWithRetry(ctx, DefaultRetryConfig(), func() error {
		t.Fatal("fn should not run with a cancelled context")
		return nil
	})
	if result.Success {
		t.Error("expected failure")
	}
	if !errors.Is(result.LastError, context.Canceled) {
		t.Errorf("last error = %v", result.LastError)
	}
}

// TestIsRetryable proves the transient / permanent split.
func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if IsRetryable(context.Canceled) || IsRetryable(context.DeadlineExceeded) {
		t.Error("context errors are not retryable")
	}
	if !IsRetryable(timeoutErr{}) {
		t.Error("network timeouts are retryable")
	}
	if IsRetryable(errors.New("relation does not exist")) {
		t.Error("SQL errors are not retryable")
	}
}
