package veritas

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubProvider is a test Provider that returns pre-configured results in
// order, one per Chat call.
type stubProvider struct {
	calls   int
	results []stubResult
}

type stubResult struct {
	resp ChatResponse
	err  error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i].resp, s.results[i].err
	}
	return ChatResponse{}, nil
}

var _ Provider = (*stubProvider)(nil)

func TestWithRetry_SucceedsFirstAttempt(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: ChatResponse{Content: "hello"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("got %q, want %q", resp.Content, "hello")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1", stub.calls)
	}
}

func TestWithRetry_RetriesOnBackendUnavailable(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &BackendUnavailableError{Backend: "llm", Err: errors.New("connection reset")}},
		{resp: ChatResponse{Content: "hello"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("got %q, want %q", resp.Content, "hello")
	}
	if stub.calls != 2 {
		t.Errorf("got %d calls, want 2", stub.calls)
	}
}

func TestWithRetry_DoesNotRetryNonTransient(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: errors.New("bad request")},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	_, err := p.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1 (no retry for non-transient error)", stub.calls)
	}
}

func TestWithRetry_ExhaustsMaxAttempts(t *testing.T) {
	transient := stubResult{err: &BackendUnavailableError{Backend: "llm", Err: errors.New("unavailable")}}
	stub := &stubProvider{results: []stubResult{transient, transient, transient, transient}}
	p := WithRetry(stub, RetryBaseDelay(0), RetryMaxAttempts(3))

	_, err := p.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error after max attempts, got nil")
	}
	if stub.calls != 3 {
		t.Errorf("got %d calls, want 3", stub.calls)
	}
	var beErr *BackendUnavailableError
	if !errors.As(err, &beErr) {
		t.Errorf("expected final error to unwrap to BackendUnavailableError, got %v", err)
	}
}

func TestWithRetry_NameDelegates(t *testing.T) {
	stub := &stubProvider{}
	p := WithRetry(stub)
	if p.Name() != "stub" {
		t.Errorf("Name() = %q, want %q", p.Name(), "stub")
	}
}

func TestWithRetry_RespectsOverallTimeout(t *testing.T) {
	transient := stubResult{err: &BackendUnavailableError{Backend: "llm", Err: errors.New("unavailable")}}
	stub := &stubProvider{results: []stubResult{transient, transient, transient}}
	p := WithRetry(stub, RetryBaseDelay(50*time.Millisecond), RetryTimeout(10*time.Millisecond), RetryMaxAttempts(5))

	start := time.Now()
	_, err := p.Chat(context.Background(), ChatRequest{})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error due to timeout, got nil")
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("retry loop ran too long (%v) given a 10ms overall timeout", elapsed)
	}
}

func TestWithRetry_CancelledContextStopsRetry(t *testing.T) {
	transient := stubResult{err: &BackendUnavailableError{Backend: "llm", Err: errors.New("unavailable")}}
	stub := &stubProvider{results: []stubResult{transient, transient, transient}}
	p := WithRetry(stub, RetryBaseDelay(time.Second), RetryMaxAttempts(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Chat(ctx, ChatRequest{})
	if err == nil {
		t.Fatal("expected error from cancelled context, got nil")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1 (cancellation should stop before first retry sleep completes)", stub.calls)
	}
}
