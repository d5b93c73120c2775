package budget

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestClassify_PassesThroughClassifiedErrors(t *testing.T) {
	orig := NewError(KindAuth, "invalid-password", "bad credentials")

	got := Classify(orig)
	if got != orig {
		t.Errorf("expected identical error back, got %v", got)
	}

	// Wrapped classified errors unwrap to the original classification.
	wrapped := fmt.Errorf("login: %w", orig)
	got = Classify(wrapped)
	if got.Kind != KindAuth || got.Code != "invalid-password" {
		t.Errorf("expected wrapped auth error to classify unchanged, got %v", got)
	}
}

func TestClassify_NetworkErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"dns failure", &net.DNSError{Err: "lookup failed", Name: "budget.example.com"}},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}},
		{"connection reset", syscall.ECONNRESET},
		{"connection refused", syscall.ECONNREFUSED},
		{"broken pipe", syscall.EPIPE},
		{"literal network-failure", errors.New("PostError: network-failure")},
		{"literal no such host", errors.New("dial tcp: lookup api: no such host")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got.Kind != KindNetwork {
				t.Errorf("expected network kind, got %v", got.Kind)
			}
			if !IsRetryable(tc.err) {
				t.Error("expected network error to be retryable")
			}
		})
	}
}

func TestClassify_UnknownErrors(t *testing.T) {
	got := Classify(errors.New("unexpected response shape"))
	if got.Kind != KindUnknown {
		t.Errorf("expected unknown kind, got %v", got.Kind)
	}
	if IsRetryable(got) {
		t.Error("unknown errors must not be retried")
	}
}

func TestClassify_Nil(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		want bool
	}{
		{KindRateLimit, true},
		{KindNetwork, true},
		{KindAuth, false},
		{KindDecryption, false},
		{KindUnknown, false},
	}

	for _, tc := range cases {
		err := NewError(tc.kind, "", "test")
		if got := IsRetryable(err); got != tc.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}

	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
}

func TestErrorString(t *testing.T) {
	withCode := NewError(KindAuth, "invalid-password", "bad credentials")
	if withCode.Error() != "auth (invalid-password): bad credentials" {
		t.Errorf("unexpected message: %q", withCode.Error())
	}

	withoutCode := NewError(KindNetwork, "", "connection reset")
	if withoutCode.Error() != "network: connection reset" {
		t.Errorf("unexpected message: %q", withoutCode.Error())
	}
}

func TestWrapError_PreservesCause(t *testing.T) {
	cause := errors.New("tcp dial timeout")
	err := WrapError(KindNetwork, "", cause)

	if !errors.Is(err, cause) {
		t.Error("expected wrapped error to match its cause")
	}
}
