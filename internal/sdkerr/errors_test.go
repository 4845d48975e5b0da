package sdkerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(ErrTransport, "read account", "StateAddr", cause)

	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport match")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause match")
	}
	if errors.Is(err, ErrDecode) {
		t.Fatalf("unexpected ErrDecode match")
	}

	msg := err.Error()
	for _, want := range []string{"read account", "StateAddr", "transport error", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q missing %q", msg, want)
		}
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("initialize market: %w", New(ErrInvalidMarketIndex, "initialize market", "64", nil))
	if got := KindOf(err); got != ErrInvalidMarketIndex {
		t.Fatalf("KindOf = %v, want %v", got, ErrInvalidMarketIndex)
	}
	if got := KindOf(errors.New("plain")); got != nil {
		t.Fatalf("KindOf(plain) = %v, want nil", got)
	}
}

func TestAsExposesSubject(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(ErrAlreadyInitialized, "initialize clearing house", "state", errors.New("state account exists")))

	var sdkErr *Error
	if !errors.As(err, &sdkErr) {
		t.Fatalf("errors.As failed")
	}
	if sdkErr.Subject != "state" || sdkErr.Op != "initialize clearing house" {
		t.Fatalf("unexpected error fields: %+v", sdkErr)
	}
}
