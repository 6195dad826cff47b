package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewPopulatesEnvelope(t *testing.T) {
	cause := errors.New("connection refused")
	err := New("router/notify", CodePersistence,
		WithMessage("create notification"),
		WithHTTP(503),
		WithCause(cause),
	)

	if err.Scope != "router/notify" {
		t.Fatalf("scope = %q", err.Scope)
	}
	if err.Code != CodePersistence {
		t.Fatalf("code = %q", err.Code)
	}
	if err.HTTP != 503 {
		t.Fatalf("http = %d", err.HTTP)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to unwrap")
	}
}

func TestErrorStringContainsParts(t *testing.T) {
	err := New("registry/join", CodeInvalid, WithMessage("channel required"))
	msg := err.Error()
	for _, want := range []string{"scope=registry/join", "code=invalid_request", `message="channel required"`} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error string %q missing %q", msg, want)
		}
	}
}

func TestErrorNil(t *testing.T) {
	var err *E
	if got := err.Error(); got != "<nil>" {
		t.Fatalf("nil error string = %q", got)
	}
}

func TestCodeOfWrappedError(t *testing.T) {
	inner := New("locations/record", CodeInvalid)
	wrapped := fmt.Errorf("record sample: %w", inner)

	if got := CodeOf(wrapped); got != CodeInvalid {
		t.Fatalf("CodeOf = %q, want %q", got, CodeInvalid)
	}
	if !IsCode(wrapped, CodeInvalid) {
		t.Fatal("IsCode should match through wrapping")
	}
	if IsCode(errors.New("plain"), CodeInvalid) {
		t.Fatal("IsCode should not match plain errors")
	}
}
