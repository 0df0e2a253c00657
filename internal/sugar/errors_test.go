package sugar

import (
	"errors"
	"testing"
)

func TestSafeReturnsError(t *testing.T) {
	want := errors.New("boom")
	if err := Safe(func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("Safe() = %v, want %v", err, want)
	}
}

func TestSafeRecoversPanic(t *testing.T) {
	err := Safe(func() error { panic("bad callback") })

	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("Safe() = %v, want *PanicError", err)
	}
	if panicErr.Value != "bad callback" {
		t.Fatalf("panic value = %v", panicErr.Value)
	}
	if len(panicErr.Stack) == 0 {
		t.Fatal("expected stack trace")
	}
}
