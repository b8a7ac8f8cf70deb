package reentry

import (
	"errors"
	"testing"
)

func TestNestedEnterRejected(t *testing.T) {
	var g Guard
	release, err := g.Enter()
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := g.Enter(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	release()
	if _, err := g.Enter(); err != nil {
		t.Fatalf("enter after release: %v", err)
	}
}

func TestRejectedNestedAttemptDoesNotReleaseOuter(t *testing.T) {
	var g Guard
	release, err := g.Enter()
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := g.Enter(); !errors.Is(err, ErrReentrantCall) {
			t.Fatalf("nested attempt %d: expected ErrReentrantCall, got %v", i, err)
		}
	}
	// The outer hold is untouched by the rejected attempts.
	if _, err := g.Enter(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected guard still held, got %v", err)
	}
	release()
	release2, err := g.Enter()
	if err != nil {
		t.Fatalf("re-enter after release: %v", err)
	}
	release2()
}
