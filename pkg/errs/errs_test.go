package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/authapp/iamcore/pkg/errs"
)

func TestKindClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"invalid argument", errs.NewInvalidArgument(nil, "TEST-in1", "bad input"), errs.IsInvalidArgument},
		{"not found", errs.NewNotFound(nil, "TEST-nf1", "missing"), errs.IsNotFound},
		{"precondition failed", errs.NewPreconditionFailed(nil, "TEST-pc1", "wrong state"), errs.IsPreconditionFailed},
		{"already exists", errs.NewAlreadyExists(nil, "TEST-ae1", "taken"), errs.IsAlreadyExists},
		{"permission denied", errs.NewPermissionDenied(nil, "TEST-pd1", "denied"), errs.IsPermissionDenied},
		{"conflict", errs.NewConflict(nil, "TEST-cf1", "lost race"), errs.IsConflict},
		{"internal", errs.NewInternal(nil, "TEST-it1", "boom"), errs.IsInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("expected %v to match its own kind", tt.err)
			}
			// Exactly one kind must match.
			matches := 0
			for _, check := range []func(error) bool{
				errs.IsInvalidArgument, errs.IsNotFound, errs.IsPreconditionFailed,
				errs.IsAlreadyExists, errs.IsPermissionDenied, errs.IsConflict, errs.IsInternal,
			} {
				if check(tt.err) {
					matches++
				}
			}
			if matches != 1 {
				t.Errorf("expected exactly one kind match, got %d", matches)
			}
		})
	}
}

func TestClassificationThroughWrapping(t *testing.T) {
	inner := errs.NewConflict(nil, "TEST-wrap", "version moved")
	wrapped := fmt.Errorf("push failed: %w", inner)

	if !errs.IsConflict(wrapped) {
		t.Error("expected conflict kind to survive fmt.Errorf wrapping")
	}
	if errs.IsNotFound(wrapped) {
		t.Error("wrapped conflict must not classify as not found")
	}
}

func TestErrorsIsMatchesKindAndID(t *testing.T) {
	err := errs.NewNotFound(nil, "TEST-id42", "user missing")

	if !errors.Is(err, &errs.Error{Kind: errs.KindNotFound, ID: "TEST-id42"}) {
		t.Error("expected match on kind and id")
	}
	if !errors.Is(err, &errs.Error{Kind: errs.KindNotFound}) {
		t.Error("expected empty id to match any id of the same kind")
	}
	if errors.Is(err, &errs.Error{Kind: errs.KindNotFound, ID: "TEST-other"}) {
		t.Error("expected mismatch on different id")
	}
}

func TestParentIsPreserved(t *testing.T) {
	parent := errors.New("driver: disk I/O error")
	err := errs.NewInternal(parent, "TEST-pr1", "append failed")

	if !errors.Is(err, parent) {
		t.Error("expected parent to be reachable via errors.Is")
	}
	var typed *errs.Error
	if !errors.As(err, &typed) {
		t.Fatal("expected errors.As to find *errs.Error")
	}
	if typed.ID != "TEST-pr1" {
		t.Errorf("unexpected id %q", typed.ID)
	}
}
