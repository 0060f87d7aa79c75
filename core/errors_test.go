package core

import (
	"errors"
	"testing"
)

func TestRunErrorUnwrapAndIsKind(t *testing.T) {
	cause := errors.New("boom")
	err := NewRunError(KindPropensityError, 3, 7, cause)

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is did not find wrapped cause")
	}
	if !IsKind(err, KindPropensityError) {
		t.Fatalf("IsKind(err, KindPropensityError) = false, want true")
	}
	if IsKind(err, KindCancelled) {
		t.Fatalf("IsKind(err, KindCancelled) = true, want false")
	}
	if IsKind(cause, KindPropensityError) {
		t.Fatalf("IsKind on a plain error should be false")
	}
}
