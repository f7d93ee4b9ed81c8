package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// --- Construction ---

func TestNew(t *testing.T) {
	err := New(ErrCodeNotFound, "tag missing")

	if err.Code() != ErrCodeNotFound {
		t.Errorf("Code() = %v, want %v", err.Code(), ErrCodeNotFound)
	}
	if err.Category() != CategoryPermanent {
		t.Errorf("Category() = %v, want %v", err.Category(), CategoryPermanent)
	}
	if err.Error() != "tag missing" {
		t.Errorf("Error() = %q, want %q", err.Error(), "tag missing")
	}
	if err.Timestamp().IsZero() {
		t.Error("expected non-zero timestamp")
	}
	if err.Retryable() {
		t.Error("permanent error should not be retryable")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrCodeInvalidInput, "alive interval %d must be positive", 0)
	if err.Error() != "alive interval 0 must be positive" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestDefaultCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeUnavailable, CategoryTransient},
		{ErrCodeTimeout, CategoryTransient},
		{ErrCodeNotFound, CategoryPermanent},
		{ErrCodePrecondition, CategoryPermanent},
		{ErrCodeInvalidInput, CategoryPermanent},
		{ErrCodeInconsistent, CategoryInternal},
		{ErrCodePanic, CategoryInternal},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.DefaultCategory(); got != tt.want {
				t.Errorf("DefaultCategory() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDescription(t *testing.T) {
	if ErrCodeInconsistent.Description() != "configuration inconsistency" {
		t.Errorf("unexpected description %q", ErrCodeInconsistent.Description())
	}
	if ErrorCode("NOPE").Description() != "unknown error" {
		t.Error("unknown codes should describe as unknown error")
	}
}

func TestEntityAndTagIDs(t *testing.T) {
	e := EntityNotFound("P1")
	if e.EntityID() != "P1" {
		t.Errorf("EntityID() = %q, want P1", e.EntityID())
	}
	tg := TagNotFound("T1")
	if tg.TagID() != "T1" {
		t.Errorf("TagID() = %q, want T1", tg.TagID())
	}
}

func TestMetadataImmutability(t *testing.T) {
	err := New(ErrCodeInternal, "x", WithMetadata("k", "v"))
	md := err.Metadata()
	md["k"] = "changed"

	if err.Metadata()["k"] != "v" {
		t.Error("metadata should not be mutable through the returned map")
	}
}

// --- Wrapping ---

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "nothing") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if WrapWithCode(nil, ErrCodeInternal, "nothing") != nil {
		t.Error("WrapWithCode(nil) should return nil")
	}
}

func TestWrapPreservesCode(t *testing.T) {
	inner := TagNotFound("T1")
	wrapped := Wrap(inner, "cascading fault tag")

	if wrapped.Code() != ErrCodeNotFound {
		t.Errorf("Code() = %v, want NOT_FOUND", wrapped.Code())
	}
	if wrapped.TagID() != "T1" {
		t.Errorf("TagID() = %q, want T1", wrapped.TagID())
	}
	if !errors.Is(wrapped, inner) {
		t.Error("wrapped error should unwrap to inner")
	}
}

func TestWrapPlainError(t *testing.T) {
	wrapped := Wrap(fmt.Errorf("boom"), "scan entity")
	if wrapped.Code() != ErrCodeInternal {
		t.Errorf("Code() = %v, want INTERNAL", wrapped.Code())
	}
}

func TestWrapContextErrors(t *testing.T) {
	if Wrap(context.DeadlineExceeded, "x").Code() != ErrCodeTimeout {
		t.Error("deadline exceeded should map to TIMEOUT")
	}
	if Wrap(context.Canceled, "x").Code() != ErrCodeCanceled {
		t.Error("canceled should map to CANCELED")
	}
}

func TestIsWalksChain(t *testing.T) {
	inner := TagNotFound("T1")
	outer := WrapWithCode(inner, ErrCodeInconsistent, "configured fault tag missing")

	if !Is(outer, ErrCodeInconsistent) {
		t.Error("expected INCONSISTENT on outer error")
	}
	if !Is(outer, ErrCodeNotFound) {
		t.Error("expected NOT_FOUND further down the chain")
	}
	if Is(outer, ErrCodePrecondition) {
		t.Error("unexpected PRECONDITION match")
	}
	if !IsNotFound(fmt.Errorf("lookup: %w", inner)) {
		t.Error("IsNotFound should see through fmt wrapping")
	}
	if Is(fmt.Errorf("plain"), ErrCodeNotFound) {
		t.Error("plain errors carry no code")
	}
}

func TestIsCategory(t *testing.T) {
	if !IsCategory(Precondition("nil update"), CategoryPermanent) {
		t.Error("precondition should be permanent")
	}
	if IsCategory(fmt.Errorf("plain"), CategoryPermanent) {
		t.Error("plain errors have no category")
	}
}

func TestCode(t *testing.T) {
	if Code(Inconsistent("x")) != ErrCodeInconsistent {
		t.Error("Code() should extract INCONSISTENT")
	}
	if Code(fmt.Errorf("plain")) != "" {
		t.Error("Code() of plain error should be empty")
	}
}

// --- Panics ---

func TestRecoverPanic(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("RecoverPanic(nil) should return nil")
	}

	tests := []struct {
		name string
		in   interface{}
		msg  string
	}{
		{"error", fmt.Errorf("listener blew up"), "listener blew up"},
		{"string", "index out of range", "index out of range"},
		{"other", 42, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RecoverPanic(tt.in, WithTagID("T1"))
			if err.Code() != ErrCodePanic {
				t.Errorf("Code() = %v, want PANIC", err.Code())
			}
			if err.Error() != tt.msg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.msg)
			}
			if err.TagID() != "T1" {
				t.Errorf("TagID() = %q, want T1", err.TagID())
			}
			if err.Metadata()["panic_value"] == "" {
				t.Error("expected panic_value metadata")
			}
		})
	}
}

func TestIsJoined(t *testing.T) {
	err := Join(fmt.Errorf("plain"), WrapWithCode(TagNotFound("S1"), ErrCodeInconsistent, "state tag missing"))
	if !Is(err, ErrCodeInconsistent) || !IsNotFound(err) {
		t.Error("Is should search every member of a joined error")
	}
	if Is(Join(), ErrCodeNotFound) {
		t.Error("empty join matches nothing")
	}
}
