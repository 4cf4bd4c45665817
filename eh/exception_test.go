package eh

import (
	"errors"
	"strings"
	"testing"
)

func TestCoreIDsAreStable(t *testing.T) {
	// The supervisor indexes the same table; these values are part of the
	// protocol.
	fixed := map[string]uint32{
		"RuntimeError":               0,
		"RTIOUnderflow":              1,
		"RTIODestinationUnreachable": 3,
		"DMAError":                   4,
		"I2CError":                   5,
		"CacheError":                 6,
		"SPIError":                   7,
		"SubkernelError":             8,
	}
	for name, want := range fixed {
		if got := GetExceptionID(name); got != want {
			t.Fatalf("GetExceptionID(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestGetExceptionIDInternsNewNames(t *testing.T) {
	a := GetExceptionID("TestOnlyError")
	b := GetExceptionID("TestOnlyError")
	if a != b {
		t.Fatalf("interning not stable: %d != %d", a, b)
	}
	if Name(a) != "TestOnlyError" {
		t.Fatalf("Name(%d) = %q", a, Name(a))
	}
}

func TestNewCapturesRaiseSite(t *testing.T) {
	e := New("DMAError", "DMA trace not found")
	if e.ID != GetExceptionID("DMAError") {
		t.Fatalf("unexpected id %d", e.ID)
	}
	if !strings.HasSuffix(e.File, "exception_test.go") {
		t.Fatalf("expected raise site in this file, got %q", e.File)
	}
	if e.Line == 0 {
		t.Fatal("expected a nonzero raise line")
	}
	if e.Function == "(unknown)" {
		t.Fatal("expected a resolved function name")
	}
}

func TestExceptionIsAnError(t *testing.T) {
	var err error = New("CacheError", "cannot put into a busy cache row")
	var exn *Exception
	if !errors.As(err, &exn) {
		t.Fatal("expected errors.As to find the exception")
	}
	if got := err.Error(); got != "CacheError: cannot put into a busy cache row" {
		t.Fatalf("unexpected Error(): %q", got)
	}
}

func TestStageCopiesByValue(t *testing.T) {
	ResetBuffer(0x4000_0000)

	src := New("RuntimeError", "original", 1, 2, 3)
	staged := Stage(src)
	if staged == src {
		t.Fatal("Stage must copy, not alias")
	}

	// Mutating the source after staging must not leak into the staged copy.
	src.Message = "mutated"
	src.Param[0] = 99
	if staged.Message != "original" || staged.Param[0] != 1 {
		t.Fatalf("staged copy changed: %+v", staged)
	}
}

func TestStageRecyclesSlots(t *testing.T) {
	ResetBuffer(0)
	first := Stage(New("RuntimeError", "first"))
	for i := 0; i < stagingSlots; i++ {
		Stage(New("RuntimeError", "later"))
	}
	if first.Message != "later" {
		t.Fatalf("expected oldest slot recycled, got %q", first.Message)
	}
}
