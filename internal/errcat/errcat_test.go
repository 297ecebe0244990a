package errcat

import (
	"errors"
	"testing"
)

func TestFatalError(t *testing.T) {
	underlying := errors.New("disk full")
	err := NewFatal("write_index", underlying)

	if err.Error() != "fatal: write_index: disk full" {
		t.Errorf("Error() = %q, want %q", err.Error(), "fatal: write_index: disk full")
	}
	if !errors.Is(err, ErrFatal) {
		t.Error("expected errors.Is(err, ErrFatal) to be true")
	}
	if !errors.Is(err, underlying) {
		t.Error("expected errors.Is(err, underlying) to be true")
	}
}

func TestFatalErrorNoUnderlying(t *testing.T) {
	err := NewFatal("create", nil)
	if err.Error() != "fatal: create" {
		t.Errorf("Error() = %q, want %q", err.Error(), "fatal: create")
	}
	if !errors.Is(err, ErrFatal) {
		t.Error("expected errors.Is(err, ErrFatal) to be true")
	}
}

func TestTornReadError(t *testing.T) {
	err := NewTornRead(2, 5, "checksum mismatch")
	want := "torn read (checksum mismatch) on attempt 2/5"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrTornRead) {
		t.Error("expected errors.Is(err, ErrTornRead) to be true")
	}
}

func TestCapacityError(t *testing.T) {
	err := NewCapacity(128, 128)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Error("expected errors.Is(err, ErrCapacityExceeded) to be true")
	}
	want := "index capacity exceeded: 128 entries used, capacity 128"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestLogicError(t *testing.T) {
	err := NewLogic("delayed_write_bound", "tick 42 outside [10, 15]")
	if !errors.Is(err, ErrLogicViolation) {
		t.Error("expected errors.Is(err, ErrLogicViolation) to be true")
	}
	want := "logic violation (delayed_write_bound): tick 42 outside [10, 15]"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIOError(t *testing.T) {
	underlying := errors.New("permission denied")

	tests := []struct {
		name string
		err  *IOError
		want string
	}{
		{"with path", NewIO("open", "/tmp/md.file", underlying), "failed to open /tmp/md.file: permission denied"},
		{"without path", NewIO("flush", "", underlying), "failed to flush: permission denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.want {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.want)
			}
			if !errors.Is(tt.err, underlying) {
				t.Error("expected errors.Is to unwrap to underlying error")
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidation("max_lag", "must be positive")
	want := "validation failed for max_lag: must be positive"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestBestEffortError(t *testing.T) {
	underlying := errors.New("unlink failed")
	err := NewBestEffort("unlink_md_file", underlying)
	if !errors.Is(err, ErrBestEffort) {
		t.Error("expected errors.Is(err, ErrBestEffort) to be true")
	}
	if !errors.Is(err, underlying) {
		t.Error("expected errors.Is(err, underlying) to be true")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("expected Wrap(nil, ...) to return nil")
	}

	underlying := errors.New("boom")
	wrapped := Wrap(underlying, "writing index")
	if wrapped.Error() != "writing index: boom" {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), "writing index: boom")
	}
	if !Is(wrapped, underlying) {
		t.Error("expected Is(wrapped, underlying) to be true")
	}
}

func TestAs(t *testing.T) {
	var err error = NewCapacity(4, 4)
	var capErr *CapacityError
	if !As(err, &capErr) {
		t.Fatal("expected As to match *CapacityError")
	}
	if capErr.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4", capErr.Capacity)
	}
}
