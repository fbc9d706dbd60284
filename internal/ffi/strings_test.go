package ffi

import (
	"errors"
	"testing"
	"unsafe"
)

func TestCStringRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		size uintptr
	}{
		{name: "empty", in: "", size: 1},
		{name: "ascii", in: "hello", size: 6},
		{name: "utf8", in: "grüße", size: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewPageAllocator()
			p, err := CString(a, tt.in)
			if err != nil {
				t.Fatalf("CString(%q) error = %v", tt.in, err)
			}
			if got := a.Size(p); got != tt.size {
				t.Errorf("allocation size = %d, want %d", got, tt.size)
			}
			if last := *(*byte)(unsafe.Pointer(p + tt.size - 1)); last != 0 {
				t.Errorf("last byte = %d, want NUL", last)
			}
			if got := GoString(p); got != tt.in {
				t.Errorf("GoString = %q, want %q", got, tt.in)
			}
			a.Free(p)
			if a.Live() != 0 {
				t.Errorf("%d blocks still live", a.Live())
			}
		})
	}
}

func TestCStringRejectsNUL(t *testing.T) {
	a := NewPageAllocator()
	_, err := CString(a, "a\x00b")
	if !errors.Is(err, ErrEmbeddedNUL) {
		t.Fatalf("error = %v, want ErrEmbeddedNUL", err)
	}
	if a.Live() != 0 {
		t.Errorf("%d blocks leaked", a.Live())
	}
}

func TestCStringArray(t *testing.T) {
	a := NewPageAllocator()
	args := []string{"loadfile", "video.mkv", "append"}

	arr, err := CStringArray(a, args)
	if err != nil {
		t.Fatalf("CStringArray error = %v", err)
	}
	if PtrAt(arr, len(args)) != 0 {
		t.Error("array is not NULL terminated")
	}
	got := GoStringList(arr)
	if len(got) != len(args) {
		t.Fatalf("GoStringList len = %d, want %d", len(got), len(args))
	}
	for i := range args {
		if got[i] != args[i] {
			t.Errorf("arg %d = %q, want %q", i, got[i], args[i])
		}
	}
	if n := GoStringArray(arr, 2); len(n) != 2 || n[1] != "video.mkv" {
		t.Errorf("GoStringArray = %q", n)
	}

	FreeStringArray(a, arr)
	if a.Live() != 0 {
		t.Errorf("%d blocks still live", a.Live())
	}
}

func TestCStringArrayUnwindsOnError(t *testing.T) {
	a := NewPageAllocator()
	_, err := CStringArray(a, []string{"ok", "bad\x00", "never"})
	if !errors.Is(err, ErrEmbeddedNUL) {
		t.Fatalf("error = %v, want ErrEmbeddedNUL", err)
	}
	if a.Live() != 0 {
		t.Errorf("%d blocks leaked", a.Live())
	}
}

func TestCopyBytes(t *testing.T) {
	a := NewPageAllocator()

	p, err := CopyBytes(a, nil)
	if err != nil || p != 0 {
		t.Errorf("CopyBytes(nil) = %#x, %v; want 0, nil", p, err)
	}

	in := []byte{0, 1, 2, 0xff}
	p, err = CopyBytes(a, in)
	if err != nil {
		t.Fatalf("CopyBytes error = %v", err)
	}
	out := GoBytes(p, uintptr(len(in)))
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("byte %d = %d, want %d", i, out[i], in[i])
		}
	}
	a.Free(p)
	if a.Live() != 0 {
		t.Errorf("%d blocks still live", a.Live())
	}
}

func TestGoStringNull(t *testing.T) {
	if got := GoString(0); got != "" {
		t.Errorf("GoString(0) = %q, want empty", got)
	}
	if got := GoStringList(0); len(got) != 0 {
		t.Errorf("GoStringList(0) = %q, want empty", got)
	}
}
