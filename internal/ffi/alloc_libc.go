package ffi

import (
	"fmt"
	"log"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	libcOnce sync.Once
	libcErr  error

	fnMalloc func(size uintptr) uintptr
	fnFree   func(ptr uintptr)
)

// libcPath returns the C runtime that owns malloc/free on this platform.
func libcPath() string {
	switch runtime.GOOS {
	case "darwin", "ios":
		return "/usr/lib/libSystem.B.dylib"
	case "windows":
		return "msvcrt.dll"
	case "freebsd":
		return "libc.so.7"
	default:
		return "libc.so.6"
	}
}

func initLibC() error {
	libcOnce.Do(func() {
		path := libcPath()
		handle, err := openLibrary(path)
		if err != nil {
			libcErr = fmt.Errorf("failed to load C runtime from %s: %w", path, err)
			return
		}
		if err := registerFunc(handle, &fnMalloc, "malloc"); err != nil {
			libcErr = err
			return
		}
		if err := registerFunc(handle, &fnFree, "free"); err != nil {
			libcErr = err
			return
		}
		log.Printf("ffi: C allocator loaded from %s", path)
	})
	return libcErr
}

// registerFunc binds the exported symbol name in handle to fn.
func registerFunc(handle uintptr, fn any, name string) error {
	sym, err := getSymbol(handle, name)
	if err != nil {
		return fmt.Errorf("symbol %s: %w", name, err)
	}
	purego.RegisterFunc(fn, sym)
	return nil
}

type libcAllocator struct{}

// LibC returns the process C allocator. libmpv releases byte arrays it owns
// with free(), so memory handed to it for keeps must come from here.
func LibC() (Allocator, error) {
	if err := initLibC(); err != nil {
		return nil, err
	}
	return libcAllocator{}, nil
}

func (libcAllocator) Malloc(size uintptr) uintptr {
	if size == 0 {
		size = 1
	}
	return fnMalloc(size)
}

func (libcAllocator) Free(ptr uintptr) {
	if ptr != 0 {
		fnFree(ptr)
	}
}
