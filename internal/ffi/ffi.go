// Package ffi binds the libmpv client API via purego.
// No cgo is involved: the library is opened at runtime and every entry point
// is registered into a Go function value.
package ffi

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"
)

// Library is the libmpv client ABI. Contexts are opaque native handles.
// Data pointers may point into Go memory for the duration of the call only.
type Library interface {
	ErrorString(code int32) string
	Free(ptr uintptr)
	FreeNodeContents(node unsafe.Pointer)
	ClientAPIVersion() uint64

	Create() uintptr
	Initialize(ctx uintptr) int32
	Destroy(ctx uintptr)
	TerminateDestroy(ctx uintptr)
	CreateClient(ctx uintptr, name string) uintptr
	CreateWeakClient(ctx uintptr, name string) uintptr
	ClientName(ctx uintptr) string
	ClientID(ctx uintptr) int64

	Command(ctx uintptr, args uintptr) int32
	CommandNode(ctx uintptr, args unsafe.Pointer, result unsafe.Pointer) int32
	CommandAsync(ctx uintptr, reply uint64, args uintptr) int32
	CommandNodeAsync(ctx uintptr, reply uint64, args unsafe.Pointer) int32

	SetProperty(ctx uintptr, name string, format int32, data unsafe.Pointer) int32
	SetPropertyAsync(ctx uintptr, reply uint64, name string, format int32, data unsafe.Pointer) int32
	GetProperty(ctx uintptr, name string, format int32, data unsafe.Pointer) int32
	GetPropertyAsync(ctx uintptr, reply uint64, name string, format int32) int32
	ObserveProperty(ctx uintptr, reply uint64, name string, format int32) int32
	UnobserveProperty(ctx uintptr, reply uint64) int32

	EventName(id int32) string
	RequestLogMessages(ctx uintptr, minLevel string) int32
	WaitEvent(ctx uintptr, timeout float64) uintptr
	Wakeup(ctx uintptr)

	HookAdd(ctx uintptr, reply uint64, name string, priority int32) int32
	HookContinue(ctx uintptr, id uint64) int32
}

// ============================================================================
// Library Loading
// ============================================================================

var (
	libs   = map[string]*mpvLib{}
	libsMu sync.Mutex
)

// candidateNames lists the libmpv sonames tried when no explicit path is set.
func candidateNames() []string {
	switch runtime.GOOS {
	case "darwin", "ios":
		return []string{"libmpv.2.dylib", "libmpv.dylib", "/opt/homebrew/lib/libmpv.dylib", "/usr/local/lib/libmpv.dylib"}
	case "windows":
		return []string{"libmpv-2.dll", "mpv-2.dll", "mpv-1.dll"}
	default:
		return []string{"libmpv.so.2", "libmpv.so.1", "libmpv.so"}
	}
}

// libraryPaths returns the paths to try, most specific first.
func libraryPaths(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	// Check environment variable first
	if path := os.Getenv("MPV_LIB_PATH"); path != "" {
		return []string{path}
	}

	var paths []string
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		for _, name := range candidateNames() {
			if filepath.IsAbs(name) {
				continue
			}
			if _, err := os.Stat(filepath.Join(execDir, name)); err == nil {
				paths = append(paths, filepath.Join(execDir, name))
			}
		}
	}
	// Default to library names (let the system loader find them)
	return append(paths, candidateNames()...)
}

// Load opens libmpv and registers every client entry point. An empty path
// searches MPV_LIB_PATH, the executable directory and the system loader path.
// Libraries are cached per path.
func Load(path string) (Library, error) {
	libsMu.Lock()
	defer libsMu.Unlock()

	if l, ok := libs[path]; ok {
		return l, nil
	}

	log.Printf("ffi: runtime.GOOS = %s, runtime.GOARCH = %s", runtime.GOOS, runtime.GOARCH)
	var lastErr error
	for _, candidate := range libraryPaths(path) {
		handle, err := openLibrary(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		log.Printf("ffi: loaded libmpv from %s", candidate)
		l := &mpvLib{handle: handle}
		if err := l.register(); err != nil {
			return nil, fmt.Errorf("failed to bind libmpv from %s: %w", candidate, err)
		}
		libs[path] = l
		return l, nil
	}
	return nil, fmt.Errorf("failed to load libmpv: %w", lastErr)
}

// mpvLib holds the registered entry points of one loaded libmpv.
type mpvLib struct {
	handle uintptr

	fnErrorString        func(code int32) string
	fnFree               func(ptr uintptr)
	fnFreeNodeContents   func(node unsafe.Pointer)
	fnClientAPIVersion   func() uint64
	fnCreate             func() uintptr
	fnInitialize         func(ctx uintptr) int32
	fnDestroy            func(ctx uintptr)
	fnTerminateDestroy   func(ctx uintptr)
	fnCreateClient       func(ctx uintptr, name string) uintptr
	fnCreateWeakClient   func(ctx uintptr, name string) uintptr
	fnClientName         func(ctx uintptr) string
	fnClientID           func(ctx uintptr) int64
	fnCommand            func(ctx uintptr, args uintptr) int32
	fnCommandNode        func(ctx uintptr, args unsafe.Pointer, result unsafe.Pointer) int32
	fnCommandAsync       func(ctx uintptr, reply uint64, args uintptr) int32
	fnCommandNodeAsync   func(ctx uintptr, reply uint64, args unsafe.Pointer) int32
	fnSetProperty        func(ctx uintptr, name string, format int32, data unsafe.Pointer) int32
	fnSetPropertyAsync   func(ctx uintptr, reply uint64, name string, format int32, data unsafe.Pointer) int32
	fnGetProperty        func(ctx uintptr, name string, format int32, data unsafe.Pointer) int32
	fnGetPropertyAsync   func(ctx uintptr, reply uint64, name string, format int32) int32
	fnObserveProperty    func(ctx uintptr, reply uint64, name string, format int32) int32
	fnUnobserveProperty  func(ctx uintptr, reply uint64) int32
	fnEventName          func(id int32) string
	fnRequestLogMessages func(ctx uintptr, minLevel string) int32
	fnWaitEvent          func(ctx uintptr, timeout float64) uintptr
	fnWakeup             func(ctx uintptr)
	fnHookAdd            func(ctx uintptr, reply uint64, name string, priority int32) int32
	fnHookContinue       func(ctx uintptr, id uint64) int32
}

func (l *mpvLib) register() error {
	bindings := []struct {
		fn   any
		name string
	}{
		{&l.fnErrorString, "mpv_error_string"},
		{&l.fnFree, "mpv_free"},
		{&l.fnFreeNodeContents, "mpv_free_node_contents"},
		{&l.fnClientAPIVersion, "mpv_client_api_version"},
		{&l.fnCreate, "mpv_create"},
		{&l.fnInitialize, "mpv_initialize"},
		{&l.fnDestroy, "mpv_destroy"},
		{&l.fnTerminateDestroy, "mpv_terminate_destroy"},
		{&l.fnCreateClient, "mpv_create_client"},
		{&l.fnCreateWeakClient, "mpv_create_weak_client"},
		{&l.fnClientName, "mpv_client_name"},
		{&l.fnClientID, "mpv_client_id"},
		{&l.fnCommand, "mpv_command"},
		{&l.fnCommandNode, "mpv_command_node"},
		{&l.fnCommandAsync, "mpv_command_async"},
		{&l.fnCommandNodeAsync, "mpv_command_node_async"},
		{&l.fnSetProperty, "mpv_set_property"},
		{&l.fnSetPropertyAsync, "mpv_set_property_async"},
		{&l.fnGetProperty, "mpv_get_property"},
		{&l.fnGetPropertyAsync, "mpv_get_property_async"},
		{&l.fnObserveProperty, "mpv_observe_property"},
		{&l.fnUnobserveProperty, "mpv_unobserve_property"},
		{&l.fnEventName, "mpv_event_name"},
		{&l.fnRequestLogMessages, "mpv_request_log_messages"},
		{&l.fnWaitEvent, "mpv_wait_event"},
		{&l.fnWakeup, "mpv_wakeup"},
		{&l.fnHookAdd, "mpv_hook_add"},
		{&l.fnHookContinue, "mpv_hook_continue"},
	}
	for _, b := range bindings {
		if err := registerFunc(l.handle, b.fn, b.name); err != nil {
			return err
		}
	}
	return nil
}

func (l *mpvLib) ErrorString(code int32) string { return l.fnErrorString(code) }
func (l *mpvLib) Free(ptr uintptr) { l.fnFree(ptr) }
func (l *mpvLib) FreeNodeContents(node unsafe.Pointer) { l.fnFreeNodeContents(node) }
func (l *mpvLib) ClientAPIVersion() uint64 { return l.fnClientAPIVersion() }
func (l *mpvLib) Create() uintptr { return l.fnCreate() }
func (l *mpvLib) Initialize(ctx uintptr) int32 { return l.fnInitialize(ctx) }
func (l *mpvLib) Destroy(ctx uintptr) { l.fnDestroy(ctx) }
func (l *mpvLib) TerminateDestroy(ctx uintptr) { l.fnTerminateDestroy(ctx) }
func (l *mpvLib) ClientName(ctx uintptr) string { return l.fnClientName(ctx) }
func (l *mpvLib) ClientID(ctx uintptr) int64 { return l.fnClientID(ctx) }
func (l *mpvLib) EventName(id int32) string { return l.fnEventName(id) }
func (l *mpvLib) Wakeup(ctx uintptr) { l.fnWakeup(ctx) }

func (l *mpvLib) CreateClient(ctx uintptr, name string) uintptr {
	return l.fnCreateClient(ctx, name)
}

func (l *mpvLib) CreateWeakClient(ctx uintptr, name string) uintptr {
	return l.fnCreateWeakClient(ctx, name)
}

func (l *mpvLib) Command(ctx uintptr, args uintptr) int32 {
	return l.fnCommand(ctx, args)
}

func (l *mpvLib) CommandNode(ctx uintptr, args unsafe.Pointer, result unsafe.Pointer) int32 {
	return l.fnCommandNode(ctx, args, result)
}

func (l *mpvLib) CommandAsync(ctx uintptr, reply uint64, args uintptr) int32 {
	return l.fnCommandAsync(ctx, reply, args)
}

func (l *mpvLib) CommandNodeAsync(ctx uintptr, reply uint64, args unsafe.Pointer) int32 {
	return l.fnCommandNodeAsync(ctx, reply, args)
}

func (l *mpvLib) SetProperty(ctx uintptr, name string, format int32, data unsafe.Pointer) int32 {
	return l.fnSetProperty(ctx, name, format, data)
}

func (l *mpvLib) SetPropertyAsync(ctx uintptr, reply uint64, name string, format int32, data unsafe.Pointer) int32 {
	return l.fnSetPropertyAsync(ctx, reply, name, format, data)
}

func (l *mpvLib) GetProperty(ctx uintptr, name string, format int32, data unsafe.Pointer) int32 {
	return l.fnGetProperty(ctx, name, format, data)
}

func (l *mpvLib) GetPropertyAsync(ctx uintptr, reply uint64, name string, format int32) int32 {
	return l.fnGetPropertyAsync(ctx, reply, name, format)
}

func (l *mpvLib) ObserveProperty(ctx uintptr, reply uint64, name string, format int32) int32 {
	return l.fnObserveProperty(ctx, reply, name, format)
}

func (l *mpvLib) UnobserveProperty(ctx uintptr, reply uint64) int32 {
	return l.fnUnobserveProperty(ctx, reply)
}

func (l *mpvLib) RequestLogMessages(ctx uintptr, minLevel string) int32 {
	return l.fnRequestLogMessages(ctx, minLevel)
}

func (l *mpvLib) WaitEvent(ctx uintptr, timeout float64) uintptr {
	return l.fnWaitEvent(ctx, timeout)
}

func (l *mpvLib) HookAdd(ctx uintptr, reply uint64, name string, priority int32) int32 {
	return l.fnHookAdd(ctx, reply, name, priority)
}

func (l *mpvLib) HookContinue(ctx uintptr, id uint64) int32 {
	return l.fnHookContinue(ctx, id)
}
