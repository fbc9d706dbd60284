//go:build windows

package ffi

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func mapPages(length int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(length), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length), nil
}

func unmapPages(mapping []byte) error {
	return windows.VirtualFree(mappingAddr(mapping), 0, windows.MEM_RELEASE)
}

func mappingAddr(mapping []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(mapping)))
}
