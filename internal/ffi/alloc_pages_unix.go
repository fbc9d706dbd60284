//go:build darwin || freebsd || linux

package ffi

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func mapPages(length int) ([]byte, error) {
	return unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapPages(mapping []byte) error {
	return unix.Munmap(mapping)
}

func mappingAddr(mapping []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(mapping)))
}
