//go:build linux

package scu

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DevMem is a register window mapped from /dev/mem.
type DevMem struct {
	file *os.File
	mem  []byte
}

// OpenDevMem maps size bytes of physical memory starting at base.
// The base must be page aligned.
func OpenDevMem(base int64, size int) (*DevMem, error) {
	if base&int64(os.Getpagesize()-1) != 0 {
		return nil, fmt.Errorf("base %#x is not page aligned", base)
	}

	file, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open /dev/mem: %w", err)
	}

	mem, err := unix.Mmap(int(file.Fd()), base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("mmap %#x+%#x failed: %w", base, size, err)
	}

	return &DevMem{file: file, mem: mem}, nil
}

// Read32 reads a register.
func (d *DevMem) Read32(off uint32) uint32 {
	return atomic.LoadUint32(d.reg(off))
}

// Write32 writes a register.
func (d *DevMem) Write32(off uint32, v uint32) {
	atomic.StoreUint32(d.reg(off), v)
}

func (d *DevMem) reg(off uint32) *uint32 {
	if off&3 != 0 || int(off)+4 > len(d.mem) {
		panic(fmt.Sprintf("register offset %#x outside of window", off))
	}

	return (*uint32)(unsafe.Pointer(&d.mem[off]))
}

// Close unmaps the window.
func (d *DevMem) Close() error {
	if d == nil || d.file == nil {
		return nil
	}

	err := unix.Munmap(d.mem)
	d.mem = nil

	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	d.file = nil

	return err
}
