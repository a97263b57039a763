package tradelog

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var pageSize = uint64(os.Getpagesize())

// mappedFile is one half of the double buffer. While ready is set it belongs
// to the writer; while clear it belongs to the rotation loop.
type mappedFile struct {
	_      [56]byte
	ready  atomic.Uint32
	_      [56]byte
	cursor atomic.Uint64

	data []byte
	name string
}

// create makes a fresh file of size bytes and maps it shared read/write.
func (f *mappedFile) create(name string, size uint64) error {
	fd, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer fd.Close()

	if err := fd.Truncate(int64(size)); err != nil {
		return fmt.Errorf("truncate %s: %w", name, err)
	}

	data, err := unix.Mmap(int(fd.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap %s: %w", name, err)
	}

	f.data = data
	f.name = name
	f.cursor.Store(0)
	return nil
}

// flushAsync schedules write-back of [start, end) without waiting for it.
func (f *mappedFile) flushAsync(start, end uint64) error {
	start -= start % pageSize
	return unix.Msync(f.data[start:end], unix.MS_ASYNC)
}

// sync blocks until everything written so far is on stable storage.
func (f *mappedFile) sync() error {
	if f.data == nil {
		return nil
	}
	end := f.cursor.Load()
	if end == 0 {
		return nil
	}
	return unix.Msync(f.data[:end], unix.MS_SYNC)
}

func (f *mappedFile) unmap() error {
	if f.data == nil {
		return nil
	}
	err := unix.Munmap(f.data)
	f.data = nil
	return err
}
