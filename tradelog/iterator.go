package tradelog

import (
	"fmt"
	"os"

	"github.com/0x5487/matching-core/protocol"
	"golang.org/x/sys/unix"
)

// Iterator walks every log file in a directory in creation order, mapping
// each read-only and yielding records up to the first unwritten one.
type Iterator struct {
	files []logFile
	next  int

	data []byte
	off  int
	file string

	cur protocol.Execution
	err error
}

// NewIterator lists the log files in dir. Files are opened lazily.
func NewIterator(dir string) (*Iterator, error) {
	files, err := listFiles(dir)
	if err != nil {
		return nil, err
	}
	return &Iterator{files: files}, nil
}

// Next advances to the next record. It returns false at the end of the last
// file or on error.
func (it *Iterator) Next() bool {
	for {
		if it.data != nil {
			if it.off+protocol.RecordSize <= len(it.data) && !protocol.IsUnwritten(it.data[it.off:]) {
				it.cur = protocol.DecodeRecord(it.data[it.off:])
				it.off += protocol.RecordSize
				return true
			}
			it.release()
		}

		if it.err != nil || it.next >= len(it.files) {
			return false
		}

		path := it.files[it.next].path
		it.next++
		if err := it.open(path); err != nil {
			it.err = err
			return false
		}
	}
}

// Execution returns the current record.
func (it *Iterator) Execution() protocol.Execution {
	return it.cur
}

// File returns the path of the file holding the current record.
func (it *Iterator) File() string {
	return it.file
}

// Err returns the first error hit while iterating.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the current mapping.
func (it *Iterator) Close() error {
	return it.release()
}

func (it *Iterator) open(path string) error {
	fd, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tradelog: open %s: %w", path, err)
	}
	defer fd.Close()

	info, err := fd.Stat()
	if err != nil {
		return fmt.Errorf("tradelog: stat %s: %w", path, err)
	}

	it.file = path
	it.off = 0
	if info.Size() < protocol.RecordSize {
		return nil
	}

	data, err := unix.Mmap(int(fd.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("tradelog: mmap %s: %w", path, err)
	}
	it.data = data
	return nil
}

func (it *Iterator) release() error {
	if it.data == nil {
		return nil
	}
	err := unix.Munmap(it.data)
	it.data = nil
	return err
}

// Replay calls fn for every record in dir, in write order.
func Replay(dir string, fn func(*protocol.Execution) error) error {
	it, err := NewIterator(dir)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		e := it.Execution()
		if err := fn(&e); err != nil {
			return err
		}
	}
	return it.Err()
}
