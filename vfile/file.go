// Package vfile owns the single file handle jify keeps open per data or
// index file, and layers advisory byte-range locking with in-process
// reentrancy on top of it. Real OS-level locking (fcntl byte ranges) is the
// external collaborator; vfile coordinates in-process callers around it so
// that multiple shared holders of the same byte coalesce into one OS lock
// and an exclusive request waits for every shared holder to drain.
package vfile

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/jify-db/jify/jerr"
	"github.com/jify-db/jify/jlog"
)

var log = jlog.New("vfile")

// File owns one *os.File and the in-process lock table for byte positions
// within it.
type File struct {
	path string

	mu sync.Mutex
	f  *os.File

	locksMu sync.Mutex
	locks   map[int64]*rangeLock
}

// rangeLock tracks the in-process holders of one byte position.
type rangeLock struct {
	mu        sync.Mutex
	exclusive bool
	holders   int
	waiters   []chan struct{}
}

// Open opens an existing file for random read/write. It returns a wrapped
// jerr.NotFound if the file does not exist.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("vfile: open %s: %w", path, jerr.NotFound)
		}
		return nil, fmt.Errorf("vfile: open %s: %w", path, err)
	}
	log.Printf("opened %s", path)
	return &File{path: path, f: f, locks: make(map[int64]*rangeLock)}, nil
}

// Create creates a new file exclusively, failing with jerr.AlreadyExists if
// the path already exists, then writes initial.
func Create(path string, initial []byte) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("vfile: create %s: %w", path, jerr.AlreadyExists)
		}
		return nil, fmt.Errorf("vfile: create %s: %w", path, err)
	}
	if len(initial) > 0 {
		if _, err := f.Write(initial); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("vfile: create %s: %w", path, err)
		}
	}
	log.Printf("created %s (%d bytes)", path, len(initial))
	return &File{path: path, f: f, locks: make(map[int64]*rangeLock)}, nil
}

// Path returns the path this File was opened with.
func (f *File) Path() string { return f.path }

// Close releases the underlying file descriptor. It does not release
// outstanding in-process locks, which must be unwound by their owners first.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.f.Close()
}

// ReadAt reads len(buf) bytes starting at pos, same semantics as io.ReaderAt
// except short reads at EOF return the partial count with io.EOF.
func (f *File) ReadAt(buf []byte, pos int64) (int, error) {
	return f.f.ReadAt(buf, pos)
}

// WriteAt writes buf at pos, extending the file if necessary.
func (f *File) WriteAt(buf []byte, pos int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.f.WriteAt(buf, pos)
}

// Truncate shrinks or extends the file to size bytes.
func (f *File) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.f.Truncate(size)
}

// Append writes text to the current end of file and returns the offset it
// was written at.
func (f *File) Append(text []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := f.f.Stat()
	if err != nil {
		return 0, err
	}
	off := info.Size()
	if _, err := f.f.WriteAt(text, off); err != nil {
		return 0, err
	}
	return off, nil
}

// Stat returns the file's current os.FileInfo.
func (f *File) Stat() (os.FileInfo, error) {
	return f.f.Stat()
}

// Size is a convenience wrapper around Stat.
func (f *File) Size() (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Delete closes and removes the file from disk.
func (f *File) Delete() error {
	f.mu.Lock()
	path := f.path
	err := f.f.Close()
	f.mu.Unlock()
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		if err == nil {
			err = rmErr
		}
	}
	return err
}

func (f *File) rangeLockFor(pos int64) *rangeLock {
	f.locksMu.Lock()
	defer f.locksMu.Unlock()
	rl, ok := f.locks[pos]
	if !ok {
		rl = &rangeLock{}
		f.locks[pos] = rl
	}
	return rl
}

// Lock blocks until the single byte at pos is locked under the requested
// mode. Multiple in-process shared holders of the same position coalesce
// into a single OS lock; an exclusive request waits until every holder has
// released.
func (f *File) Lock(pos int64, exclusive bool) error {
	rl := f.rangeLockFor(pos)

	rl.mu.Lock()
	for {
		if exclusive {
			if rl.holders == 0 {
				rl.holders = 1
				rl.exclusive = true
				rl.mu.Unlock()
				if err := f.osLock(pos, true); err != nil {
					rl.mu.Lock()
					rl.holders = 0
					rl.exclusive = false
					rl.mu.Unlock()
					return err
				}
				return nil
			}
		} else if !rl.exclusive {
			if rl.holders == 0 {
				rl.holders = 1
				rl.mu.Unlock()
				if err := f.osLock(pos, false); err != nil {
					rl.mu.Lock()
					rl.holders = 0
					rl.mu.Unlock()
					return err
				}
				return nil
			}
			rl.holders++
			rl.mu.Unlock()
			return nil
		}

		ch := make(chan struct{})
		rl.waiters = append(rl.waiters, ch)
		rl.mu.Unlock()
		<-ch
		rl.mu.Lock()
	}
}

// Unlock releases one hold on pos. When the last in-process holder releases,
// the OS lock is released and one FIFO waiter (if any) is woken.
func (f *File) Unlock(pos int64) error {
	rl := f.rangeLockFor(pos)

	rl.mu.Lock()
	if rl.holders == 0 {
		rl.mu.Unlock()
		return nil
	}
	rl.holders--
	releasing := rl.holders == 0
	var waiter chan struct{}
	if releasing {
		rl.exclusive = false
		if len(rl.waiters) > 0 {
			waiter = rl.waiters[0]
			rl.waiters = rl.waiters[1:]
		}
	}
	rl.mu.Unlock()

	var err error
	if releasing {
		err = f.osUnlock(pos)
	}
	if waiter != nil {
		close(waiter)
	}
	return err
}

func (f *File) osLock(pos int64, exclusive bool) error {
	typ := int16(syscall.F_RDLCK)
	if exclusive {
		typ = int16(syscall.F_WRLCK)
	}
	lock := syscall.Flock_t{
		Type:   typ,
		Whence: int16(os.SEEK_SET),
		Start:  pos,
		Len:    1,
	}
	return syscall.FcntlFlock(f.f.Fd(), syscall.F_SETLKW, &lock)
}

func (f *File) osUnlock(pos int64) error {
	lock := syscall.Flock_t{
		Type:   int16(syscall.F_UNLCK),
		Whence: int16(os.SEEK_SET),
		Start:  pos,
		Len:    1,
	}
	return syscall.FcntlFlock(f.f.Fd(), syscall.F_SETLK, &lock)
}
