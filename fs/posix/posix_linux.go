/*
 * posix_linux.go
 *
 * Copyright 2026 Benjamin Barenblat
 */
/*
 * This file is part of Scoville.
 *
 * It is licensed under the MIT license. The full license text can be found
 * in the License.txt file at the root of this project.
 */

// Package posix wraps the small set of descriptor-relative primitives the
// overlay consumes. A File is an open descriptor (regular file or directory)
// carrying the *at operations; a Directory is a seekable entry stream built
// by duplicating a File's descriptor.
//
// All *at paths must be relative. Passing an absolute path is a programming
// error and fails with EINVAL.
package posix

import (
	"io"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// File is an open descriptor. It is safe for concurrent positional I/O:
// every operation carries its own offset and issues an independent syscall.
type File struct {
	fd int
}

// Open opens path directly, without a directory anchor. It exists to create
// the root anchor at mount time.
func Open(path string, flags int) (*File, error) {
	fd, err := unix.Open(path, flags, 0)
	if nil != err {
		return nil, os.NewSyscallError("open", err)
	}
	return &File{fd: fd}, nil
}

// Dup duplicates the descriptor into a new independent File.
func (f *File) Dup() (*File, error) {
	fd, err := unix.Dup(f.fd)
	if nil != err {
		return nil, os.NewSyscallError("dup", err)
	}
	return &File{fd: fd}, nil
}

func (f *File) Close() error {
	err := unix.Close(f.fd)
	f.fd = -1
	if nil != err {
		return os.NewSyscallError("close", err)
	}
	return nil
}

func (f *File) Stat() (unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); nil != err {
		return st, os.NewSyscallError("fstat", err)
	}
	return st, nil
}

// StatVfs returns statistics for the volume containing the descriptor.
func (f *File) StatVfs() (unix.Statfs_t, error) {
	var st unix.Statfs_t
	if err := unix.Fstatfs(f.fd, &st); nil != err {
		return st, os.NewSyscallError("fstatfs", err)
	}
	return st, nil
}

func checkRelative(path string) error {
	if strings.HasPrefix(path, "/") {
		return unix.EINVAL
	}
	return nil
}

// LinkStatAt stats the child at rel without following a terminal symlink.
func (f *File) LinkStatAt(rel string) (unix.Stat_t, error) {
	var st unix.Stat_t
	if err := checkRelative(rel); nil != err {
		return st, err
	}
	if err := unix.Fstatat(f.fd, rel, &st, unix.AT_SYMLINK_NOFOLLOW); nil != err {
		return st, os.NewSyscallError("fstatat", err)
	}
	return st, nil
}

// OpenAt opens the child at rel. mode is consulted only when flags carries
// O_CREAT.
func (f *File) OpenAt(rel string, flags int, mode uint32) (*File, error) {
	if err := checkRelative(rel); nil != err {
		return nil, err
	}
	fd, err := unix.Openat(f.fd, rel, flags, mode)
	if nil != err {
		return nil, os.NewSyscallError("openat", err)
	}
	return &File{fd: fd}, nil
}

func (f *File) MkNodAt(rel string, mode uint32, dev uint64) error {
	if err := checkRelative(rel); nil != err {
		return err
	}
	if err := unix.Mknodat(f.fd, rel, mode, int(dev)); nil != err {
		return os.NewSyscallError("mknodat", err)
	}
	return nil
}

func (f *File) MkDirAt(rel string, mode uint32) error {
	if err := checkRelative(rel); nil != err {
		return err
	}
	if err := unix.Mkdirat(f.fd, rel, mode); nil != err {
		return os.NewSyscallError("mkdirat", err)
	}
	return nil
}

// SymlinkAt creates a symlink at rel whose contents are target, byte for
// byte. target is not interpreted.
func (f *File) SymlinkAt(target string, rel string) error {
	if err := checkRelative(rel); nil != err {
		return err
	}
	if err := unix.Symlinkat(target, f.fd, rel); nil != err {
		return os.NewSyscallError("symlinkat", err)
	}
	return nil
}

func (f *File) ReadlinkAt(rel string) (string, error) {
	if err := checkRelative(rel); nil != err {
		return "", err
	}
	buf := make([]byte, 4096)
	n, err := unix.Readlinkat(f.fd, rel, buf)
	if nil != err {
		return "", os.NewSyscallError("readlinkat", err)
	}
	return string(buf[:n]), nil
}

func (f *File) RenameAt(oldRel string, newRel string) error {
	if err := checkRelative(oldRel); nil != err {
		return err
	}
	if err := checkRelative(newRel); nil != err {
		return err
	}
	if err := unix.Renameat(f.fd, oldRel, f.fd, newRel); nil != err {
		return os.NewSyscallError("renameat", err)
	}
	return nil
}

func (f *File) UnlinkAt(rel string) error {
	if err := checkRelative(rel); nil != err {
		return err
	}
	if err := unix.Unlinkat(f.fd, rel, 0); nil != err {
		return os.NewSyscallError("unlinkat", err)
	}
	return nil
}

func (f *File) RmDirAt(rel string) error {
	if err := checkRelative(rel); nil != err {
		return err
	}
	if err := unix.Unlinkat(f.fd, rel, unix.AT_REMOVEDIR); nil != err {
		return os.NewSyscallError("unlinkat", err)
	}
	return nil
}

func (f *File) ChModAt(rel string, mode uint32) error {
	if err := checkRelative(rel); nil != err {
		return err
	}
	if err := unix.Fchmodat(f.fd, rel, mode, 0); nil != err {
		return os.NewSyscallError("fchmodat", err)
	}
	return nil
}

// UTimeNsAt sets the access and modification times of the child at rel,
// without following a terminal symlink. unix.UTIME_NOW and unix.UTIME_OMIT
// in Nsec pass through to the kernel.
func (f *File) UTimeNsAt(rel string, atime unix.Timespec, mtime unix.Timespec) error {
	if err := checkRelative(rel); nil != err {
		return err
	}
	ts := []unix.Timespec{atime, mtime}
	if err := unix.UtimesNanoAt(f.fd, rel, ts, unix.AT_SYMLINK_NOFOLLOW); nil != err {
		return os.NewSyscallError("utimensat", err)
	}
	return nil
}

func (f *File) Truncate(size int64) error {
	if err := unix.Ftruncate(f.fd, size); nil != err {
		return os.NewSyscallError("ftruncate", err)
	}
	return nil
}

// ReadAt reads len(p) bytes at offset off, looping on short reads. It
// returns fewer bytes only at end of file.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	for len(p) > n {
		r, err := unix.Pread(f.fd, p[n:], off+int64(n))
		if unix.EINTR == err {
			continue
		}
		if nil != err {
			return n, os.NewSyscallError("pread", err)
		}
		if 0 == r {
			break
		}
		n += r
	}
	return n, nil
}

// WriteAt writes all of p at offset off, looping on short writes.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	n := 0
	for len(p) > n {
		w, err := unix.Pwrite(f.fd, p[n:], off+int64(n))
		if unix.EINTR == err {
			continue
		}
		if nil != err {
			return n, os.NewSyscallError("pwrite", err)
		}
		n += w
	}
	return n, nil
}

// Dirent is one directory entry. Off is the stream cookie that positions a
// reader immediately after this entry.
type Dirent struct {
	Ino  uint64
	Off  int64
	Type uint8
	Name string
}

// Directory is a seekable stream of directory entries. It owns a duplicate
// of the descriptor it was constructed from and must not be used from more
// than one goroutine at a time.
type Directory struct {
	fd   int
	buf  []byte
	bufp int
	bufe int
	off  int64
}

// NewDirectory duplicates f's descriptor and positions the stream at the
// first entry. The duplicated descriptor belongs to the Directory; closing
// f afterwards is fine.
func NewDirectory(f *File) (*Directory, error) {
	fd, err := unix.Dup(f.fd)
	if nil != err {
		return nil, os.NewSyscallError("dup", err)
	}
	if _, err := unix.Seek(fd, 0, io.SeekStart); nil != err {
		unix.Close(fd)
		return nil, os.NewSyscallError("lseek", err)
	}
	return &Directory{fd: fd, buf: make([]byte, 8*1024)}, nil
}

func (d *Directory) Close() error {
	err := unix.Close(d.fd)
	d.fd = -1
	if nil != err {
		return os.NewSyscallError("close", err)
	}
	return nil
}

func (d *Directory) Stat() (unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Fstat(d.fd, &st); nil != err {
		return st, os.NewSyscallError("fstat", err)
	}
	return st, nil
}

// Offset returns the cookie of the current stream position. After ReadOne
// yields entry k, the cookie repositions the stream so the next ReadOne
// yields entry k+1.
func (d *Directory) Offset() int64 {
	return d.off
}

// Seek repositions the stream at cookie, which must be zero or a value
// previously returned by Offset.
func (d *Directory) Seek(cookie int64) error {
	if _, err := unix.Seek(d.fd, cookie, io.SeekStart); nil != err {
		return os.NewSyscallError("lseek", err)
	}
	d.bufp, d.bufe = 0, 0
	d.off = cookie
	return nil
}

// ReadOne yields the next entry, or nil at the end of the stream. Entry
// order is whatever the underlying directory yields.
func (d *Directory) ReadOne() (*Dirent, error) {
	if d.bufp >= d.bufe {
		n, err := unix.Getdents(d.fd, d.buf)
		if nil != err {
			return nil, os.NewSyscallError("getdents64", err)
		}
		if 0 == n {
			return nil, nil
		}
		d.bufp, d.bufe = 0, n
	}

	rec := (*unix.Dirent)(unsafe.Pointer(&d.buf[d.bufp]))
	nameStart := d.bufp + int(unsafe.Offsetof(unix.Dirent{}.Name))
	nameEnd := d.bufp + int(rec.Reclen)
	nameBytes := d.buf[nameStart:nameEnd]
	nameLen := 0
	for nameLen < len(nameBytes) && 0 != nameBytes[nameLen] {
		nameLen++
	}
	d.bufp += int(rec.Reclen)
	d.off = rec.Off

	return &Dirent{
		Ino:  rec.Ino,
		Off:  rec.Off,
		Type: rec.Type,
		Name: string(nameBytes[:nameLen]),
	}, nil
}
