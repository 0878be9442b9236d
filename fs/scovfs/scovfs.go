/*
 * scovfs.go
 *
 * Copyright 2026 Benjamin Barenblat
 */
/*
 * This file is part of Scoville.
 *
 * It is licensed under the MIT license. The full license text can be found
 * in the License.txt file at the root of this project.
 */

// Package scovfs implements the overlay filesystem. Each callback encodes
// the incoming logical path, relays the operation to the directory
// underlying the mount point, and decodes physical entry names on the way
// back up. File contents pass through untouched.
package scovfs

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	libtrace "github.com/billziss-gh/golib/trace"
	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"

	"github.com/bbarenblat/scoville/fs/encoding"
	"github.com/bbarenblat/scoville/fs/posix"
	"github.com/bbarenblat/scoville/internal/metrics"
)

type Config struct {
	// Root is the open directory underlying the mount point. It must be
	// set before Mount and never mutated afterwards; the filesystem does
	// not take ownership.
	Root *posix.File

	// Metrics receives per-callback observations. May be nil.
	Metrics *metrics.Collector
}

type scovfs struct {
	fuse.FileSystemBase
	root    *posix.File
	metrics *metrics.Collector
	lock    sync.RWMutex
	fh      uint64
	openmap map[uint64]*handle
}

// handle is the owner behind an open-handle slot: exactly one of file and
// dir is set.
type handle struct {
	file *posix.File
	dir  *posix.Directory
}

func (h *handle) stat() (unix.Stat_t, error) {
	if nil != h.dir {
		return h.dir.Stat()
	}
	return h.file.Stat()
}

func New(c Config) fuse.FileSystemInterface {
	return &scovfs{
		root:    c.Root,
		metrics: c.Metrics,
		openmap: make(map[uint64]*handle),
	}
}

func (fs *scovfs) newfh(h *handle) uint64 {
	fs.lock.Lock()
	fh := fs.fh
	fs.openmap[fh] = h
	fs.fh++
	fs.lock.Unlock()
	return fh
}

func (fs *scovfs) gethandle(fh uint64) (*handle, bool) {
	fs.lock.RLock()
	h, ok := fs.openmap[fh]
	fs.lock.RUnlock()
	return h, ok
}

func (fs *scovfs) delhandle(fh uint64) (*handle, bool) {
	fs.lock.Lock()
	h, ok := fs.openmap[fh]
	if ok {
		delete(fs.openmap, fh)
	}
	fs.lock.Unlock()
	return h, ok
}

// physical validates an absolute logical path and returns its encoded form.
// The second result is nonzero when the path is not absolute.
func physical(path string) (string, int) {
	if !strings.HasPrefix(path, "/") {
		return "", -fuse.ENOENT
	}
	return encoding.Encode(path), 0
}

// relative strips the single leading '/' so the result resolves against the
// root anchor.
func relative(phys string) string {
	return strings.TrimPrefix(phys, "/")
}

// errc translates a failure into the negative errno the host expects.
// Decoding failures mean the underlying directory holds a name the codec
// did not produce; they surface as EIO. Anything else unrecognized is a
// bug and surfaces as ENOTRECOVERABLE.
func (fs *scovfs) errc(err error) int {
	if nil == err {
		return 0
	}
	var escErr *encoding.MalformedEscapeError
	if errors.As(err, &escErr) {
		log.Printf("scovfs: cannot decode stored name: %v", err)
		return -fuse.EIO
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	log.Printf("scovfs: unexpected error: %v", err)
	return -fuse.ENOTRECOVERABLE
}

// guard keeps a callback total: a panic escaping the operation becomes
// ENOTRECOVERABLE instead of tearing down the event loop. It also feeds the
// metrics collector.
func (fs *scovfs) guard(op string, start time.Time, errc *int) {
	if r := recover(); nil != r {
		log.Printf("scovfs: %s: unexpected panic: %v", op, r)
		*errc = -fuse.ENOTRECOVERABLE
	}
	fs.metrics.Record(op, time.Since(start), 0 > *errc)
}

func (fs *scovfs) Init() {
	tracef("init")
}

func (fs *scovfs) Destroy() {
	tracef("destroy")
}

func (fs *scovfs) Statfs(path string, stat *fuse.Statfs_t) (errc int) {
	defer trace(path)(&errc)
	defer fs.guard("statfs", time.Now(), &errc)

	phys, e := physical(path)
	if 0 != e {
		errc = e
		return
	}

	var st unix.Statfs_t
	var err error
	if "/" == phys {
		st, err = fs.root.StatVfs()
	} else {
		var f *posix.File
		f, err = fs.root.OpenAt(relative(phys), unix.O_RDONLY|unix.O_PATH, 0)
		if nil == err {
			st, err = f.StatVfs()
			f.Close()
		}
	}
	if nil != err {
		errc = fs.errc(err)
		return
	}

	copyFusestatfsFromGostatfs(stat, &st)
	return
}

func (fs *scovfs) Getattr(path string, stat *fuse.Stat_t, fh uint64) (errc int) {
	defer trace(path, fh)(&errc)
	defer fs.guard("getattr", time.Now(), &errc)

	var st unix.Stat_t
	var err error
	if ^uint64(0) != fh {
		h, ok := fs.gethandle(fh)
		if !ok {
			errc = -fuse.ENOENT
			return
		}
		st, err = h.stat()
	} else {
		phys, e := physical(path)
		if 0 != e {
			errc = e
			return
		}
		if "/" == phys {
			st, err = fs.root.Stat()
		} else {
			st, err = fs.root.LinkStatAt(relative(phys))
		}
	}
	if nil != err {
		errc = fs.errc(err)
		return
	}

	copyFusestatFromGostat(stat, &st)
	return
}

func (fs *scovfs) Mknod(path string, mode uint32, dev uint64) (errc int) {
	defer trace(path, mode, dev)(&errc)
	defer fs.guard("mknod", time.Now(), &errc)

	phys, e := physical(path)
	if 0 != e {
		errc = e
		return
	}
	if "/" == phys {
		errc = -fuse.EISDIR
		return
	}

	errc = fs.errc(fs.root.MkNodAt(relative(phys), mode, dev))
	return
}

func (fs *scovfs) Mkdir(path string, mode uint32) (errc int) {
	defer trace(path, mode)(&errc)
	defer fs.guard("mkdir", time.Now(), &errc)

	phys, e := physical(path)
	if 0 != e {
		errc = e
		return
	}
	if "/" == phys {
		// They're asking to create the mount point. Huh?
		errc = -fuse.EEXIST
		return
	}

	errc = fs.errc(fs.root.MkDirAt(relative(phys), mode))
	return
}

func (fs *scovfs) Unlink(path string) (errc int) {
	defer trace(path)(&errc)
	defer fs.guard("unlink", time.Now(), &errc)

	phys, e := physical(path)
	if 0 != e {
		errc = e
		return
	}
	if "/" == phys {
		// Removing the root is probably a bad idea.
		errc = -fuse.EPERM
		return
	}

	errc = fs.errc(fs.root.UnlinkAt(relative(phys)))
	return
}

func (fs *scovfs) Rmdir(path string) (errc int) {
	defer trace(path)(&errc)
	defer fs.guard("rmdir", time.Now(), &errc)

	phys, e := physical(path)
	if 0 != e {
		errc = e
		return
	}
	if "/" == phys {
		errc = -fuse.EPERM
		return
	}

	errc = fs.errc(fs.root.RmDirAt(relative(phys)))
	return
}

func (fs *scovfs) Symlink(target string, newpath string) (errc int) {
	defer trace(target, newpath)(&errc)
	defer fs.guard("symlink", time.Now(), &errc)

	// Only the link location is encoded. The target is stored verbatim:
	// it is opaque bytes whose interpretation (relative to the overlay or
	// to the underlying tree) is deliberately left open, which is also why
	// Readlink refuses to read it back.
	phys, e := physical(newpath)
	if 0 != e {
		errc = e
		return
	}

	errc = fs.errc(fs.root.SymlinkAt(target, relative(phys)))
	return
}

func (fs *scovfs) Readlink(path string) (errc int, target string) {
	defer trace(path)(&errc, &target)

	return -fuse.EINVAL, ""
}

func (fs *scovfs) Rename(oldpath string, newpath string) (errc int) {
	defer trace(oldpath, newpath)(&errc)
	defer fs.guard("rename", time.Now(), &errc)

	oldphys, e := physical(oldpath)
	if 0 != e {
		errc = e
		return
	}
	newphys, e := physical(newpath)
	if 0 != e {
		errc = e
		return
	}
	if "/" == oldphys || "/" == newphys {
		errc = -fuse.EINVAL
		return
	}

	errc = fs.errc(fs.root.RenameAt(relative(oldphys), relative(newphys)))
	return
}

func (fs *scovfs) Chmod(path string, mode uint32) (errc int) {
	defer trace(path, mode)(&errc)
	defer fs.guard("chmod", time.Now(), &errc)

	phys, e := physical(path)
	if 0 != e {
		errc = e
		return
	}
	rel := "."
	if "/" != phys {
		rel = relative(phys)
	}

	errc = fs.errc(fs.root.ChModAt(rel, mode))
	return
}

func (fs *scovfs) Utimens(path string, tmsp []fuse.Timespec) (errc int) {
	defer trace(path, tmsp)(&errc)
	defer fs.guard("utimens", time.Now(), &errc)

	phys, e := physical(path)
	if 0 != e {
		errc = e
		return
	}
	rel := "."
	if "/" != phys {
		rel = relative(phys)
	}

	var atime, mtime unix.Timespec
	if nil == tmsp {
		atime = unix.Timespec{Nsec: unix.UTIME_NOW}
		mtime = unix.Timespec{Nsec: unix.UTIME_NOW}
	} else {
		atime = unix.Timespec{Sec: tmsp[0].Sec, Nsec: tmsp[0].Nsec}
		mtime = unix.Timespec{Sec: tmsp[1].Sec, Nsec: tmsp[1].Nsec}
	}

	errc = fs.errc(fs.root.UTimeNsAt(rel, atime, mtime))
	return
}

func (fs *scovfs) openFile(path string, flags int, mode uint32) (errc int, fh uint64) {
	phys, e := physical(path)
	if 0 != e {
		return e, ^uint64(0)
	}

	var file *posix.File
	var err error
	if "/" == phys {
		// They're asking to open the mount point itself.
		file, err = fs.root.Dup()
	} else {
		file, err = fs.root.OpenAt(relative(phys), flags, mode)
	}
	if nil != err {
		return fs.errc(err), ^uint64(0)
	}

	return 0, fs.newfh(&handle{file: file})
}

func (fs *scovfs) Create(path string, flags int, mode uint32) (errc int, fh uint64) {
	defer trace(path, flags, mode)(&errc, &fh)
	defer fs.guard("create", time.Now(), &errc)

	errc, fh = fs.openFile(path, flags|unix.O_CREAT, mode)
	return
}

func (fs *scovfs) Open(path string, flags int) (errc int, fh uint64) {
	defer trace(path, flags)(&errc, &fh)
	defer fs.guard("open", time.Now(), &errc)

	errc, fh = fs.openFile(path, flags, 0)
	return
}

func (fs *scovfs) Truncate(path string, size int64, fh uint64) (errc int) {
	defer trace(path, size, fh)(&errc)
	defer fs.guard("truncate", time.Now(), &errc)

	if ^uint64(0) != fh {
		h, ok := fs.gethandle(fh)
		if !ok || nil == h.file {
			errc = -fuse.ENOENT
			return
		}
		errc = fs.errc(h.file.Truncate(size))
		return
	}

	phys, e := physical(path)
	if 0 != e {
		errc = e
		return
	}
	if "/" == phys {
		errc = -fuse.EISDIR
		return
	}

	f, err := fs.root.OpenAt(relative(phys), unix.O_WRONLY, 0)
	if nil != err {
		errc = fs.errc(err)
		return
	}
	errc = fs.errc(f.Truncate(size))
	f.Close()
	return
}

func (fs *scovfs) Read(path string, buff []byte, ofst int64, fh uint64) (n int) {
	defer trace(path, ofst, fh)(&n)
	defer fs.guard("read", time.Now(), &n)

	h, ok := fs.gethandle(fh)
	if !ok || nil == h.file {
		n = -fuse.ENOENT
		return
	}

	r, err := h.file.ReadAt(buff, ofst)
	if nil != err {
		n = fs.errc(err)
		return
	}
	n = r
	return
}

func (fs *scovfs) Write(path string, buff []byte, ofst int64, fh uint64) (n int) {
	defer trace(path, ofst, fh)(&n)
	defer fs.guard("write", time.Now(), &n)

	h, ok := fs.gethandle(fh)
	if !ok || nil == h.file {
		n = -fuse.ENOENT
		return
	}

	w, err := h.file.WriteAt(buff, ofst)
	if nil != err {
		n = fs.errc(err)
		return
	}
	n = w
	return
}

func (fs *scovfs) Release(path string, fh uint64) (errc int) {
	defer trace(path, fh)(&errc)
	defer fs.guard("release", time.Now(), &errc)

	h, ok := fs.delhandle(fh)
	if !ok || nil == h.file {
		errc = -fuse.ENOENT
		return
	}

	errc = fs.errc(h.file.Close())
	return
}

func (fs *scovfs) Opendir(path string) (errc int, fh uint64) {
	defer trace(path)(&errc, &fh)
	defer fs.guard("opendir", time.Now(), &errc)

	fh = ^uint64(0)
	phys, e := physical(path)
	if 0 != e {
		errc = e
		return
	}

	var dir *posix.Directory
	if "/" == phys {
		// The root anchor acts as its own directory handle.
		var err error
		dir, err = posix.NewDirectory(fs.root)
		if nil != err {
			errc = fs.errc(err)
			return
		}
	} else {
		f, err := fs.root.OpenAt(relative(phys), unix.O_RDONLY|unix.O_DIRECTORY, 0)
		if nil != err {
			errc = fs.errc(err)
			return
		}
		dir, err = posix.NewDirectory(f)
		f.Close()
		if nil != err {
			errc = fs.errc(err)
			return
		}
	}

	return 0, fs.newfh(&handle{dir: dir})
}

func (fs *scovfs) Readdir(path string,
	fill func(name string, stat *fuse.Stat_t, ofst int64) bool,
	ofst int64,
	fh uint64) (errc int) {
	defer trace(path, ofst, fh)(&errc)
	defer fs.guard("readdir", time.Now(), &errc)

	h, ok := fs.gethandle(fh)
	if !ok || nil == h.dir {
		errc = -fuse.ENOENT
		return
	}
	dir := h.dir

	if ofst != dir.Offset() {
		if err := dir.Seek(ofst); nil != err {
			errc = fs.errc(err)
			return
		}
	}

	for {
		ent, err := dir.ReadOne()
		if nil != err {
			errc = fs.errc(err)
			return
		}
		if nil == ent {
			return
		}

		name, err := encoding.Decode(ent.Name)
		if nil != err {
			errc = fs.errc(err)
			return
		}

		stat := fuse.Stat_t{
			Ino:  ent.Ino,
			Mode: direntMode(ent.Type),
		}
		if !fill(name, &stat, ent.Off) {
			return
		}
	}
}

func (fs *scovfs) Releasedir(path string, fh uint64) (errc int) {
	defer trace(path, fh)(&errc)
	defer fs.guard("releasedir", time.Now(), &errc)

	h, ok := fs.delhandle(fh)
	if !ok || nil == h.dir {
		errc = -fuse.ENOENT
		return
	}

	errc = fs.errc(h.dir.Close())
	return
}

// direntMode converts a d_type value to the file-type bits of a mode, the
// DTTOIF transformation.
func direntMode(typ uint8) uint32 {
	return uint32(typ) << 12
}

func copyFusestatFromGostat(dst *fuse.Stat_t, src *unix.Stat_t) {
	*dst = fuse.Stat_t{
		Dev:     src.Dev,
		Ino:     src.Ino,
		Mode:    src.Mode,
		Nlink:   uint32(src.Nlink),
		Uid:     src.Uid,
		Gid:     src.Gid,
		Rdev:    src.Rdev,
		Size:    src.Size,
		Atim:    fuse.Timespec{Sec: src.Atim.Sec, Nsec: src.Atim.Nsec},
		Mtim:    fuse.Timespec{Sec: src.Mtim.Sec, Nsec: src.Mtim.Nsec},
		Ctim:    fuse.Timespec{Sec: src.Ctim.Sec, Nsec: src.Ctim.Nsec},
		Blksize: int64(src.Blksize),
		Blocks:  src.Blocks,
	}
}

func copyFusestatfsFromGostatfs(dst *fuse.Statfs_t, src *unix.Statfs_t) {
	*dst = fuse.Statfs_t{
		Bsize:   uint64(src.Bsize),
		Frsize:  uint64(src.Frsize),
		Blocks:  src.Blocks,
		Bfree:   src.Bfree,
		Bavail:  src.Bavail,
		Files:   src.Files,
		Ffree:   src.Ffree,
		Favail:  src.Ffree,
		Namemax: uint64(src.Namelen),
	}
}

func trace(vals ...interface{}) func(vals ...interface{}) {
	return libtrace.Trace(1, "", vals...)
}

func tracef(form string, vals ...interface{}) {
	libtrace.Tracef(1, form, vals...)
}
