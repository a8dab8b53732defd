package method

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// FileID identifies a file on a device.
type FileID struct {
	Device uint64
	Inode  uint64
}

// FS is the filesystem surface used by the linker.
type FS interface {
	Lstat(name string) (fs.FileInfo, error)
	Stat(name string) (fs.FileInfo, error)
	Identity(name string) (FileID, error)
	Readlink(name string) (string, error)
	ReadDir(name string) ([]fs.DirEntry, error)

	Symlink(oldname, newname string) error
	Link(oldname, newname string) error
	CopyFile(src, dst string) error
	Rename(oldpath, newpath string) error
	Remove(name string) error
	MkdirAll(path string, perm fs.FileMode) error
}

// OSFS is FS on the host filesystem.
type OSFS struct{}

func (OSFS) Lstat(name string) (fs.FileInfo, error)     { return os.Lstat(name) }
func (OSFS) Stat(name string) (fs.FileInfo, error)      { return os.Stat(name) }
func (OSFS) Readlink(name string) (string, error)       { return os.Readlink(name) }
func (OSFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }
func (OSFS) Symlink(oldname, newname string) error      { return os.Symlink(oldname, newname) }
func (OSFS) Link(oldname, newname string) error         { return os.Link(oldname, newname) }
func (OSFS) Rename(oldpath, newpath string) error       { return os.Rename(oldpath, newpath) }
func (OSFS) Remove(name string) error                   { return os.Remove(name) }

func (OSFS) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }

// Identity returns the device and inode of name without following links.
func (OSFS) Identity(name string) (FileID, error) {
	var st unix.Stat_t
	if err := unix.Lstat(name, &st); err != nil {
		return FileID{}, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	return FileID{Device: uint64(st.Dev), Inode: st.Ino}, nil //nolint:unconvert // Dev is int32 on darwin
}

// CopyFile copies src to dst, which must not exist, and gives dst the
// mode and modification time of src.
func (OSFS) CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err = out.Sync(); err != nil {
		return err
	}
	mtime := info.ModTime()
	return os.Chtimes(dst, time.Now(), mtime)
}
