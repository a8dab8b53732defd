package method

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// Method ids.
const (
	SymlinkID  = "symlink"
	HardlinkID = "hardlink"
	CopyID     = "copy"
)

// NewSymlink returns the symbolic link method.
func NewSymlink(opts ...Option) Method {
	return newLinker(Descriptor{
		ID:          SymlinkID,
		Name:        "Symlink Deployment",
		Description: "Links staged files into the game directory with symbolic links.",
		Capabilities: Capabilities{
			Kind:             KindSymlink,
			RequiresSymlinks: true,
			Reversible:       true,
		},
	}, symlinkStrategy{}, opts)
}

// NewHardlink returns the hard link method.
func NewHardlink(opts ...Option) Method {
	return newLinker(Descriptor{
		ID:          HardlinkID,
		Name:        "Hardlink Deployment",
		Description: "Links staged files into the game directory with hard links. Staging and game must share a filesystem.",
		Capabilities: Capabilities{
			Kind:       KindHardlink,
			SameDevice: true,
			Reversible: true,
		},
	}, hardlinkStrategy{}, opts)
}

// NewCopy returns the copy method.
func NewCopy(opts ...Option) Method {
	return newLinker(Descriptor{
		ID:          CopyID,
		Name:        "Copy Deployment",
		Description: "Copies staged files into the game directory. Works everywhere at the cost of disk space.",
		Capabilities: Capabilities{
			Kind:       KindCopy,
			Reversible: true,
		},
	}, copyStrategy{}, opts)
}

type symlinkStrategy struct{}

func (symlinkStrategy) deploy(fsys FS, src, dst string) (types.Tag, error) {
	if err := fsys.Symlink(src, dst); err != nil {
		return types.Tag{}, err
	}
	return types.Tag{Target: src}, nil
}

func (symlinkStrategy) owned(fsys FS, dst string, tag types.Tag) (bool, error) {
	info, err := fsys.Lstat(dst)
	if err != nil {
		return false, err
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		return false, nil
	}
	target, err := fsys.Readlink(dst)
	if err != nil {
		return false, err
	}
	return tag.Target != "" && filepath.Clean(target) == filepath.Clean(tag.Target), nil
}

func (symlinkStrategy) current(_ FS, src string, tag types.Tag) bool {
	return filepath.Clean(src) == filepath.Clean(tag.Target)
}

func (symlinkStrategy) adopt(fsys FS, src, dst string) (types.Tag, bool) {
	tag := types.Tag{Target: src}
	ok, err := symlinkStrategy{}.owned(fsys, dst, tag)
	return tag, err == nil && ok
}

// supported creates and removes a throwaway link next to the game
// directory. Platform and filesystem both decide whether that works.
func (symlinkStrategy) supported(fsys FS, q SupportQuery) string {
	if q.DataPath == "" {
		return "game directory must be known"
	}
	dir, err := nearestDir(fsys, q.DataPath)
	if err != nil {
		return "cannot inspect game directory: " + err.Error()
	}
	link := filepath.Join(dir, "__modlink_symlink_"+uuid.NewString())
	if err := fsys.Symlink(link+".target", link); err != nil {
		return "cannot create symbolic links in " + dir + ": " + err.Error()
	}
	_ = fsys.Remove(link)
	return ""
}

type hardlinkStrategy struct{}

func (hardlinkStrategy) deploy(fsys FS, src, dst string) (types.Tag, error) {
	if err := fsys.Link(src, dst); err != nil {
		return types.Tag{}, err
	}
	id, err := fsys.Identity(dst)
	if err != nil {
		_ = fsys.Remove(dst)
		return types.Tag{}, err
	}
	return types.Tag{Device: id.Device, Inode: id.Inode}, nil
}

func (hardlinkStrategy) owned(fsys FS, dst string, tag types.Tag) (bool, error) {
	info, err := fsys.Lstat(dst)
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() || tag.Inode == 0 {
		return false, nil
	}
	id, err := fsys.Identity(dst)
	if err != nil {
		return false, err
	}
	return id.Device == tag.Device && id.Inode == tag.Inode, nil
}

func (hardlinkStrategy) current(fsys FS, src string, tag types.Tag) bool {
	id, err := fsys.Identity(src)
	return err == nil && id.Device == tag.Device && id.Inode == tag.Inode
}

func (hardlinkStrategy) adopt(fsys FS, src, dst string) (types.Tag, bool) {
	id, err := fsys.Identity(src)
	if err != nil {
		return types.Tag{}, false
	}
	tag := types.Tag{Device: id.Device, Inode: id.Inode}
	ok, err := hardlinkStrategy{}.owned(fsys, dst, tag)
	return tag, err == nil && ok
}

func (hardlinkStrategy) supported(fsys FS, q SupportQuery) string {
	if q.StagingPath == "" || q.DataPath == "" {
		return "staging and data paths must be known"
	}
	staged, err := nearestIdentity(fsys, q.StagingPath)
	if err != nil {
		return "cannot inspect staging directory: " + err.Error()
	}
	data, err := nearestIdentity(fsys, q.DataPath)
	if err != nil {
		return "cannot inspect game directory: " + err.Error()
	}
	if staged.Device != data.Device {
		return "staging and game directories are on different filesystems"
	}
	return ""
}

// nearestIdentity returns the identity of path or of its nearest existing
// ancestor.
func nearestIdentity(fsys FS, path string) (FileID, error) {
	p := filepath.Clean(path)
	for {
		id, err := fsys.Identity(p)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return FileID{}, err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return FileID{}, err
		}
		p = parent
	}
}

// nearestDir returns path or its nearest existing ancestor.
func nearestDir(fsys FS, path string) (string, error) {
	p := filepath.Clean(path)
	for {
		_, err := fsys.Stat(p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		p = parent
	}
}

type copyStrategy struct{}

func (copyStrategy) deploy(fsys FS, src, dst string) (types.Tag, error) {
	if err := fsys.CopyFile(src, dst); err != nil {
		return types.Tag{}, err
	}
	info, err := fsys.Lstat(dst)
	if err != nil {
		_ = fsys.Remove(dst)
		return types.Tag{}, err
	}
	return types.Tag{Size: info.Size(), ModTime: info.ModTime().UnixNano()}, nil
}

func (copyStrategy) owned(fsys FS, dst string, tag types.Tag) (bool, error) {
	info, err := fsys.Lstat(dst)
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular() && info.Size() == tag.Size && info.ModTime().UnixNano() == tag.ModTime, nil
}

func (copyStrategy) current(fsys FS, src string, tag types.Tag) bool {
	info, err := fsys.Stat(src)
	return err == nil && info.Size() == tag.Size && info.ModTime().UnixNano() == tag.ModTime
}

func (copyStrategy) adopt(fsys FS, src, dst string) (types.Tag, bool) {
	info, err := fsys.Stat(src)
	if err != nil {
		return types.Tag{}, false
	}
	tag := types.Tag{Size: info.Size(), ModTime: info.ModTime().UnixNano()}
	ok, err := copyStrategy{}.owned(fsys, dst, tag)
	return tag, err == nil && ok
}

func (copyStrategy) supported(FS, SupportQuery) string {
	return ""
}
