package efs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/meigma/efs/internal/platform"
)

// ErrSymlink is returned when a symbolic link is encountered where not allowed.
var ErrSymlink = platform.ErrSymlink

// AddDir adds the contents of the host directory root under prefix.
//
// Regular files and directories are added; symbolic links and special
// files are skipped. Files are reopened through root at pack time without
// following symlinks, so root must stay open until Pack returns.
func (b *Builder) AddDir(root *os.Root, prefix string) error {
	return fs.WalkDir(root.FS(), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := path.Join("/", prefix, p)
		switch {
		case d.IsDir():
			return b.Mkdir(target)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			fsPath := filepath.FromSlash(p)
			return b.AddFile(target, info.Size(), func() (io.ReadCloser, error) {
				return platform.OpenFileNoFollow(root, fsPath)
			})
		default:
			return nil
		}
	})
}

// CreateImage packs the host directory dir into a new image file at out.
func CreateImage(ctx context.Context, dir, out string, opts ...PackOption) (*PackResult, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	b := NewBuilder()
	if err := b.AddDir(root, "/"); err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	cfg := newPackConfig(opts)
	cfg.log().Debug("scanned directory", "dir", dir, "nodes", b.Len(), "files", b.Files())
	return WriteImage(ctx, b, out, opts...)
}

// WriteImage packs b into a new image file at out.
//
// The output file is created or truncated. On failure the partial file is
// removed.
func WriteImage(ctx context.Context, b *Builder, out string, opts ...PackOption) (res *PackResult, err error) {
	f, err := os.Create(out) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(out) //nolint:errcheck // best-effort cleanup
		}
	}()

	res, err = Pack(ctx, b, f, opts...)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(res.Size); err != nil {
		return nil, fmt.Errorf("size image: %w", err)
	}
	return res, nil
}
