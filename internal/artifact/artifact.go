// Package artifact packs task outputs into zstd-compressed tar archives and
// restores them into a repository.
package artifact

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/klauspost/compress/zstd"
	"github.com/vk/monogrid/internal/repopath"
)

// Pack archives every file and directory below the given outputs. Outputs
// that do not exist are skipped. Entry names are repo-relative slash paths.
func Pack(root repopath.Root, outputs []repopath.Path) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)

	sorted := slices.Clone(outputs)
	slices.SortFunc(sorted, repopath.Path.Compare)
	for _, out := range sorted {
		if err := addTree(tw, root, out); err != nil {
			enc.Close()
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish zstd stream: %w", err)
	}
	return buf.Bytes(), nil
}

func addTree(tw *tar.Writer, root repopath.Root, out repopath.Path) error {
	base := root.Resolve(out)
	if _, err := os.Lstat(base); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	// WalkDir visits entries in lexical order, so archives are stable.
	return filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := root.Unresolve(p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", rel, err)
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("failed to build header for %s: %w", rel, err)
		}
		hdr.Name = rel.String()
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uname, hdr.Gname = "", ""
		hdr.Uid, hdr.Gid = 0, 0
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write header for %s: %w", rel, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to archive %s: %w", rel, err)
		}
		return nil
	})
}

// Unpack extracts an archive produced by Pack. Every entry must lie below
// one of allowed; symlinks must not point outside the repository.
func Unpack(root repopath.Root, data []byte, allowed []repopath.Path) error {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to open zstd stream: %w", err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt archive: %w", err)
		}

		rel, err := entryPath(hdr.Name, allowed)
		if err != nil {
			return err
		}
		target := root.Resolve(rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("failed to restore %s: %w", rel, err)
			}
			_ = os.Chtimes(target, hdr.ModTime, hdr.ModTime)
		case tar.TypeSymlink:
			if path.IsAbs(hdr.Linkname) {
				return fmt.Errorf("archive entry %q links outside the repo", hdr.Name)
			}
			if _, err := repopath.New(path.Join(path.Dir(rel.String()), hdr.Linkname)); err != nil {
				return fmt.Errorf("archive entry %q links outside the repo: %w", hdr.Name, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("failed to restore %s: %w", rel, err)
			}
		default:
			return fmt.Errorf("archive entry %q has unsupported type %c", hdr.Name, hdr.Typeflag)
		}
	}
}

func entryPath(name string, allowed []repopath.Path) (repopath.Path, error) {
	if path.IsAbs(name) {
		return repopath.Path{}, fmt.Errorf("archive entry %q is absolute", name)
	}
	rel, err := repopath.New(name)
	if err != nil {
		return repopath.Path{}, fmt.Errorf("archive entry %q: %w", name, err)
	}
	if rel.IsRoot() {
		return repopath.Path{}, fmt.Errorf("archive entry %q is the repo root", name)
	}
	for _, out := range allowed {
		if out.Contains(rel) {
			return rel, nil
		}
	}
	return repopath.Path{}, fmt.Errorf("archive entry %q is not below any declared output", name)
}

func writeFile(target string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	_ = os.Remove(target)
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Purge removes the given outputs from disk. The repository root itself is
// never removed.
func Purge(root repopath.Root, outputs []repopath.Path) error {
	for _, out := range outputs {
		if out.IsRoot() {
			return fmt.Errorf("refusing to purge the repo root")
		}
		if err := os.RemoveAll(root.Resolve(out)); err != nil {
			return fmt.Errorf("failed to purge %s: %w", out, err)
		}
	}
	return nil
}
