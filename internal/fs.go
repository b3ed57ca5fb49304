package internal

import (
	"context"
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/h2non/filetype"
	"github.com/mholt/archives"
	"github.com/sirupsen/logrus"
)

const maxArchiveFiles = 10000 // zip-bomb protection

var ErrWalkFailFast = errors.New("fail-fast: walk error") // sentinel error

// IsArchive by extension. O(1) map lookup
var archiveExt = map[string]struct{}{
	".zip": {}, ".tar": {}, ".gz": {}, ".bz2": {}, ".xz": {},
	".rar": {}, ".br": {}, ".lz4": {}, ".lz": {}, ".mz": {},
	".sz": {}, ".s2": {}, ".zz": {}, ".zst": {}, ".7z": {},
}

// Entry is a file found by Walk. Inner is set for files inside an archive.
type Entry struct {
	Path  string
	Inner string
}

// DetectRoots returns default roots for OS if user didn't provide any.
func DetectRoots(goos string) []string {
	if goos == "windows" {
		var drives []string
		for c := 'C'; c <= 'Z'; c++ {
			p := string(c) + ":\\"
			if st, err := os.Stat(p); err == nil && st.IsDir() {
				drives = append(drives, p)
			}
		}
		return drives
	}
	roots := []string{"/"}
	mounts := []string{"/mnt", "/media", "/run/media", "/Volumes"}
	for _, m := range mounts {
		if st, err := os.Stat(m); err == nil && st.IsDir() {
			ents, _ := os.ReadDir(m)
			for _, e := range ents {
				roots = append(roots, filepath.Join(m, e.Name()))
			}
		}
	}
	return roots
}

// WalkWithDepth uses WalkDir and cuts branches by depth.
func WalkWithDepth(ctx context.Context, root string, maxDepth int, fn func(path string, d os.DirEntry, err error) error) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return fn(path, d, err)
		}
		if maxDepth > 0 {
			rel, _ := filepath.Rel(root, path)
			if rel != "." && depthCount(rel) > maxDepth {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		return fn(path, d, nil)
	})
}

// Walk visits every file under root that passes opts, expanding archives
// when opts.Archives is set. Walk errors are logged and skipped unless
// opts.FailFast is set.
func Walk(ctx context.Context, root string, opts *WalkOptions, visit func(Entry) error) error {
	return WalkWithDepth(ctx, root, opts.Depth, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logrus.WithFields(logrus.Fields{"path": path, "err": err}).Warn("walk error")
			if opts.FailFast {
				return ErrWalkFailFast
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if rel == "." {
			rel = d.Name()
		}
		if !opts.allowedPath(filepath.ToSlash(rel)) {
			return nil
		}
		if opts.Archives && (IsArchive(path) || (opts.SniffArchives && SniffArchive(path))) {
			return WalkArchive(ctx, path, opts, func(inner string) error {
				return visit(Entry{Path: path, Inner: inner})
			})
		}
		if !opts.allowedExt(strings.ToLower(filepath.Ext(d.Name()))) {
			return nil
		}
		return visit(Entry{Path: path})
	})
}

// WalkArchive feeds archive entries to visit. Archives that cannot be opened
// are logged and skipped.
func WalkArchive(ctx context.Context, path string, opts *WalkOptions, visit func(inner string) error) error {
	fsys, err := archives.FileSystem(ctx, path, nil)
	if err != nil {
		logrus.WithError(err).WithField("archive", path).Error("open archive")
		return nil
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer closer.Close()
	}

	limit := opts.MaxArchiveFiles
	if limit <= 0 {
		limit = maxArchiveFiles
	}
	count := 0
	errLimit := errors.New("archive file limit reached")
	err = iofs.WalkDir(fsys, ".", func(inner string, d iofs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || d.IsDir() {
			return nil
		}
		if count >= limit {
			logrus.Warnf("Archive %s truncated: too many files (>= %d)", path, limit)
			return errLimit
		}
		if !opts.allowedExt(strings.ToLower(filepath.Ext(inner))) {
			return nil
		}
		count++
		return visit(inner)
	})
	if errors.Is(err, errLimit) {
		return nil
	}
	return err
}

// SniffArchive reports whether the file header looks like an archive.
func SniffArchive(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 262)
	n, _ := io.ReadFull(f, head)
	return filetype.IsArchive(head[:n])
}

func depthCount(rel string) int {
	if rel == "" {
		return 0
	}
	return strings.Count(rel, string(os.PathSeparator)) + 1
}

// Sanitize makes s usable as a file name.
func Sanitize(s string) string {
	r := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	)
	return r.Replace(s)
}

func IsArchive(path string) bool {
	_, ok := archiveExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

func matchAny(globs []string, rel string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

func validGlob(g string) bool { return doublestar.ValidatePattern(g) }
