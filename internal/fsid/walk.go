package fsid

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// WalkOptions configures Walk's filtering (excluded folders, excluded
// extensions, max file size) and its quarantine-root exclusion: the
// quarantine root is excluded from real-time scanning, and files under
// it are never re-enqueued.
type WalkOptions struct {
	ExcludedFolders    []string
	ExcludedExtensions []string
	MaxFileSizeBytes   int64
	QuarantineRoot     string
}

// IsExcludedFolder reports whether a directory named name is one of
// opts.ExcludedFolders. Exported so the watcher can skip the same
// folders at watch-registration time: excluded roots are filtered
// before emission.
func (o WalkOptions) IsExcludedFolder(name string) bool {
	for _, f := range o.ExcludedFolders {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

// IsExcludedExtension reports whether path's extension is excluded.
func (o WalkOptions) IsExcludedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range o.ExcludedExtensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// UnderQuarantineRoot reports whether path is the quarantine root or
// nested under it.
func (o WalkOptions) UnderQuarantineRoot(path string) bool {
	if o.QuarantineRoot == "" {
		return false
	}
	rel, err := filepath.Rel(o.QuarantineRoot, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "")
}

// Walk enumerates regular files under roots, applying opts' filters, and
// streams their paths on the returned channel. It never follows
// symlinks or reparse points — the conservative reading of "refuses to
// follow reparse points/symlinks outside the root" is to never follow
// them at all, since resolving whether a link target stays inside the
// root requires trusting attacker-controlled filesystem state.
func Walk(roots []string, opts WalkOptions) (<-chan string, error) {
	out := make(chan string, 64)

	go func() {
		defer close(out)
		for _, root := range roots {
			walkRoot(root, opts, out)
		}
	}()

	return out, nil
}

func walkRoot(root string, opts WalkOptions, out chan<- string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking siblings
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil // never follow symlinks/reparse points
		}
		if opts.UnderQuarantineRoot(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && opts.IsExcludedFolder(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.IsExcludedExtension(path) {
			return nil
		}
		if opts.MaxFileSizeBytes > 0 {
			info, err := d.Info()
			if err != nil || info.Size() > opts.MaxFileSizeBytes {
				return nil
			}
		}
		out <- path
		return nil
	})
}
