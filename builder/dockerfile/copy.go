package dockerfile

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/containerd/log"
	"github.com/moby/go-archive"
	"github.com/moby/patternmatcher"
	"github.com/moby/sys/symlink"
	"github.com/pkg/errors"
)

// copyInfo is one resolved COPY source.
type copyInfo struct {
	path  string // absolute path in the build source
	isDir bool
}

// copyFiles copies the sources matching patterns from the build source
// directory to dest inside rootfs.
func copyFiles(ctx context.Context, source, rootfs string, patterns []string, dest string) error {
	var infos []copyInfo
	for _, pattern := range patterns {
		matches, err := calcCopyInfo(source, pattern)
		if err != nil {
			return err
		}
		infos = append(infos, matches...)
	}

	destIsDir := len(infos) > 1 || len(patterns) > 1 || strings.HasSuffix(dest, "/")
	if !filepath.IsAbs(dest) {
		dest = "/" + dest
	}
	destPath, err := symlink.FollowSymlinkInScope(filepath.Join(rootfs, dest), rootfs)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve destination %s", dest)
	}
	if fi, err := os.Stat(destPath); err == nil && fi.IsDir() {
		destIsDir = true
	}
	if destIsDir {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return errors.Wrap(err, "failed to create destination")
		}
	}

	archiver := archive.NewDefaultArchiver()
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := destPath
		if info.isDir {
			// directory contents land in the destination, not the directory itself
			if err := archiver.CopyWithTar(info.path, target); err != nil {
				return errors.Wrapf(err, "failed to copy %s", info.path)
			}
		} else {
			if destIsDir {
				target = filepath.Join(destPath, filepath.Base(info.path))
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.Wrap(err, "failed to create destination")
			}
			if err := archiver.CopyFileWithTar(info.path, target); err != nil {
				return errors.Wrapf(err, "failed to copy %s", info.path)
			}
		}
		log.G(ctx).WithFields(log.Fields{
			"src":  info.path,
			"dest": target,
		}).Debug("copied")
	}
	return nil
}

// calcCopyInfo expands one source pattern relative to the build source.
// Patterns may use *, ?, [...] and **. A pattern that matches nothing or
// that reaches outside the build source is an error.
func calcCopyInfo(source, pattern string) ([]copyInfo, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(pattern, "/")))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, errors.Errorf("forbidden path outside the build context: %s", pattern)
	}

	if !containsWildcards(rel) {
		info, err := statInScope(source, rel)
		if err != nil {
			return nil, errors.Wrapf(err, "%s", pattern)
		}
		return []copyInfo{info}, nil
	}

	pm, err := patternmatcher.New([]string{rel})
	if err != nil {
		return nil, errors.Wrapf(err, "invalid pattern %s", pattern)
	}
	var matches []string
	err = filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		p, err := filepath.Rel(source, path)
		if err != nil || p == "." {
			return err
		}
		ok, err := pm.MatchesOrParentMatches(p)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		matches = append(matches, p)
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to expand %s", pattern)
	}
	if len(matches) == 0 {
		return nil, errors.Errorf("no source files were specified: %s matched nothing", pattern)
	}
	sort.Strings(matches)

	infos := make([]copyInfo, 0, len(matches))
	for _, m := range matches {
		info, err := statInScope(source, m)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func statInScope(source, rel string) (copyInfo, error) {
	p, err := symlink.FollowSymlinkInScope(filepath.Join(source, rel), source)
	if err != nil {
		return copyInfo{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return copyInfo{}, err
	}
	return copyInfo{path: p, isDir: fi.IsDir()}, nil
}

func containsWildcards(name string) bool {
	return strings.ContainsAny(name, "*?[")
}
