package imgstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/containerd/log"
	"github.com/moby/go-archive"
	"github.com/moby/treebuilder/reference"
	"github.com/pkg/errors"
)

// ImportOptions configures Import and ImportArchive.
type ImportOptions struct {
	// TmpDir is where the staging tree is created. Defaults to os.TempDir.
	TmpDir string
	// Message is recorded on the resulting commit.
	Message string
}

// Import commits the directory src as the filesystem of a new image and
// points tag at it. The contents of src end up in the RootfsDir of the
// committed tree, which is the layout the builder checks out.
func Import(ctx context.Context, s Store, src string, tag reference.Named, opts ImportOptions) (CommitID, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return "", errors.Wrap(err, "failed to import")
	}
	if !fi.IsDir() {
		return "", errors.Errorf("failed to import: %s is not a directory", src)
	}

	return importStaged(ctx, s, tag, opts, func(rootfs string) error {
		return archive.NewDefaultArchiver().CopyWithTar(src, rootfs)
	})
}

// ImportArchive is like Import, but reads the filesystem from a (possibly
// compressed) tar stream.
func ImportArchive(ctx context.Context, s Store, r io.Reader, tag reference.Named, opts ImportOptions) (CommitID, error) {
	return importStaged(ctx, s, tag, opts, func(rootfs string) error {
		return archive.Untar(r, rootfs, &archive.TarOptions{NoLchown: os.Geteuid() != 0})
	})
}

func importStaged(ctx context.Context, s Store, tag reference.Named, opts ImportOptions, fill func(rootfs string) error) (CommitID, error) {
	staging, err := os.MkdirTemp(opts.TmpDir, "treebuild-import-")
	if err != nil {
		return "", errors.Wrap(err, "failed to create staging directory")
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			log.G(ctx).WithError(err).WithField("dir", staging).Warn("failed to remove staging directory")
		}
	}()

	rootfs := filepath.Join(staging, RootfsDir)
	if err := os.MkdirAll(rootfs, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create staging rootfs")
	}
	if err := os.MkdirAll(filepath.Join(staging, ExportsDir), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create staging exports")
	}
	if err := fill(rootfs); err != nil {
		return "", errors.Wrap(err, "failed to stage import")
	}

	var copts []CommitOpt
	if opts.Message != "" {
		copts = append(copts, WithMessage(opts.Message))
	}
	id, err := s.Commit(ctx, staging, tag.String(), copts...)
	if err != nil {
		return "", err
	}
	log.G(ctx).WithFields(log.Fields{"tag": tag.String(), "commit": id}).Info("imported image")
	return id, nil
}
