package dockerfile

import (
	"os"
	"path/filepath"

	"github.com/moby/treebuilder/imgstore"
	"github.com/pkg/errors"
)

// workingTree is the scratch directory a build materializes into. Its
// layout matches the commits of the store: the image filesystem below
// imgstore.RootfsDir and generated artifacts below imgstore.ExportsDir.
//
// A dry run has no working tree; the methods accept a nil receiver and
// then neither name nor touch any path.
type workingTree struct {
	root string
}

func newWorkingTree(tmpDir string) (*workingTree, error) {
	root, err := os.MkdirTemp(tmpDir, "treebuild-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create working tree")
	}
	t := &workingTree{root: root}
	if err := t.ensureLayout(); err != nil {
		os.RemoveAll(root)
		return nil, err
	}
	return t, nil
}

func (t *workingTree) dir() string {
	if t == nil {
		return ""
	}
	return t.root
}

func (t *workingTree) ensureLayout() error {
	if t == nil {
		return nil
	}
	for _, dir := range []string{t.rootfs(), t.exports()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "failed to prepare working tree")
		}
	}
	return nil
}

func (t *workingTree) rootfs() string {
	if t == nil {
		return ""
	}
	return filepath.Join(t.root, imgstore.RootfsDir)
}

func (t *workingTree) exports() string {
	if t == nil {
		return ""
	}
	return filepath.Join(t.root, imgstore.ExportsDir)
}

func (t *workingTree) remove() error {
	if t == nil {
		return nil
	}
	return os.RemoveAll(t.root)
}
