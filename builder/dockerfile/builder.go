// Package dockerfile implements the build pipeline: it decodes a script,
// replays the longest prefix found in the build cache, materializes the
// remaining instructions one commit at a time and tags the result.
//
// Every instruction after FROM is cached under a chain key derived from
// the commit it was applied to and its own text (see ChainKey), so a
// cached entry is only reused when the whole history leading to it is
// identical.
package dockerfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/containerd/log"
	"github.com/moby/treebuilder/builder/dockerfile/parser"
	"github.com/moby/treebuilder/execdriver"
	"github.com/moby/treebuilder/imgstore"
	"github.com/moby/treebuilder/oci"
	"github.com/moby/treebuilder/reference"
	"github.com/pkg/errors"
)

// State is a step of the build state machine.
type State int

const (
	StateInit State = iota
	StateCacheProbe
	StateReplay
	StateCheckout
	StateMaterialize
	StateFinalize
	StateTagged
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateCacheProbe:
		return "CacheProbe"
	case StateReplay:
		return "Replay"
	case StateCheckout:
		return "Checkout"
	case StateMaterialize:
		return "Materialize"
	case StateFinalize:
		return "Finalize"
	case StateTagged:
		return "Tagged"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options constitutes the configuration of a build.
type Options struct {
	// Source is the build source directory. COPY sources are relative to
	// it. Defaults to the current directory.
	Source string
	// Tag names the result. It is normalized with reference.ParseNormalized.
	Tag string

	NoCache  bool
	DryRun   bool
	KeepTemp bool
	// TmpDir is where the working tree is created. Defaults to os.TempDir.
	TmpDir string

	// Generator, if set, adds a final step writing configuration
	// artifacts into the exports directory.
	Generator oci.Generator
}

// Result describes a successful build.
type Result struct {
	ImageID imgstore.CommitID
	Tag     string
	// CachedSteps counts the instructions after FROM that were served
	// from the build cache, BuiltSteps those that were materialized.
	CachedSteps int
	BuiltSteps  int
	// WorkDir is the working tree left behind when KeepTemp is set.
	WorkDir string
}

// Builder runs a single build. It must not be reused.
type Builder struct {
	Stdout io.Writer
	Stderr io.Writer

	options Options
	store   imgstore.Store
	driver  execdriver.Driver

	instructions []parser.Instruction
	base         reference.Named
	scratch      bool
	target       reference.Named
	buildCtx     *BuildContext

	image       imgstore.CommitID // last resolved or produced commit
	configImage imgstore.CommitID // cached configuration step, if any
	cached      int
	tree        *workingTree
	checkedOut  bool

	state  State
	states []State
}

// NewBuilder creates a Builder. In a dry run the store is only read from
// and the driver is never invoked.
func NewBuilder(store imgstore.Store, driver execdriver.Driver, options Options) *Builder {
	b := &Builder{
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		options:  options,
		store:    store,
		driver:   driver,
		buildCtx: NewBuildContext(),
	}
	if options.DryRun {
		b.store = &dryRunStore{Store: store}
	}
	return b
}

// Build runs the build script read from dockerfile.
//
// This will (barring errors):
//
//   - decode the script and normalize the base and target names
//   - replay the longest cached prefix without touching the filesystem
//   - check out the last cached commit and materialize every remaining
//     instruction, committing after each one
//   - generate the configuration artifacts, if a generator is set
//   - tag the final commit
func (b *Builder) Build(ctx context.Context, dockerfile io.Reader) (_ *Result, retErr error) {
	defer func() {
		if retErr != nil {
			b.transition(ctx, StateFailed)
			log.G(ctx).WithError(retErr).Debug("build failed")
		}
	}()

	b.transition(ctx, StateInit)
	if err := b.init(dockerfile); err != nil {
		return nil, err
	}

	b.transition(ctx, StateCacheProbe)
	if err := b.probeCache(ctx); err != nil {
		return nil, err
	}

	if !b.options.DryRun {
		tree, err := newWorkingTree(b.options.TmpDir)
		if err != nil {
			return nil, err
		}
		b.tree = tree
		defer func() {
			if b.options.KeepTemp {
				log.G(ctx).WithField("dir", tree.dir()).Info("keeping working tree")
				return
			}
			if err := tree.remove(); err != nil {
				log.G(ctx).WithError(err).Warn("failed to remove working tree")
			}
		}()
	}

	res := &Result{CachedSteps: b.cached - 1}

	for _, instr := range b.instructions[b.cached:] {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "build cancelled")
		}
		if err := b.checkout(ctx); err != nil {
			return nil, err
		}
		if err := b.materialize(ctx, instr); err != nil {
			return nil, err
		}
		res.BuiltSteps++
	}

	if b.options.Generator != nil {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "build cancelled")
		}
		if err := b.finalize(ctx); err != nil {
			return nil, err
		}
	}

	if b.image == "" {
		// FROM scratch and nothing else
		id, err := b.store.Commit(ctx, b.tree.dir(), "", imgstore.WithMessage(b.instructions[0].Original))
		if err != nil {
			return nil, &StoreTransactionError{Op: "commit", Err: err}
		}
		b.image = id
	}

	if err := b.store.Tag(ctx, b.target.String(), b.image); err != nil {
		return nil, &StoreTransactionError{Op: "tag", Err: err}
	}
	b.transition(ctx, StateTagged)

	b.printf("Successfully built %s\n", shortID(b.image))
	b.printf("Successfully tagged %s\n", b.target)

	res.ImageID = b.image
	res.Tag = b.target.String()
	if b.options.KeepTemp {
		res.WorkDir = b.tree.dir()
	}
	return res, nil
}

// init decodes the script and validates the names it refers to. Nothing
// touches the store before init succeeds.
func (b *Builder) init(dockerfile io.Reader) error {
	target, err := reference.ParseNormalized(b.options.Tag)
	if err != nil {
		return errors.Wrap(err, "invalid tag")
	}
	b.target = target

	instructions, err := parser.Parse(dockerfile)
	if err != nil {
		return err
	}
	b.instructions = instructions

	src, err := filepath.Abs(b.options.Source)
	if err != nil {
		return errors.Wrap(err, "invalid build source")
	}
	b.options.Source = src

	from := instructions[0]
	if reference.IsScratch(from.Args) {
		b.scratch = true
		return nil
	}
	base, err := reference.ParseNormalized(from.Args)
	if err != nil {
		return &MalformedScriptError{Line: from.StartLine, Msg: err.Error()}
	}
	b.base = base

	return nil
}

// checkout materializes the last cached commit into the working tree. It
// runs at most once per build; the scratch base needs no checkout.
func (b *Builder) checkout(ctx context.Context) error {
	if b.checkedOut {
		return nil
	}
	b.checkedOut = true
	if b.image == "" {
		return nil
	}
	b.transition(ctx, StateCheckout)
	if err := b.store.Checkout(ctx, b.image, b.tree.dir()); err != nil {
		return &CheckoutFailedError{ID: b.image, Err: err}
	}
	return b.tree.ensureLayout()
}

// materialize executes one instruction against the working tree and
// commits the result under its chain key.
func (b *Builder) materialize(ctx context.Context, instr parser.Instruction) error {
	b.transition(ctx, StateMaterialize)
	key := ChainKey(b.image.String(), instr.Original)

	b.printf("Step %d/%d : %s\n", instr.Index+1, b.stepTotal(), instr.Original)
	if b.options.DryRun {
		b.printf(" ---> Chain key %s\n", key)
	}
	err := dispatch(ctx, dispatchRequest{
		state:        b.buildCtx,
		instr:        instr,
		rootfs:       b.tree.rootfs(),
		source:       b.options.Source,
		metadataOnly: b.options.DryRun,
		driver:       b.driver,
		stdout:       b.Stdout,
		stderr:       b.Stderr,
	})
	if err != nil {
		return &InstructionFailedError{Index: instr.Index, Err: err}
	}

	return b.commit(ctx, instr.Index+1, key, instr.Original)
}

// finalize generates the configuration artifacts as an extra cached step.
func (b *Builder) finalize(ctx context.Context) error {
	b.transition(ctx, StateFinalize)
	gen := b.options.Generator
	sig := gen.Signature()
	step := len(b.instructions) + 1

	b.printf("Step %d/%d : %s\n", step, b.stepTotal(), sig)
	if b.configImage != "" {
		b.printf(" ---> Using cache\n")
		b.printf(" ---> %s\n", shortID(b.configImage))
		b.image = b.configImage
		return nil
	}

	key := ChainKey(b.image.String(), sig)
	if b.options.DryRun {
		b.printf(" ---> Chain key %s\n", key)
	} else {
		if err := b.checkout(ctx); err != nil {
			return err
		}
		cfg := b.buildCtx.ImageConfig(b.tree.rootfs())
		if err := gen.Generate(ctx, b.tree.exports(), cfg); err != nil {
			return &InstructionFailedError{Index: len(b.instructions), Err: err}
		}
	}
	return b.commit(ctx, step, key, sig)
}

func (b *Builder) commit(ctx context.Context, step int, key, message string) error {
	id, err := b.store.Commit(ctx, b.tree.dir(), CacheReference(key),
		imgstore.WithParent(b.image),
		imgstore.WithMessage(message),
	)
	if err != nil {
		return &StoreTransactionError{Op: "commit", Err: err}
	}
	log.G(ctx).WithFields(log.Fields{
		"step":   step,
		"key":    key,
		"commit": id,
	}).Info("committed build step")

	b.printf(" ---> %s\n", shortID(id))
	b.image = id
	return nil
}

func (b *Builder) stepTotal() int {
	if b.options.Generator != nil {
		return len(b.instructions) + 1
	}
	return len(b.instructions)
}

func (b *Builder) transition(ctx context.Context, s State) {
	b.state = s
	b.states = append(b.states, s)
	log.G(ctx).WithField("state", s).Debug("[BUILDER] state")
}

func (b *Builder) printf(format string, args ...any) {
	fmt.Fprintf(b.Stdout, format, args...)
}

// dryRunStore reads through to the wrapped store and turns every write
// into a no-op. Commits return sequential placeholder ids.
type dryRunStore struct {
	imgstore.Store
	commits int
}

func (s *dryRunStore) Commit(context.Context, string, string, ...imgstore.CommitOpt) (imgstore.CommitID, error) {
	s.commits++
	return placeholderID(s.commits), nil
}

func (s *dryRunStore) Checkout(context.Context, imgstore.CommitID, string) error {
	return nil
}

func (s *dryRunStore) Tag(context.Context, string, imgstore.CommitID) error {
	return nil
}
