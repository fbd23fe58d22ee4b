package dockerfile

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/moby/treebuilder/imgstore"
	"github.com/moby/treebuilder/reference"
)

// probeCache resolves the base image and then walks the instructions,
// replaying each one whose chain key is present in the store. It stops at
// the first miss. On return b.image is the last resolved commit and
// b.cached the number of instructions, FROM included, that need no
// materialization.
func (b *Builder) probeCache(ctx context.Context) error {
	from := b.instructions[0]
	b.printf("Step 1/%d : %s\n", b.stepTotal(), from.Original)
	if b.scratch {
		b.image = ""
		b.printf(" ---> %s\n", reference.Scratch)
	} else {
		id, err := b.store.Resolve(ctx, b.base.String())
		if err != nil {
			if errdefs.IsNotFound(err) {
				return &BaseImageNotFoundError{Name: b.base.String(), Err: err}
			}
			return &StoreTransactionError{Op: "resolve", Err: err}
		}
		b.image = id
		b.printf(" ---> %s\n", shortID(id))
	}
	b.cached = 1

	if b.options.NoCache {
		return nil
	}

	for _, instr := range b.instructions[1:] {
		key := ChainKey(b.image.String(), instr.Original)
		id, ok, err := b.lookup(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			log.G(ctx).WithFields(log.Fields{
				"step": instr.Index + 1,
				"key":  key,
			}).Debugf("[BUILDER] Cache miss: %s", instr.Original)
			return nil
		}

		b.transition(ctx, StateReplay)
		b.printf("Step %d/%d : %s\n", instr.Index+1, b.stepTotal(), instr.Original)
		if b.options.DryRun {
			b.printf(" ---> Chain key %s\n", key)
		}
		err = dispatch(ctx, dispatchRequest{
			state:        b.buildCtx,
			instr:        instr,
			metadataOnly: true,
		})
		if err != nil {
			return &InstructionFailedError{Index: instr.Index, Err: err}
		}
		b.printf(" ---> Using cache\n")
		b.printf(" ---> %s\n", shortID(id))
		log.G(ctx).WithFields(log.Fields{
			"step":   instr.Index + 1,
			"commit": id,
		}).Debugf("[BUILDER] Use cached version: %s", instr.Original)
		b.image = id
		b.cached++
	}

	if b.options.Generator != nil {
		key := ChainKey(b.image.String(), b.options.Generator.Signature())
		id, ok, err := b.lookup(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			b.configImage = id
		}
	}
	return nil
}

// lookup resolves a cache key. A missing entry is not an error.
func (b *Builder) lookup(ctx context.Context, key string) (imgstore.CommitID, bool, error) {
	id, err := b.store.Resolve(ctx, CacheReference(key))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, &StoreTransactionError{Op: "resolve", Err: err}
	}
	return id, true, nil
}

// shortID returns the abbreviated form of a commit id used in build
// output.
func shortID(id imgstore.CommitID) string {
	s := id.String()
	if dgst := id.Digest(); dgst.Validate() == nil {
		s = dgst.Encoded()
	}
	if len(s) > 12 && !isPlaceholder(id) {
		s = s[:12]
	}
	return s
}

func placeholderID(n int) imgstore.CommitID {
	return imgstore.CommitID(fmt.Sprintf("dryrun-%016d", n))
}

func isPlaceholder(id imgstore.CommitID) bool {
	return len(id) == len("dryrun-")+16 && id[:len("dryrun-")] == "dryrun-"
}
