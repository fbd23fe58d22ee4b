package imgstore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/moby/go-archive"
	"github.com/moby/locker"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	metadataFileName = "metadata.db"
	blobsDirName     = "blobs"
	ingestDirName    = "ingest"
)

var (
	commitsBucket = []byte("commits")
	refsBucket    = []byte("refs")
)

// lockTimeout bounds how long a transaction waits for another process
// holding the metadata database.
const lockTimeout = 30 * time.Second

// LocalStore is a Store backed by a directory on the local filesystem.
//
// Trees are kept as tar archives addressed by their digest under
// blobs/<algorithm>/<encoded>; commit records and references live in a bolt
// database. Blobs are written and renamed into place before the bolt
// transaction that records them, so a reference never points at a missing
// tree.
//
// The bolt database is opened for the duration of a single transaction
// only, so independent processes can share one root. Reads take a shared
// lock, writes an exclusive one.
type LocalStore struct {
	root     string
	readOnly bool
	mu       sync.Mutex // serializes metadata access within the process
	locks    *locker.Locker
	noLchown bool
}

// StoreOpt configures a LocalStore.
type StoreOpt func(*LocalStore)

// WithReadOnly opens the store without ever writing to root. A root that
// does not exist yet is an empty store. Commit and Tag fail.
func WithReadOnly() StoreOpt {
	return func(s *LocalStore) {
		s.readOnly = true
	}
}

// NewLocalStore opens a store rooted at root, creating it unless the store
// is read-only.
func NewLocalStore(root string, opts ...StoreOpt) (*LocalStore, error) {
	s := &LocalStore{
		root:     root,
		locks:    locker.New(),
		noLchown: os.Geteuid() != 0,
	}
	for _, o := range opts {
		o(s)
	}
	if s.readOnly {
		return s, nil
	}

	for _, d := range []string{root, filepath.Join(root, blobsDirName), filepath.Join(root, ingestDirName)} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, errors.Wrap(err, "failed to create store directory")
		}
	}
	if err := s.update(func(*bolt.Bucket, *bolt.Bucket) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) metadataPath() string {
	return filepath.Join(s.root, metadataFileName)
}

// view runs fn in a read transaction. The buckets are nil when the store
// has no metadata yet.
func (s *LocalStore) view(fn func(commits, refs *bolt.Bucket) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.metadataPath()); errors.Is(err, os.ErrNotExist) {
		return fn(nil, nil)
	}
	db, err := bolt.Open(s.metadataPath(), 0o600, &bolt.Options{Timeout: lockTimeout, ReadOnly: true})
	if err != nil {
		return errors.Wrapf(err, "failed to open store metadata in %s", s.root)
	}
	defer db.Close()
	return db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(commitsBucket), tx.Bucket(refsBucket))
	})
}

// update runs fn in a write transaction, creating the buckets if needed.
func (s *LocalStore) update(fn func(commits, refs *bolt.Bucket) error) error {
	if s.readOnly {
		return errors.Wrapf(errdefs.ErrFailedPrecondition, "store %s is read-only", s.root)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := bolt.Open(s.metadataPath(), 0o600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return errors.Wrapf(err, "failed to open store metadata in %s", s.root)
	}
	defer db.Close()
	return db.Update(func(tx *bolt.Tx) error {
		var buckets [2]*bolt.Bucket
		for i, name := range [][]byte{commitsBucket, refsBucket} {
			b, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return errors.Wrapf(err, "failed to create bucket %s", name)
			}
			buckets[i] = b
		}
		return fn(buckets[0], buckets[1])
	})
}

func get(b *bolt.Bucket, key string) []byte {
	if b == nil {
		return nil
	}
	return b.Get([]byte(key))
}

func (s *LocalStore) blobPath(dgst digest.Digest) string {
	return filepath.Join(s.root, blobsDirName, string(dgst.Algorithm()), dgst.Encoded())
}

// Resolve implements Store.
func (s *LocalStore) Resolve(ctx context.Context, name string) (CommitID, error) {
	if name == "" {
		return "", errors.Wrap(errdefs.ErrInvalidArgument, "empty reference name")
	}
	var id CommitID
	err := s.view(func(_, refs *bolt.Bucket) error {
		v := get(refs, name)
		if v == nil {
			return errors.Wrapf(errdefs.ErrNotFound, "reference %s", name)
		}
		id = CommitID(v)
		return nil
	})
	return id, err
}

// Commit implements Store.
func (s *LocalStore) Commit(ctx context.Context, dir, name string, opts ...CommitOpt) (CommitID, error) {
	if s.readOnly {
		return "", errors.Wrapf(errdefs.ErrFailedPrecondition, "store %s is read-only", s.root)
	}
	tree, err := s.writeTree(ctx, dir)
	if err != nil {
		return "", err
	}

	ci := CommitInfo{
		Tree:      tree,
		Reference: name,
		Created:   time.Now().UTC(),
	}
	for _, o := range opts {
		o(&ci)
	}
	data, err := json.Marshal(ci)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode commit")
	}
	id := CommitID(digest.FromBytes(data))

	err = s.update(func(commits, refs *bolt.Bucket) error {
		if err := commits.Put([]byte(id), data); err != nil {
			return err
		}
		if name == "" {
			return nil
		}
		return refs.Put([]byte(name), []byte(id))
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to record commit %s", id)
	}

	log.G(ctx).WithFields(log.Fields{
		"commit":    id,
		"tree":      tree,
		"reference": name,
	}).Debug("committed tree")
	return id, nil
}

// writeTree archives dir into the blob store and returns the digest of the
// archive.
func (s *LocalStore) writeTree(ctx context.Context, dir string) (_ digest.Digest, retErr error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rc, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return "", errors.Wrapf(err, "failed to archive %s", dir)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Join(s.root, ingestDirName), "tree-")
	if err != nil {
		return "", errors.Wrap(err, "failed to create ingest file")
	}
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	digester := digest.Canonical.Digester()
	if _, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), rc); err != nil {
		return "", errors.Wrapf(err, "failed to write archive of %s", dir)
	}
	if err := tmp.Sync(); err != nil {
		return "", errors.Wrap(err, "failed to sync ingest file")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "failed to close ingest file")
	}
	dgst := digester.Digest()

	s.locks.Lock(dgst.String())
	defer s.locks.Unlock(dgst.String())

	target := s.blobPath(dgst)
	if _, err := os.Stat(target); err == nil {
		// identical tree already stored
		os.Remove(tmp.Name())
		return dgst, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return "", errors.Wrap(err, "failed to create blob directory")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", errors.Wrapf(err, "failed to store blob %s", dgst)
	}
	return dgst, nil
}

// Inspect returns the record of a commit.
func (s *LocalStore) Inspect(ctx context.Context, id CommitID) (CommitInfo, error) {
	var ci CommitInfo
	err := s.view(func(commits, _ *bolt.Bucket) error {
		v := get(commits, string(id))
		if v == nil {
			return errors.Wrapf(errdefs.ErrNotFound, "commit %s", id)
		}
		return json.Unmarshal(v, &ci)
	})
	if err != nil {
		return CommitInfo{}, err
	}
	ci.ID = id
	return ci, nil
}

// Checkout implements Store.
func (s *LocalStore) Checkout(ctx context.Context, id CommitID, dir string) error {
	ci, err := s.Inspect(ctx, id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(s.blobPath(ci.Tree))
	if err != nil {
		return errors.Wrapf(err, "failed to open tree of commit %s", id)
	}
	defer f.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create checkout directory")
	}

	verifier := ci.Tree.Verifier()
	tr := io.TeeReader(f, verifier)
	if err := archive.Untar(tr, dir, &archive.TarOptions{NoLchown: s.noLchown}); err != nil {
		return errors.Wrapf(err, "failed to check out commit %s", id)
	}
	if _, err := io.Copy(io.Discard, tr); err != nil {
		return errors.Wrapf(err, "failed to read tree of commit %s", id)
	}
	if !verifier.Verified() {
		return errors.Errorf("failed to verify tree %s of commit %s", ci.Tree, id)
	}

	log.G(ctx).WithFields(log.Fields{"commit": id, "dir": dir}).Debug("checked out commit")
	return nil
}

// Tag implements Store.
func (s *LocalStore) Tag(ctx context.Context, name string, id CommitID) error {
	if name == "" {
		return errors.Wrap(errdefs.ErrInvalidArgument, "empty reference name")
	}
	return s.update(func(commits, refs *bolt.Bucket) error {
		if commits.Get([]byte(id)) == nil {
			return errors.Wrapf(errdefs.ErrNotFound, "commit %s", id)
		}
		return refs.Put([]byte(name), []byte(id))
	})
}

// Walk calls fn for every reference, in lexical order of the name. fn runs
// outside the metadata transaction and may use the store.
func (s *LocalStore) Walk(ctx context.Context, fn func(name string, id CommitID) error) error {
	type ref struct {
		name string
		id   CommitID
	}
	var refs []ref
	err := s.view(func(_, b *bolt.Bucket) error {
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			refs = append(refs, ref{name: string(k), id: CommitID(v)})
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, r := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r.name, r.id); err != nil {
			return err
		}
	}
	return nil
}
