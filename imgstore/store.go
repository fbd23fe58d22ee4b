// Package imgstore provides the content-addressed tree store that build
// steps are committed to.
//
// A commit captures a complete directory tree. Named references point at
// commits; they are either internal build-cache entries or user-facing
// tags. Every commit made by the builder uses the same tree layout: the
// image filesystem lives in RootfsDir and generated artifacts in ExportsDir.
package imgstore

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"
)

const (
	// RootfsDir is the directory within a committed tree that holds the
	// image filesystem.
	RootfsDir = "rootfs"
	// ExportsDir is the directory within a committed tree that holds
	// generated configuration artifacts.
	ExportsDir = "exports"
)

// CommitID identifies a commit.
type CommitID string

func (id CommitID) String() string {
	return string(id)
}

// Digest returns the id as a digest.
func (id CommitID) Digest() digest.Digest {
	return digest.Digest(id)
}

// CommitInfo describes a commit.
type CommitInfo struct {
	ID        CommitID      `json:"-"`
	Tree      digest.Digest `json:"tree"`
	Parent    CommitID      `json:"parent,omitempty"`
	Reference string        `json:"reference,omitempty"`
	Message   string        `json:"message,omitempty"`
	Created   time.Time     `json:"created"`
}

// Store is the interface the builder uses to persist and restore trees.
//
// Implementations must make Commit with a reference name, and Tag, atomic:
// an observer either sees the old reference target or the new one.
type Store interface {
	// Resolve returns the commit a reference points to. It returns an
	// error matching errdefs.IsNotFound if the reference does not exist.
	Resolve(ctx context.Context, name string) (CommitID, error)
	// Commit writes the full contents of dir as a new commit. If name is
	// not empty the reference is updated in the same transaction.
	Commit(ctx context.Context, dir, name string, opts ...CommitOpt) (CommitID, error)
	// Checkout materializes a commit into dir. Files present in the commit
	// replace existing files; other existing content is left alone.
	Checkout(ctx context.Context, id CommitID, dir string) error
	// Tag points name at id, replacing any previous target.
	Tag(ctx context.Context, name string, id CommitID) error
}

// CommitOpt configures a commit.
type CommitOpt func(*CommitInfo)

// WithMessage sets a free-form commit message.
func WithMessage(msg string) CommitOpt {
	return func(ci *CommitInfo) {
		ci.Message = msg
	}
}

// WithParent records the commit the new tree was derived from.
func WithParent(id CommitID) CommitOpt {
	return func(ci *CommitInfo) {
		ci.Parent = id
	}
}
