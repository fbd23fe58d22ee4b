// Package usergroup resolves user specifications against the passwd and
// group files of a root filesystem.
package usergroup

import (
	"path/filepath"

	"github.com/moby/sys/symlink"
	"github.com/moby/sys/user"
	"github.com/pkg/errors"
)

// Identity is a resolved user.
type Identity struct {
	UID    int
	GID    int
	Groups []int
	Home   string
}

// Resolve looks userSpec (user[:group], by name or numeric id) up in the
// passwd and group files of root. Numeric ids resolve even when those files
// are missing. An empty spec means root.
func Resolve(root, userSpec string) (Identity, error) {
	if userSpec == "" {
		userSpec = "0"
	}
	passwdPath, err := symlink.FollowSymlinkInScope(filepath.Join(root, "etc", "passwd"), root)
	if err != nil {
		return Identity{}, errors.Wrap(err, "failed to locate passwd file")
	}
	groupPath, err := symlink.FollowSymlinkInScope(filepath.Join(root, "etc", "group"), root)
	if err != nil {
		return Identity{}, errors.Wrap(err, "failed to locate group file")
	}

	defaults := &user.ExecUser{Uid: 0, Gid: 0, Home: "/"}
	eu, err := user.GetExecUserPath(userSpec, defaults, passwdPath, groupPath)
	if err != nil {
		return Identity{}, errors.Wrapf(err, "unable to find user %s", userSpec)
	}
	return Identity{UID: eu.Uid, GID: eu.Gid, Groups: eu.Sgids, Home: eu.Home}, nil
}
