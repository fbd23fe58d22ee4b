//go:build !linux

package execdriver

import (
	"context"
	"runtime"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// DefaultShell interprets the command text of a Process.
const DefaultShell = "/bin/sh"

type chrootDriver struct{}

// NewChrootDriver returns a Driver that always fails on this platform.
func NewChrootDriver(string, ...Opt) Driver {
	return chrootDriver{}
}

func (chrootDriver) Exec(context.Context, *Process) (int, error) {
	return -1, errors.Wrapf(errdefs.ErrNotImplemented, "chroot execution is not supported on %s", runtime.GOOS)
}
