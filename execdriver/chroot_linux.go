package execdriver

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"github.com/containerd/log"
	"github.com/moby/treebuilder/internal/usergroup"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultShell interprets the command text of a Process.
const DefaultShell = "/bin/sh"

type chrootDriver struct {
	shell string
	opts  options
}

// NewChrootDriver returns a Driver that runs processes chrooted into their
// root with the credentials of the resolved user. It requires root
// privileges.
func NewChrootDriver(shell string, opts ...Opt) Driver {
	if shell == "" {
		shell = DefaultShell
	}
	d := &chrootDriver{shell: shell, opts: options{defaultPath: DefaultPath}}
	for _, o := range opts {
		o(&d.opts)
	}
	return d
}

func (d *chrootDriver) Exec(ctx context.Context, p *Process) (int, error) {
	if os.Geteuid() != 0 {
		return -1, errors.New("chroot execution requires root privileges")
	}
	id, err := usergroup.Resolve(p.Root, p.User)
	if err != nil {
		return -1, err
	}

	groups := make([]uint32, 0, len(id.Groups))
	for _, g := range id.Groups {
		groups = append(groups, uint32(g))
	}

	cmd := exec.CommandContext(ctx, d.shell, "-c", p.Command)
	cmd.Dir = "/"
	cmd.Env = withDefaultEnv(p.Env, d.opts.defaultPath)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Chroot:  p.Root,
		Setpgid: true,
		Credential: &syscall.Credential{
			Uid:    uint32(id.UID),
			Gid:    uint32(id.GID),
			Groups: groups,
		},
	}
	// take the whole process group down, not only the shell
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	log.G(ctx).WithFields(log.Fields{
		"root": p.Root,
		"uid":  id.UID,
		"gid":  id.GID,
	}).Debugf("exec %s -c %q", d.shell, p.Command)

	err = cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, errors.Wrap(ctxErr, "command interrupted")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, errors.Wrapf(err, "failed to run %s", d.shell)
	}
	return 0, nil
}
