// Package execdriver runs build-time commands against a checked-out
// filesystem tree.
package execdriver

import (
	"context"
	"io"
	"strings"
)

// DefaultPath is added to the environment of a process that does not set
// PATH itself.
const DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Driver executes a process inside a filesystem root.
type Driver interface {
	// Exec runs p to completion and returns its exit status. A non-zero
	// status is not an error; err is only set if the process could not be
	// run or was interrupted through ctx.
	Exec(ctx context.Context, p *Process) (exitStatus int, err error)
}

// Process describes a command to run.
type Process struct {
	Root    string   // filesystem root of the process
	Command string   // passed to the shell with -c
	User    string   // user[:group], by name or numeric id
	Env     []string // KEY=VALUE; nothing from the caller's environment is inherited
	Stdout  io.Writer
	Stderr  io.Writer
}

// Opt configures a Driver.
type Opt func(*options)

type options struct {
	defaultPath string
}

// WithDefaultPath overrides the PATH given to processes whose environment
// does not set one.
func WithDefaultPath(path string) Opt {
	return func(o *options) {
		if path != "" {
			o.defaultPath = path
		}
	}
}

// withDefaultEnv returns env with PATH set if env does not contain it.
func withDefaultEnv(env []string, path string) []string {
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			return env
		}
	}
	return append(append([]string{}, env...), "PATH="+path)
}
