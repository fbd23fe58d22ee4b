package dockerfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/moby/treebuilder/builder/dockerfile/command"
	"github.com/moby/treebuilder/builder/dockerfile/parser"
	"github.com/moby/treebuilder/execdriver"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"
)

func newInstruction(t *testing.T, line string) parser.Instruction {
	t.Helper()
	word, args, _ := strings.Cut(line, " ")
	kw, ok := command.Lookup(word)
	assert.Assert(t, ok, "unknown keyword %s", word)
	return parser.Instruction{
		Keyword:   kw,
		Args:      strings.TrimSpace(args),
		Original:  line,
		Index:     1,
		StartLine: 2,
		EndLine:   2,
	}
}

func dispatchLine(t *testing.T, bc *BuildContext, line string) error {
	t.Helper()
	return dispatch(context.Background(), dispatchRequest{
		state: bc,
		instr: newInstruction(t, line),
	})
}

// fakeDriver records processes and runs an optional hook in their place.
type fakeDriver struct {
	procs  []execdriver.Process
	status int
	run    func(p *execdriver.Process) error
}

func (d *fakeDriver) Exec(_ context.Context, p *execdriver.Process) (int, error) {
	d.procs = append(d.procs, *p)
	if d.run != nil {
		if err := d.run(p); err != nil {
			return -1, err
		}
	}
	return d.status, nil
}

func TestEnv(t *testing.T) {
	testCases := []struct {
		doc      string
		lines    []string
		expected []string
	}{
		{
			doc:      "key value form",
			lines:    []string{"ENV A=1 B=2"},
			expected: []string{"A=1", "B=2"},
		},
		{
			doc:      "legacy form keeps spaces",
			lines:    []string{"ENV A value with spaces"},
			expected: []string{"A=value with spaces"},
		},
		{
			doc:      "legacy form with an apostrophe",
			lines:    []string{"ENV MSG don't panic"},
			expected: []string{"MSG=don't panic"},
		},
		{
			doc:      "legacy form keeps quotes",
			lines:    []string{`ENV A "hello world"`},
			expected: []string{`A="hello world"`},
		},
		{
			doc:      "quoted values",
			lines:    []string{`ENV A="x y" B='single quoted' C=a\ b`},
			expected: []string{"A=x y", "B=single quoted", "C=a b"},
		},
		{
			doc:      "value containing equals",
			lines:    []string{`ENV OPTS="-Dkey=value" URL=http://host/?a=b`},
			expected: []string{"OPTS=-Dkey=value", "URL=http://host/?a=b"},
		},
		{
			doc:      "later assignment overwrites in place",
			lines:    []string{"ENV A=1 B=2", "ENV A=3"},
			expected: []string{"A=3", "B=2"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.doc, func(t *testing.T) {
			bc := NewBuildContext()
			for _, line := range tc.lines {
				assert.NilError(t, dispatchLine(t, bc, line))
			}
			assert.Check(t, is.DeepEqual(tc.expected, bc.Env()))
		})
	}
}

func TestEnvMissingValue(t *testing.T) {
	err := dispatchLine(t, NewBuildContext(), "ENV A")
	assert.Check(t, is.ErrorContains(err, "ENV must have two arguments"))
}

func TestLabel(t *testing.T) {
	bc := NewBuildContext()
	assert.NilError(t, dispatchLine(t, bc, `LABEL version=1.0 "description"="a web server"`))
	assert.NilError(t, dispatchLine(t, bc, `LABEL version=1.1`))
	assert.Check(t, is.DeepEqual(map[string]string{"version": "1.1", "description": "a web server"}, bc.Labels()))

	err := dispatchLine(t, bc, "LABEL novalue")
	assert.Check(t, is.ErrorContains(err, "LABEL names can not be blank or lack a value"))
}

func TestUserAndMaintainer(t *testing.T) {
	bc := NewBuildContext()
	assert.Check(t, is.Equal(DefaultUser, bc.User))

	assert.NilError(t, dispatchLine(t, bc, "USER app:staff"))
	assert.NilError(t, dispatchLine(t, bc, "MAINTAINER Jane Doe <jane@example.com>"))
	assert.Check(t, is.Equal("app:staff", bc.User))
	assert.Check(t, is.Equal("Jane Doe <jane@example.com>", bc.Maintainer))
}

func TestCmdAndEntrypoint(t *testing.T) {
	bc := NewBuildContext()
	assert.NilError(t, dispatchLine(t, bc, `ENTRYPOINT ["/bin/server", "--verbose"]`))
	assert.NilError(t, dispatchLine(t, bc, `CMD echo hello world`))
	assert.NilError(t, dispatchLine(t, bc, `CMD ["a", "b"]`))

	assert.Check(t, is.DeepEqual([]string{"/bin/server", "--verbose"}, bc.Entrypoint))
	assert.Check(t, is.DeepEqual([]string{"echo hello world", "a", "b"}, bc.Cmd))

	err := dispatchLine(t, bc, `CMD ["unterminated"`)
	assert.Check(t, is.ErrorContains(err, "invalid JSON array"))
}

func TestExpose(t *testing.T) {
	bc := NewBuildContext()
	assert.NilError(t, dispatchLine(t, bc, "EXPOSE 80 443/tcp"))
	assert.NilError(t, dispatchLine(t, bc, "EXPOSE 80 8080"))
	assert.Check(t, is.DeepEqual([]string{"80", "443/tcp", "8080"}, bc.ExposedPorts()))
}

func TestDispatchUnsupported(t *testing.T) {
	for _, line := range []string{"WORKDIR /app", "ADD a b", "ARG x", "VOLUME /data", "STOPSIGNAL 9", "ONBUILD RUN true"} {
		err := dispatchLine(t, NewBuildContext(), line)
		var unsupported *UnsupportedInstructionError
		assert.Check(t, errors.As(err, &unsupported), line)
		assert.Check(t, errdefs.IsNotImplemented(err), line)
	}
}

func TestDispatchFrom(t *testing.T) {
	err := dispatchLine(t, NewBuildContext(), "FROM busybox")
	var malformed *MalformedScriptError
	assert.Check(t, errors.As(err, &malformed))
}

func TestRun(t *testing.T) {
	bc := NewBuildContext()
	bc.SetEnv("A", "1")
	bc.User = "app"
	d := &fakeDriver{}

	err := dispatch(context.Background(), dispatchRequest{
		state:  bc,
		instr:  newInstruction(t, "RUN make install"),
		rootfs: "/tmp/rootfs",
		driver: d,
	})
	assert.NilError(t, err)
	assert.Assert(t, is.Len(d.procs, 1))
	p := d.procs[0]
	assert.Check(t, is.Equal("/tmp/rootfs", p.Root))
	assert.Check(t, is.Equal("make install", p.Command))
	assert.Check(t, is.Equal("app", p.User))
	assert.Check(t, is.DeepEqual([]string{"A=1"}, p.Env))
}

func TestRunNonZeroExit(t *testing.T) {
	d := &fakeDriver{status: 2}
	err := dispatch(context.Background(), dispatchRequest{
		state:  NewBuildContext(),
		instr:  newInstruction(t, "RUN false"),
		driver: d,
	})
	var sbErr *SandboxExecutionError
	assert.Assert(t, errors.As(err, &sbErr))
	assert.Check(t, is.Equal(2, sbErr.ExitStatus))
	assert.Check(t, errdefs.IsFailedPrecondition(err))
	assert.Check(t, is.Error(err, "the command 'false' returned a non-zero code: 2"))
}

func TestMetadataOnlySkipsFilesystem(t *testing.T) {
	d := &fakeDriver{}
	rootfs := t.TempDir()
	for _, line := range []string{"RUN touch /x", "COPY missing /dest"} {
		err := dispatch(context.Background(), dispatchRequest{
			state:        NewBuildContext(),
			instr:        newInstruction(t, line),
			rootfs:       rootfs,
			source:       t.TempDir(),
			metadataOnly: true,
			driver:       d,
		})
		assert.NilError(t, err, line)
	}
	assert.Check(t, is.Len(d.procs, 0))
	entries, err := os.ReadDir(rootfs)
	assert.NilError(t, err)
	assert.Check(t, is.Len(entries, 0))
}

func newSource(t *testing.T) *fs.Dir {
	return fs.NewDir(t, "source",
		fs.WithFile("Dockerfile", "FROM scratch\n"),
		fs.WithFile("main.go", "package main\n"),
		fs.WithFile("util.go", "package main // util\n"),
		fs.WithFile("README", "readme\n"),
		fs.WithDir("conf",
			fs.WithFile("app.conf", "a=1\n"),
			fs.WithDir("sub", fs.WithFile("nested.conf", "b=2\n")),
		),
	)
}

func copyLine(t *testing.T, source, rootfs, line string) error {
	t.Helper()
	return dispatch(context.Background(), dispatchRequest{
		state:  NewBuildContext(),
		instr:  newInstruction(t, line),
		rootfs: rootfs,
		source: source,
	})
}

func assertFile(t *testing.T, path, content string) {
	t.Helper()
	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(content, string(data)))
}

func TestCopyFile(t *testing.T) {
	src := newSource(t)
	rootfs := t.TempDir()

	assert.NilError(t, copyLine(t, src.Path(), rootfs, "COPY README /docs/README.txt"))
	assertFile(t, filepath.Join(rootfs, "docs", "README.txt"), "readme\n")

	assert.NilError(t, copyLine(t, src.Path(), rootfs, "COPY README /docs/"))
	assertFile(t, filepath.Join(rootfs, "docs", "README"), "readme\n")

	// an existing directory destination receives the file
	assert.NilError(t, copyLine(t, src.Path(), rootfs, "COPY main.go docs"))
	assertFile(t, filepath.Join(rootfs, "docs", "main.go"), "package main\n")
}

func TestCopyDirectoryContents(t *testing.T) {
	src := newSource(t)
	rootfs := t.TempDir()

	assert.NilError(t, copyLine(t, src.Path(), rootfs, "COPY conf /etc/app"))
	assertFile(t, filepath.Join(rootfs, "etc", "app", "app.conf"), "a=1\n")
	assertFile(t, filepath.Join(rootfs, "etc", "app", "sub", "nested.conf"), "b=2\n")
	_, err := os.Stat(filepath.Join(rootfs, "etc", "app", "conf"))
	assert.Check(t, os.IsNotExist(err))
}

func TestCopyGlobs(t *testing.T) {
	src := newSource(t)
	rootfs := t.TempDir()

	assert.NilError(t, copyLine(t, src.Path(), rootfs, "COPY *.go /src/"))
	assertFile(t, filepath.Join(rootfs, "src", "main.go"), "package main\n")
	assertFile(t, filepath.Join(rootfs, "src", "util.go"), "package main // util\n")
	_, err := os.Stat(filepath.Join(rootfs, "src", "README"))
	assert.Check(t, os.IsNotExist(err))

	assert.NilError(t, copyLine(t, src.Path(), rootfs, "COPY **/*.conf /all/"))
	assertFile(t, filepath.Join(rootfs, "all", "app.conf"), "a=1\n")
	assertFile(t, filepath.Join(rootfs, "all", "nested.conf"), "b=2\n")
}

func TestCopyJSONForm(t *testing.T) {
	src := newSource(t)
	rootfs := t.TempDir()

	assert.NilError(t, copyLine(t, src.Path(), rootfs, `COPY ["main.go", "README", "/app"]`))
	assertFile(t, filepath.Join(rootfs, "app", "main.go"), "package main\n")
	assertFile(t, filepath.Join(rootfs, "app", "README"), "readme\n")
}

func TestCopyDestinationStaysInRootfs(t *testing.T) {
	src := newSource(t)
	rootfs := t.TempDir()
	assert.NilError(t, os.Symlink("/", filepath.Join(rootfs, "escape")))

	assert.NilError(t, copyLine(t, src.Path(), rootfs, "COPY README /escape/tmp/"))
	assertFile(t, filepath.Join(rootfs, "tmp", "README"), "readme\n")
}

func TestCopyErrors(t *testing.T) {
	src := newSource(t)
	rootfs := t.TempDir()

	testCases := []struct {
		line        string
		expectedErr string
	}{
		{line: "COPY README", expectedErr: "COPY requires at least two arguments"},
		{line: "COPY missing /dest", expectedErr: "missing"},
		{line: "COPY *.rs /dest/", expectedErr: "matched nothing"},
		{line: "COPY ../outside /dest", expectedErr: "forbidden path outside the build context"},
		{line: `COPY ["README", "/dest"`, expectedErr: "invalid JSON array"},
	}
	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			err := copyLine(t, src.Path(), rootfs, tc.line)
			assert.Check(t, is.ErrorContains(err, tc.expectedErr))
		})
	}
}
