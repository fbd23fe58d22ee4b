package dockerfile

// This file contains the dispatchers for each command. Every dispatcher mutates the BuildContext. RUN and COPY additionally
// modify the root filesystem, unless the request is metadata-only.

import (
	"context"
	"io"
	"strings"

	"github.com/moby/treebuilder/builder/dockerfile/command"
	"github.com/moby/treebuilder/builder/dockerfile/parser"
	"github.com/moby/treebuilder/execdriver"
	"github.com/pkg/errors"
)

type dispatchRequest struct {
	state  *BuildContext
	instr  parser.Instruction
	rootfs string // root filesystem of the working tree
	source string // build source directory

	// metadataOnly is set for instructions replayed from cache and for
	// dry runs. The filesystem is never touched.
	metadataOnly bool

	driver execdriver.Driver
	stdout io.Writer
	stderr io.Writer
}

var dispatchTable map[command.Keyword]func(context.Context, dispatchRequest) error

func init() {
	dispatchTable = map[command.Keyword]func(context.Context, dispatchRequest) error{
		command.Cmd:        dispatchCmd,
		command.Copy:       dispatchCopy, // copy() is a go builtin
		command.Entrypoint: dispatchEntrypoint,
		command.Env:        dispatchEnv,
		command.Expose:     dispatchExpose,
		command.Label:      dispatchLabel,
		command.Maintainer: dispatchMaintainer,
		command.Run:        dispatchRun,
		command.User:       dispatchUser,
	}
}

// dispatch applies one instruction.
func dispatch(ctx context.Context, req dispatchRequest) error {
	kw := req.instr.Keyword
	if _, ok := command.Unsupported[kw]; ok {
		return &UnsupportedInstructionError{Line: req.instr.StartLine, Keyword: kw.String()}
	}
	if kw == command.From {
		return &MalformedScriptError{Line: req.instr.StartLine, Msg: "FROM is only allowed as the first instruction"}
	}
	f, ok := dispatchTable[kw]
	if !ok {
		return &UnknownInstructionError{Line: req.instr.StartLine, Keyword: kw.String()}
	}
	if req.metadataOnly && kw.ModifiesFilesystem() {
		return nil
	}
	return f(ctx, req)
}

// ENV foo bar
//
// Sets the environment variable foo to bar. ENV a=1 b="2 3" sets several
// at once.
func dispatchEnv(_ context.Context, req dispatchRequest) error {
	kvs, err := parser.ParseNameVal(req.instr.Args, "ENV")
	if err != nil {
		return err
	}
	for _, kv := range kvs {
		req.state.SetEnv(kv.Key, kv.Value)
	}
	return nil
}

// LABEL foo=bar
//
// Sets the label foo to bar.
func dispatchLabel(_ context.Context, req dispatchRequest) error {
	kvs, err := parser.ParseKeyValues(req.instr.Args, "LABEL")
	if err != nil {
		return err
	}
	for _, kv := range kvs {
		req.state.SetLabel(kv.Key, kv.Value)
	}
	return nil
}

// MAINTAINER some text <maybe@an.email.address>
func dispatchMaintainer(_ context.Context, req dispatchRequest) error {
	req.state.Maintainer = req.instr.Args
	return nil
}

// USER foo
//
// Set the user to 'foo' for future commands and when running the
// ENTRYPOINT/CMD at container run time.
func dispatchUser(_ context.Context, req dispatchRequest) error {
	req.state.User = strings.TrimSpace(req.instr.Args)
	return nil
}

// EXPOSE 6667/tcp 7000/tcp
func dispatchExpose(_ context.Context, req dispatchRequest) error {
	for _, p := range parser.ParseStringsWhitespaceDelimited(req.instr.Args) {
		req.state.Expose(p)
	}
	return nil
}

// CMD foo
//
// Appends to the default command. A JSON array contributes its elements,
// anything else a single element.
func dispatchCmd(_ context.Context, req dispatchRequest) error {
	args, _, err := parser.ParseMaybeJSON(req.instr.Args)
	if err != nil {
		return err
	}
	req.state.Cmd = append(req.state.Cmd, args...)
	return nil
}

// ENTRYPOINT /usr/sbin/nginx
//
// Same grammar as CMD.
func dispatchEntrypoint(_ context.Context, req dispatchRequest) error {
	args, _, err := parser.ParseMaybeJSON(req.instr.Args)
	if err != nil {
		return err
	}
	req.state.Entrypoint = append(req.state.Entrypoint, args...)
	return nil
}

// RUN some command yo
//
// run a command and commit the image. The command is handed to the
// sandbox shell verbatim.
func dispatchRun(ctx context.Context, req dispatchRequest) error {
	status, err := req.driver.Exec(ctx, &execdriver.Process{
		Root:    req.rootfs,
		Command: req.instr.Args,
		User:    req.state.User,
		Env:     req.state.Env(),
		Stdout:  req.stdout,
		Stderr:  req.stderr,
	})
	if err != nil {
		return errors.Wrap(err, "failed to run command")
	}
	if status != 0 {
		return &SandboxExecutionError{Command: req.instr.Args, ExitStatus: status}
	}
	return nil
}

// COPY foo /path
//
// Copy files from the build source into the image filesystem.
func dispatchCopy(ctx context.Context, req dispatchRequest) error {
	args, err := parser.ParseMaybeJSONToList(req.instr.Args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("COPY requires at least two arguments")
	}
	return copyFiles(ctx, req.source, req.rootfs, args[:len(args)-1], args[len(args)-1])
}
