// Package command contains the set of build script keywords.
package command

import "strings"

// Keyword identifies a build instruction.
type Keyword string

// Define constants for the command strings
const (
	From       Keyword = "FROM"
	Run        Keyword = "RUN"
	Copy       Keyword = "COPY"
	Env        Keyword = "ENV"
	Label      Keyword = "LABEL"
	User       Keyword = "USER"
	Maintainer Keyword = "MAINTAINER"
	Cmd        Keyword = "CMD"
	Entrypoint Keyword = "ENTRYPOINT"
	Expose     Keyword = "EXPOSE"

	// Recognized, but not implemented.
	Add        Keyword = "ADD"
	Arg        Keyword = "ARG"
	Workdir    Keyword = "WORKDIR"
	Volume     Keyword = "VOLUME"
	StopSignal Keyword = "STOPSIGNAL"
	Onbuild    Keyword = "ONBUILD"
)

// Commands is the set of implemented keywords.
var Commands = map[Keyword]struct{}{
	From:       {},
	Run:        {},
	Copy:       {},
	Env:        {},
	Label:      {},
	User:       {},
	Maintainer: {},
	Cmd:        {},
	Entrypoint: {},
	Expose:     {},
}

// Unsupported is the set of keywords that are recognized but deliberately
// not implemented.
var Unsupported = map[Keyword]struct{}{
	Add:        {},
	Arg:        {},
	Workdir:    {},
	Volume:     {},
	StopSignal: {},
	Onbuild:    {},
}

// FilesystemModifiers is the subset of commands that mutate the working tree
// and are skipped during metadata-only replay.
var FilesystemModifiers = map[Keyword]struct{}{
	Run:  {},
	Copy: {},
}

// Lookup classifies word case-insensitively. ok is false if word is neither
// implemented nor recognized-but-unsupported.
func Lookup(word string) (kw Keyword, ok bool) {
	kw = Keyword(strings.ToUpper(word))
	if _, ok := Commands[kw]; ok {
		return kw, true
	}
	if _, ok := Unsupported[kw]; ok {
		return kw, true
	}
	return kw, false
}

// IsSupported reports whether kw is implemented.
func (kw Keyword) IsSupported() bool {
	_, ok := Commands[kw]
	return ok
}

// ModifiesFilesystem reports whether kw changes the working tree.
func (kw Keyword) ModifiesFilesystem() bool {
	_, ok := FilesystemModifiers[kw]
	return ok
}

func (kw Keyword) String() string {
	return string(kw)
}
