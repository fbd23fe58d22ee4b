// Package parser decodes build scripts into an ordered list of instructions.
//
// A script is line oriented. Lines ending in a backslash are joined with the
// following line, blank lines and lines starting with "#" are dropped, and
// every remaining line is split into a keyword and its argument text. The
// argument text is left untouched; the line parsers in this package
// (ParseNameVal, ParseMaybeJSON, ...) are applied at dispatch time.
package parser

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/moby/treebuilder/builder/dockerfile/command"
	"github.com/pkg/errors"
)

// Instruction is a single decoded build step.
type Instruction struct {
	Keyword   command.Keyword
	Args      string // argument text, trimmed
	Original  string // full logical line, continuations joined, trimmed
	Index     int    // position in the script, starting at 0
	StartLine int
	EndLine   int
}

func (i Instruction) String() string {
	return i.Original
}

var (
	tokenWhitespace       = regexp.MustCompile(`[\t\v\f\r ]+`)
	tokenLineContinuation = regexp.MustCompile(`\\[ \t]*$`)
	utf8bom               = []byte{0xEF, 0xBB, 0xBF}
)

type logicalLine struct {
	text      string
	startLine int
	endLine   int
}

// Parse reads a script from r and returns its instructions.
//
// The first instruction must be FROM and no later instruction may be FROM.
// Keywords outside the recognized set fail with *UnknownInstructionError,
// recognized but unimplemented keywords with *UnsupportedInstructionError.
func Parse(r io.Reader) ([]Instruction, error) {
	lines, err := scanLines(r)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, &MalformedScriptError{Msg: "no instructions found"}
	}

	instructions := make([]Instruction, 0, len(lines))
	for i, l := range lines {
		word, args := splitCommand(l.text)
		kw, known := command.Lookup(word)
		switch {
		case i == 0 && kw != command.From:
			return nil, &MalformedScriptError{Line: l.startLine, Msg: "first instruction must be FROM, got " + word}
		case !known:
			return nil, &UnknownInstructionError{Line: l.startLine, Keyword: word}
		case !kw.IsSupported():
			return nil, &UnsupportedInstructionError{Line: l.startLine, Keyword: kw.String()}
		case i > 0 && kw == command.From:
			return nil, &MalformedScriptError{Line: l.startLine, Msg: "FROM is only allowed as the first instruction"}
		case args == "":
			return nil, &MalformedScriptError{Line: l.startLine, Msg: kw.String() + " requires at least one argument"}
		}
		instructions = append(instructions, Instruction{
			Keyword:   kw,
			Args:      args,
			Original:  l.text,
			Index:     i,
			StartLine: l.startLine,
			EndLine:   l.endLine,
		})
	}
	return instructions, nil
}

// scanLines joins continuations and drops blank and comment lines.
func scanLines(r io.Reader) ([]logicalLine, error) {
	var (
		lines       []logicalLine
		current     string
		startLine   int
		currentLine int
		pending     bool
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if currentLine == 0 {
			raw = bytes.TrimPrefix(raw, utf8bom)
		}
		currentLine++
		text := string(raw)

		trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
		if isEmptyContinuationLine(trimmed) {
			continue
		}
		if !pending {
			startLine = currentLine
			current = ""
		}
		if tokenLineContinuation.MatchString(text) {
			current += tokenLineContinuation.ReplaceAllString(text, "")
			pending = true
			continue
		}
		current += text
		pending = false
		lines = append(lines, logicalLine{
			text:      strings.TrimSpace(current),
			startLine: startLine,
			endLine:   currentLine,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read script")
	}
	if pending && strings.TrimSpace(current) != "" {
		lines = append(lines, logicalLine{
			text:      strings.TrimSpace(current),
			startLine: startLine,
			endLine:   currentLine,
		})
	}
	return lines, nil
}

func isEmptyContinuationLine(line string) bool {
	return line == "" || strings.HasPrefix(line, "#")
}

// splitCommand takes a single logical line and splits it into the keyword
// and the argument text.
func splitCommand(line string) (string, string) {
	cmdline := tokenWhitespace.Split(strings.TrimSpace(line), 2)
	if len(cmdline) == 2 {
		return cmdline[0], strings.TrimSpace(cmdline[1])
	}
	return cmdline[0], ""
}
