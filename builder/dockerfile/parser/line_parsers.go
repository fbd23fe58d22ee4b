package parser

// line parsers are dispatched per keyword by the executor. They receive the
// argument text of an instruction, never the keyword.

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// KeyValue is one assignment from an ENV or LABEL instruction.
type KeyValue struct {
	Key   string
	Value string
}

// ParseNameVal parses ENV-style argument text.
//
// Two grammars are accepted. If the second token is a bare "=" the text is
// a list of KEY=VALUE words, where quoting and backslash escapes follow
// shell rules and each word is split at its first "=". Otherwise the text is
// the legacy "KEY value with spaces" form: the first word is the key and the
// remainder, verbatim, is the value. Legacy values keep their quotes, so
// `A "hello world"` sets A to `"hello world"` where `A="hello world"` sets
// it to `hello world`.
//
// Only the first two tokens decide the form; quotes in a legacy value need
// not balance.
func ParseNameVal(rest, key string) ([]KeyValue, error) {
	tokens, _ := scanTokens(rest, true, 2)
	if len(tokens) == 0 {
		return nil, errors.Errorf("%s requires at least one argument", key)
	}
	if len(tokens) > 1 && tokens[1] == "=" {
		return parseKeyValueWords(rest, key)
	}

	// legacy form
	parts := tokenWhitespace.Split(strings.TrimSpace(rest), 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return nil, errors.Errorf("%s must have two arguments", key)
	}
	return []KeyValue{{Key: parts[0], Value: strings.TrimSpace(parts[1])}}, nil
}

// ParseKeyValues parses argument text made only of KEY=VALUE words, as
// used by LABEL.
func ParseKeyValues(rest, key string) ([]KeyValue, error) {
	return parseKeyValueWords(rest, key)
}

func parseKeyValueWords(rest, key string) ([]KeyValue, error) {
	words, err := tokenize(rest, false)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", key)
	}
	if len(words) == 0 {
		return nil, errors.Errorf("%s requires at least one argument", key)
	}
	kvs := make([]KeyValue, 0, len(words))
	for _, word := range words {
		k, v, ok := strings.Cut(word, "=")
		if !ok {
			return nil, errors.Errorf("%s names can not be blank or lack a value: %q", key, word)
		}
		if k == "" {
			return nil, errors.Errorf("%s names can not be blank: %q", key, word)
		}
		kvs = append(kvs, KeyValue{Key: k, Value: v})
	}
	return kvs, nil
}

// ParseMaybeJSON returns the argument text as a list. Text starting with
// "[" must be a JSON array of strings; anything else is returned as a
// single element, untouched apart from trimming.
func ParseMaybeJSON(rest string) ([]string, bool, error) {
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "[") {
		return []string{rest}, false, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(rest), &list); err != nil {
		return nil, true, errors.Wrapf(err, "invalid JSON array %s", rest)
	}
	return list, true, nil
}

// ParseMaybeJSONToList is like ParseMaybeJSON, but non-JSON text is split
// on whitespace.
func ParseMaybeJSONToList(rest string) ([]string, error) {
	list, isJSON, err := ParseMaybeJSON(rest)
	if err != nil {
		return nil, err
	}
	if isJSON {
		return list, nil
	}
	return ParseStringsWhitespaceDelimited(rest), nil
}

// ParseStringsWhitespaceDelimited splits rest into fields.
func ParseStringsWhitespaceDelimited(rest string) []string {
	return strings.FieldsFunc(rest, unicode.IsSpace)
}

// tokenize splits text into shell-like words. Single and double quotes
// group, a backslash escapes the next character (except inside single
// quotes). With splitEquals set, an unquoted "=" is returned as a token of
// its own, which is what the ENV grammar detection needs.
func tokenize(text string, splitEquals bool) ([]string, error) {
	tokens, quote := scanTokens(text, splitEquals, 0)
	if quote != 0 {
		return nil, errors.Errorf("unmatched quote %q in %q", quote, text)
	}
	return tokens, nil
}

// scanTokens does the work of tokenize. It stops once limit tokens are
// collected (limit <= 0 means no limit) and returns the quote still open at
// the end of text, or 0. A word cut short by an open quote is still
// returned.
func scanTokens(text string, splitEquals bool, limit int) ([]string, rune) {
	var (
		tokens []string
		word   strings.Builder
		inWord bool
		quote  rune
	)
	flush := func() {
		if inWord {
			tokens = append(tokens, word.String())
			word.Reset()
			inWord = false
		}
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if limit > 0 && len(tokens) >= limit {
			return tokens[:limit], 0
		}
		ch := runes[i]
		switch {
		case quote == 0 && unicode.IsSpace(ch):
			flush()
		case ch == '\\' && quote != '\'':
			if i+1 < len(runes) {
				i++
				ch = runes[i]
			}
			word.WriteRune(ch)
			inWord = true
		case quote == 0 && (ch == '"' || ch == '\''):
			quote = ch
			inWord = true
		case quote != 0 && ch == quote:
			quote = 0
		case quote == 0 && splitEquals && ch == '=':
			flush()
			tokens = append(tokens, "=")
		default:
			word.WriteRune(ch)
			inWord = true
		}
	}
	flush()
	if limit > 0 && len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens, quote
}
