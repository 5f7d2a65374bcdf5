// Package extract pulls structured JSON payloads out of free-text model
// responses. Models wrap JSON in code fences, surround it with prose,
// truncate it or emit near-JSON; the functions here tolerate all of that and
// report failure as a *ParseError, never a panic.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON is returned when the text contains no array or object at all.
var ErrNoJSON = errors.New("no JSON payload found")

// maxCandidates bounds how many bracket positions are tried before repair.
const maxCandidates = 16

// ParseError describes why a response could not be turned into records.
type ParseError struct {
	Reason  string
	Snippet string // first bytes of the offending text
	Err     error
}

func (e *ParseError) Error() string {
	msg := "extract: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Snippet != "" {
		msg += fmt.Sprintf(" (near %q)", e.Snippet)
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// JSON extracts the first balanced top-level array or object from raw that
// holds object elements and returns them. A single object becomes a
// one-element slice; an object whose single field is an array of objects is
// unwrapped. Non-object array elements are skipped. Scalar arrays such as
// citation markers ("[1]") are passed over; when no candidate holds objects
// the first decodable one is used, which yields no records.
func JSON(raw string) (out []map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &ParseError{Reason: "panic while parsing", Err: fmt.Errorf("%v", r)}
		}
	}()

	v, err := scan(raw, func(v any) bool { return len(records(v)) > 0 })
	if err != nil {
		return nil, err
	}
	return records(v), nil
}

// Value extracts and decodes the first JSON array or object in raw.
func Value(raw string) (any, error) {
	return scan(raw, func(any) bool { return true })
}

// scan walks bracket positions in raw and returns the first decoded
// candidate accepted by want. Failing that, the first undecodable candidate
// is repaired; if that is not accepted either, the first decoded candidate
// wins.
func scan(raw string, want func(any) bool) (any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, &ParseError{Reason: "empty response", Err: ErrNoJSON}
	}

	sources := []string{text}
	if fenced, ok := stripFences(text); ok && fenced != text {
		sources = []string{fenced, text}
	}

	var (
		firstBad string
		fallback any
		found    bool
	)
	keep := func(v any) bool {
		if want(v) {
			return true
		}
		if !found {
			fallback, found = v, true
		}
		return false
	}
	for _, src := range sources {
		starts := 0
		for i := 0; i < len(src) && starts < maxCandidates; i++ {
			if src[i] != '[' && src[i] != '{' {
				continue
			}
			starts++
			candidate, complete := balanced(src[i:])
			if !complete {
				// Truncated output: repair the outer payload before trying
				// anything nested in it.
				if v, err := repair(candidate); err == nil {
					if keep(v) {
						return v, nil
					}
				} else if firstBad == "" {
					firstBad = candidate
				}
				continue
			}
			var v any
			if err := json.Unmarshal([]byte(candidate), &v); err == nil {
				if keep(v) {
					return v, nil
				}
			} else if firstBad == "" {
				firstBad = candidate
			}
			i += len(candidate) - 1
		}
	}

	if firstBad == "" {
		if found {
			return fallback, nil
		}
		return nil, &ParseError{Reason: "no array or object in response", Snippet: snippet(text), Err: ErrNoJSON}
	}
	v, err := repair(firstBad)
	if found && (err != nil || !want(v)) {
		return fallback, nil
	}
	return v, err
}

// repair runs near-JSON through jsonrepair and decodes the result.
func repair(s string) (any, error) {
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, &ParseError{Reason: "unrepairable JSON", Snippet: snippet(s), Err: err}
	}
	var v any
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, &ParseError{Reason: "invalid JSON after repair", Snippet: snippet(repaired), Err: err}
	}
	switch v.(type) {
	case []any, map[string]any:
		return v, nil
	}
	return nil, &ParseError{Reason: "payload is not an array or object", Snippet: snippet(repaired), Err: ErrNoJSON}
}

// stripFences returns the body of the first ``` fenced block, dropping an
// optional language tag. An unterminated fence runs to the end of text.
func stripFences(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return text, false
	}
	body := text[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "[{") {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body), true
}

// balanced returns the prefix of s (which starts with '[' or '{') up to its
// matching close bracket. Brackets inside strings are ignored. When the
// input ends first, all of s is returned with complete=false.
func balanced(s string) (string, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			stack = append(stack, c)
		case ']', '}':
			if len(stack) == 0 {
				return s[:i], false
			}
			want := byte('[')
			if c == '}' {
				want = '{'
			}
			if stack[len(stack)-1] != want {
				return s[:i+1], false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[:i+1], true
			}
		}
	}
	return s, false
}

func records(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		if inner, ok := soleArray(t); ok {
			return records(inner)
		}
		return []map[string]any{t}
	}
	return nil
}

// soleArray unwraps objects like {"trades": [...]}.
func soleArray(m map[string]any) ([]any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	for _, v := range m {
		arr, ok := v.([]any)
		if !ok {
			return nil, false
		}
		for _, e := range arr {
			if _, ok := e.(map[string]any); !ok {
				return nil, false
			}
		}
		return arr, true
	}
	return nil, false
}

func snippet(s string) string {
	const n = 60
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
