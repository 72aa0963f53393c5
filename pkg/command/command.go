// Package command parses the line-oriented command grammar:
//
//	SET <key> <value...>
//	GET <key>
//	DELETE <key>
//
// Verbs are case-sensitive and tokens are whitespace-delimited. A SET value
// may span several tokens; they are joined with single spaces.
package command

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSyntax is wrapped by every parse failure
var ErrInvalidSyntax = errors.New("invalid syntax")

// Kind identifies the operation a Command performs
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSet
	KindGet
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "SET"
	case KindGet:
		return "GET"
	case KindDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Command is a parsed instruction against the store.
// Value is only meaningful for KindSet.
type Command struct {
	Kind  Kind
	Key   string
	Value string
}

// Set builds a SET command
func Set(key, value string) Command { return Command{Kind: KindSet, Key: key, Value: value} }

// Get builds a GET command
func Get(key string) Command { return Command{Kind: KindGet, Key: key} }

// Delete builds a DELETE command
func Delete(key string) Command { return Command{Kind: KindDelete, Key: key} }

func (c Command) String() string {
	if c.Kind == KindSet {
		return fmt.Sprintf("SET %s %s", c.Key, c.Value)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Key)
}

// SyntaxError describes a line that does not match the grammar
type SyntaxError struct {
	Line   uint64 // 0 when the caller did not attach a line number
	Raw    string
	Reason string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s (raw %q)", e.Line, e.Reason, e.Raw)
	}
	return fmt.Sprintf("%s (raw %q)", e.Reason, e.Raw)
}

func (e *SyntaxError) Unwrap() error { return ErrInvalidSyntax }

// WithLine returns a copy of e tagged with a line number
func (e *SyntaxError) WithLine(line uint64) *SyntaxError {
	cp := *e
	cp.Line = line
	return &cp
}

// Parse turns one input line into a Command.
// Failures are *SyntaxError values wrapping ErrInvalidSyntax.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, &SyntaxError{Raw: line, Reason: "empty line"}
	}

	switch verb, args := fields[0], fields[1:]; verb {
	case "SET":
		if len(args) < 2 {
			return Command{}, &SyntaxError{Raw: line, Reason: "SET requires a key and a value"}
		}
		return Set(args[0], strings.Join(args[1:], " ")), nil
	case "GET":
		if len(args) != 1 {
			return Command{}, &SyntaxError{Raw: line, Reason: "GET requires exactly one key"}
		}
		return Get(args[0]), nil
	case "DELETE":
		if len(args) != 1 {
			return Command{}, &SyntaxError{Raw: line, Reason: "DELETE requires exactly one key"}
		}
		return Delete(args[0]), nil
	default:
		return Command{}, &SyntaxError{
			Raw:    line,
			Reason: fmt.Sprintf("invalid command %q", strings.TrimSpace(line)),
		}
	}
}
