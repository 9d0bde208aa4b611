// Package command validates relay input against the configured allow-list.
package command

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrDecode reports a payload that is not valid UTF-8 text.
	ErrDecode = errors.New("command is not valid UTF-8")
	// ErrRejected matches every *RejectedError.
	ErrRejected = errors.New("command not in allow-list")
)

// DefaultTokens is the control program's command alphabet. "q" quits the program.
var DefaultTokens = []string{"s", "x", "c", "v", "f", "d", "q"}

// Command is one validated relay command.
type Command struct {
	Raw  string
	Text string
}

func (c Command) String() string {
	return c.Text
}

// RejectedError carries the token that failed allow-list validation.
type RejectedError struct {
	Token string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Token)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// AllowList is an immutable set of accepted command tokens.
type AllowList struct {
	tokens  map[string]struct{}
	ordered []string
}

// NewAllowList builds an allow-list. Tokens must be non-empty and free of whitespace.
func NewAllowList(tokens ...string) (AllowList, error) {
	if len(tokens) == 0 {
		return AllowList{}, errors.New("allow-list must contain at least one command")
	}

	list := AllowList{tokens: make(map[string]struct{}, len(tokens))}
	for _, token := range tokens {
		if token == "" {
			return AllowList{}, errors.New("allow-list contains an empty command")
		}
		if strings.IndexFunc(token, unicode.IsSpace) >= 0 {
			return AllowList{}, fmt.Errorf("allow-list command %q contains whitespace", token)
		}
		if !utf8.ValidString(token) {
			return AllowList{}, fmt.Errorf("allow-list command %q is not valid UTF-8", token)
		}
		if _, dup := list.tokens[token]; dup {
			continue
		}
		list.tokens[token] = struct{}{}
		list.ordered = append(list.ordered, token)
	}
	return list, nil
}

// DefaultAllowList returns the allow-list built from DefaultTokens.
func DefaultAllowList() AllowList {
	list, err := NewAllowList(DefaultTokens...)
	if err != nil {
		panic(err)
	}
	return list
}

// Contains reports exact, case-sensitive membership.
func (a AllowList) Contains(token string) bool {
	_, ok := a.tokens[token]
	return ok
}

// Tokens returns a copy of the tokens in configuration order.
func (a AllowList) Tokens() []string {
	out := make([]string, len(a.ordered))
	copy(out, a.ordered)
	return out
}

// Validate decodes, trims, and checks one raw message.
func Validate(allow AllowList, raw []byte) (Command, error) {
	if !utf8.Valid(raw) {
		return Command{}, ErrDecode
	}

	text := string(raw)
	token := strings.TrimSpace(text)
	if !allow.Contains(token) {
		return Command{}, &RejectedError{Token: text}
	}
	return Command{Raw: text, Text: token}, nil
}

// Frames splits a read chunk into line-delimited messages.
//
// A chunk holding only line terminators is returned whole so it is still validated.
func Frames(chunk []byte) [][]byte {
	frames := bytes.FieldsFunc(chunk, isLineTerminator)
	if len(frames) == 0 && len(chunk) > 0 {
		return [][]byte{chunk}
	}
	return frames
}

func isLineTerminator(r rune) bool {
	return r == '\n' || r == '\r'
}
