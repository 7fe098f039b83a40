package model

import (
	"errors"
	"fmt"
)

// Reasons a record fails to parse.
var (
	ErrMalformedRecord  = errors.New("malformed record")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// ParseError identifies a single input line that could not be parsed.
// Parsers collect these as warnings and keep going.
type ParseError struct {
	Source Source
	Line   int
	Text   string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s line %d: %v", e.Source, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError builds a ParseError, truncating the offending text for display.
func NewParseError(src Source, line int, text string, err error) *ParseError {
	const maxText = 200
	if len(text) > maxText {
		text = text[:maxText] + "..."
	}
	return &ParseError{Source: src, Line: line, Text: text, Err: err}
}
