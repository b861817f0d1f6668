package query

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax is matched by every SyntaxError.
	ErrSyntax = errors.New("rpq syntax error")
	// ErrUnsupportedQuery is matched by every UnsupportedQueryError.
	ErrUnsupportedQuery = errors.New("unsupported query")
)

// SyntaxError reports malformed RPQ text. Pos is the byte offset of the
// offending token; Token is empty at end of input.
type SyntaxError struct {
	Pos   int
	Token string
	Msg   string
}

func (e *SyntaxError) Error() string {
	tok := e.Token
	if tok == "" {
		tok = "end of input"
	} else {
		tok = fmt.Sprintf("%q", tok)
	}
	return fmt.Sprintf("rpq syntax error at position %d near %s: %s", e.Pos, tok, e.Msg)
}

func (e *SyntaxError) Is(target error) bool { return target == ErrSyntax }

// UnsupportedQueryError is returned for unknown query identifiers and for
// templates bound with the wrong number of predicates.
type UnsupportedQueryError struct {
	Name     string
	Expected int
	Got      int
}

func (e *UnsupportedQueryError) Error() string {
	if e.Expected == 0 {
		return fmt.Sprintf("unsupported query %q", e.Name)
	}
	return fmt.Sprintf("query %q expects %d predicates, got %d", e.Name, e.Expected, e.Got)
}

func (e *UnsupportedQueryError) Is(target error) bool { return target == ErrUnsupportedQuery }
