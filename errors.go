// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dbal

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// ExpressionError is returned when a binding expression does not parse, at
// compile time, or fails to evaluate, at execution time.
type ExpressionError struct {
	Declaration string
	Expression  string
	Err         error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("invalid expression %q in %s: %s", e.Expression, e.Declaration, e.Err)
}

func (e *ExpressionError) Unwrap() error {
	return e.Err
}

// UnboundParameterError is returned by Compile when a placeholder has
// nothing to take its value from.
type UnboundParameterError struct {
	Declaration string
	Placeholder string
}

func (e *UnboundParameterError) Error() string {
	return fmt.Sprintf("cannot compile %s: placeholder :%s is not bound", e.Declaration, e.Placeholder)
}

// DuplicateBindingError is returned by Compile when a placeholder is bound
// more than once.
type DuplicateBindingError struct {
	Declaration string
	Placeholder string
}

func (e *DuplicateBindingError) Error() string {
	return fmt.Sprintf("cannot compile %s: placeholder :%s is bound more than once", e.Declaration, e.Placeholder)
}

// maxBoundValueLen is the length bound values are cut to in error messages.
const maxBoundValueLen = 32

// StatementExecutionError is returned when the database fails to execute a
// write method.
type StatementExecutionError struct {
	Declaration string
	SQL         string
	Bound       map[string]any
	Err         error
}

// Error reports the failure with the bound values truncated.
func (e *StatementExecutionError) Error() string {
	return fmt.Sprintf("cannot execute %s: %s (sql: %q, bound: %s)", e.Declaration, e.Err, e.SQL, redact(e.Bound))
}

func (e *StatementExecutionError) Unwrap() error {
	return e.Err
}

// redact formats bound values sorted by placeholder with every value cut to
// maxBoundValueLen runes.
func redact(bound map[string]any) string {
	names := make([]string, 0, len(bound))
	for name := range bound {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		s := fmt.Sprintf("%v", bound[name])
		if utf8.RuneCountInString(s) > maxBoundValueLen {
			s = string([]rune(s)[:maxBoundValueLen]) + "..."
		}
		parts[i] = name + "=" + s
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
