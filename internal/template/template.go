// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package template parses SQL statements containing named placeholders such
// as :id and renders them for the placeholder syntax of a driver. String
// literals follow standard SQL quoting, where a quote is escaped by doubling
// it.
package template

import (
	"fmt"
	"strconv"
	"strings"
)

// A part represents a section of a parsed SQL template. The parsed template is
// represented as a list of parts.
type part interface {
	// String returns a string representation of the part for debugging and
	// testing purposes.
	String() string

	// part is a marker method.
	part()
}

// placeholder is a named parameter, e.g. :personId.
type placeholder struct {
	name string
}

func (p *placeholder) String() string {
	return "Placeholder[" + p.name + "]"
}

// Marker function for part.
func (p *placeholder) part() {}

// bypass is a part of the statement that is passed to the database
// verbatim.
type bypass struct {
	chunk string
}

func (p *bypass) String() string {
	return "Bypass[" + p.chunk + "]"
}

// Marker function for part.
func (p *bypass) part() {}

// Template is a parsed SQL statement.
type Template struct {
	raw   string
	parts []part
}

// Raw returns the SQL the template was parsed from.
func (t *Template) Raw() string {
	return t.raw
}

// String returns a textual representation of the template for debugging and
// testing purposes.
func (t *Template) String() string {
	var sb strings.Builder
	sb.WriteString("Template[")
	for i, p := range t.parts {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString("]")
	return sb.String()
}

// Placeholders returns the distinct placeholder names of the template in
// order of first appearance.
func (t *Template) Placeholders() []string {
	seen := map[string]bool{}
	names := []string{}
	for _, p := range t.parts {
		if ph, ok := p.(*placeholder); ok && !seen[ph.name] {
			seen[ph.name] = true
			names = append(names, ph.name)
		}
	}
	return names
}

// Style is the placeholder syntax understood by a database driver.
type Style int

const (
	// Question renders every placeholder occurrence as "?" and repeats the
	// argument for every occurrence.
	Question Style = iota
	// Dollar renders placeholders as "$1", "$2"... Repeated occurrences of a
	// name reuse its number.
	Dollar
)

func (s Style) String() string {
	switch s {
	case Question:
		return "question"
	case Dollar:
		return "dollar"
	}
	return "Style(" + strconv.Itoa(int(s)) + ")"
}

// List is a placeholder value that is expanded into a comma separated list of
// arguments, e.g. "id IN (:ids)" becomes "id IN (?, ?, ?)". An empty List
// renders as NULL so that the statement stays valid and matches nothing.
type List []any

// Build renders the template for style, returning the statement and its
// arguments in order.
func (t *Template) Build(style Style, values map[string]any) (sql string, args []any, err error) {
	var sb strings.Builder
	// numbered holds the rendered text of names already seen in Dollar style.
	numbered := map[string]string{}
	for _, p := range t.parts {
		switch p := p.(type) {
		case *bypass:
			sb.WriteString(p.chunk)
		case *placeholder:
			v, ok := values[p.name]
			if !ok {
				return "", nil, fmt.Errorf("missing value for placeholder %q", p.name)
			}
			if style == Dollar {
				if s, ok := numbered[p.name]; ok {
					sb.WriteString(s)
					continue
				}
			}
			var s string
			if list, ok := v.(List); ok {
				if len(list) == 0 {
					s = "NULL"
				} else {
					marks := make([]string, len(list))
					for i, item := range list {
						args = append(args, item)
						marks[i] = mark(style, len(args))
					}
					s = strings.Join(marks, ", ")
				}
			} else {
				args = append(args, v)
				s = mark(style, len(args))
			}
			numbered[p.name] = s
			sb.WriteString(s)
		default:
			return "", nil, fmt.Errorf("internal error: unknown part %T", p)
		}
	}
	return sb.String(), args, nil
}

func mark(style Style, n int) string {
	if style == Dollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}
