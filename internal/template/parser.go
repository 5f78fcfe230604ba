// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package template

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parse parses a SQL statement with named placeholders.
func Parse(input string) (*Template, error) {
	return NewParser().Parse(input)
}

func NewParser() *Parser {
	return &Parser{}
}

type Parser struct {
	input string
	pos   int
	// prevPartEnd is the value of pos when we last finished parsing a part.
	prevPartEnd int
	// partStart is the start of the part currently being parsed.
	partStart int
	parts     []part
	// nextPos is start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches the
	// end of input.
	char      rune
	lineNum   int
	lineStart int
}

// Parse takes a SQL template and splits it into verbatim chunks and named
// placeholders. Quoted strings, quoted identifiers and comments are never
// searched for placeholders, and "::" casts are left alone.
func (p *Parser) Parse(input string) (t *Template, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot parse SQL template: %s", err)
		}
	}()

	p.init(input)
	for p.pos < len(p.input) {
		if ok, err := p.skipStringLiteral(); err != nil {
			return nil, err
		} else if ok {
			continue
		}
		if p.skipComment() {
			continue
		}
		if p.peekChar(':') {
			if ok, err := p.parsePlaceholder(); err != nil {
				return nil, err
			} else if ok {
				continue
			}
		}
		p.advanceChar()
	}
	p.partStart = p.pos
	p.add(nil)
	return &Template{raw: input, parts: p.parts}, nil
}

// init resets the state of the parser and sets the input string.
func (p *Parser) init(input string) {
	p.input = input
	p.pos = 0
	p.nextPos = 0
	p.char = 0
	p.prevPartEnd = 0
	p.partStart = 0
	p.parts = []part{}
	p.lineNum = 1
	p.lineStart = 0
	p.advanceChar()
}

// colNum calculates the current column number taking into account line breaks.
func (p *Parser) colNum() int {
	return p.pos - p.lineStart + 1
}

// advanceChar moves the parser to the next character in the input. It also
// takes care of updating the line and column numbers if it encounters line
// breaks.
func (p *Parser) advanceChar() bool {
	if p.nextPos >= len(p.input) {
		p.char = 0
		p.pos = p.nextPos
		return false
	}
	if p.char == '\n' {
		p.lineStart = p.nextPos
		p.lineNum++
	}
	var size int
	p.char, size = utf8.DecodeRuneInString(p.input[p.nextPos:])
	p.pos = p.nextPos
	p.nextPos += size
	return true
}

// errorAt wraps an error with line and column information.
func errorAt(err error, line int, column int, input string) error {
	if strings.ContainsRune(input, '\n') {
		return fmt.Errorf("line %d, column %d: %w", line, column, err)
	}
	return fmt.Errorf("column %d: %w", column, err)
}

type checkpoint struct {
	parser    *Parser
	pos       int
	nextPos   int
	char      rune
	lineNum   int
	lineStart int
}

func (p *Parser) save() *checkpoint {
	return &checkpoint{
		parser:    p,
		pos:       p.pos,
		nextPos:   p.nextPos,
		char:      p.char,
		lineNum:   p.lineNum,
		lineStart: p.lineStart,
	}
}

func (cp *checkpoint) restore() {
	cp.parser.pos = cp.pos
	cp.parser.nextPos = cp.nextPos
	cp.parser.char = cp.char
	cp.parser.lineNum = cp.lineNum
	cp.parser.lineStart = cp.lineStart
}

// add pushes the parsed part to the list of parts along with the bypass chunk
// that stretches from the end of the previous part to the beginning of this
// one.
func (p *Parser) add(pt part) {
	if p.prevPartEnd != p.partStart {
		p.parts = append(p.parts, &bypass{p.input[p.prevPartEnd:p.partStart]})
	}
	if pt != nil {
		p.parts = append(p.parts, pt)
	}
	p.prevPartEnd = p.pos
	p.partStart = p.pos
}

// parsePlaceholder parses ":name". A double colon is a cast and is skipped
// as a whole.
func (p *Parser) parsePlaceholder() (bool, error) {
	cp := p.save()
	start := p.pos
	if !p.skipChar(':') {
		return false, nil
	}
	if p.skipChar(':') {
		return true, nil
	}
	if p.pos >= len(p.input) || !isInitialNameChar(p.char) {
		cp.restore()
		return false, nil
	}
	nameStart := p.pos
	for p.pos < len(p.input) && isNameChar(p.char) {
		p.advanceChar()
	}
	p.partStart = start
	p.add(&placeholder{name: p.input[nameStart:p.pos]})
	return true, nil
}

// skipComment jumps over -- line comments and /* */ block comments. If no
// comment is found the parser state is left unchanged.
func (p *Parser) skipComment() bool {
	cp := p.save()
	c := p.char
	if p.skipChar('-') || p.skipChar('/') {
		if (c == '-' && p.skipChar('-')) || (c == '/' && p.skipChar('*')) {
			var end rune
			if c == '-' {
				end = '\n'
			} else {
				end = '*'
			}
			for p.pos < len(p.input) {
				if p.char == end {
					if end == '*' {
						p.advanceChar()
						if !p.skipChar('/') {
							continue
						}
					}
					return true
				}
				p.advanceChar()
			}
			return true
		}
		cp.restore()
		return false
	}
	return false
}

// skipStringLiteral jumps over single and double quoted sections of input.
// Only doubled up quotes are escaped, as in standard SQL, SQLite and
// PostgreSQL with standard_conforming_strings. A backslash is an ordinary
// character, so MySQL style '\'' escapes are not supported.
func (p *Parser) skipStringLiteral() (bool, error) {
	cp := p.save()

	c := p.char
	if p.skipChar('"') || p.skipChar('\'') {
		maybeCloser := true
		for p.skipCharFind(c) {
			if maybeCloser && !p.peekChar(c) {
				return true, nil
			}
			maybeCloser = !maybeCloser
		}

		cp.restore()
		return false, errorAt(fmt.Errorf("missing closing quote in string literal"), p.lineNum, p.colNum(), p.input)
	}
	return false, nil
}

// peekChar returns true if the current char equals the one passed as parameter.
func (p *Parser) peekChar(c rune) bool {
	return p.pos < len(p.input) && p.char == c
}

// skipChar jumps over the current char if it matches the char passed as a
// parameter. Returns true in that case, false otherwise.
func (p *Parser) skipChar(c rune) bool {
	if p.pos < len(p.input) && p.char == c {
		p.advanceChar()
		return true
	}
	return false
}

// skipCharFind advances the parser until it finds the char passed as
// parameter and jumps over it. Returns false if the char is not found.
func (p *Parser) skipCharFind(c rune) bool {
	for p.pos < len(p.input) {
		if p.char == c {
			p.advanceChar()
			return true
		}
		p.advanceChar()
	}
	return false
}

func isNameChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

func isInitialNameChar(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}
