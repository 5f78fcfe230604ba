// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parse parses a binding expression and returns the root of its syntax tree.
func Parse(input string) (Node, error) {
	return NewParser().Parse(input)
}

func NewParser() *Parser {
	return &Parser{}
}

type Parser struct {
	input string
	pos   int
	// nextPos is start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches the
	// end of input.
	char rune
	// lineNum is the number of the current line of the input.
	lineNum int
	// lineStart is the position of the first char of the current line in the
	// input.
	lineStart int
}

// Parse takes an expression string and returns the root Node of the parsed
// expression.
func (p *Parser) Parse(input string) (n Node, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot parse expression: %s", err)
		}
	}()

	p.init(input)
	p.skipBlanks()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("empty expression")
	}

	n, err = p.parseConditional()
	if err != nil {
		return nil, err
	}

	p.skipBlanks()
	if p.pos < len(p.input) {
		return nil, errorAt(fmt.Errorf("unexpected character %q", p.char), p.lineNum, p.colNum(), p.input)
	}
	return n, nil
}

// init resets the state of the parser and sets the input string.
func (p *Parser) init(input string) {
	p.input = input
	p.pos = 0
	p.nextPos = 0
	p.char = 0
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

// A checkpoint struct for saving parser state to restore later.
type checkpoint struct {
	parser    *Parser
	pos       int
	nextPos   int
	char      rune
	lineNum   int
	lineStart int
}

// save takes a snapshot of the state of the parser and returns a pointer to a
// checkpoint that represents it.
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

// restore sets the internal state of the parser to the values stored in the
// checkpoint.
func (cp *checkpoint) restore() {
	cp.parser.pos = cp.pos
	cp.parser.nextPos = cp.nextPos
	cp.parser.char = cp.char
	cp.parser.lineNum = cp.lineNum
	cp.parser.lineStart = cp.lineStart
}

// colNum calculates the column number of the checkpoint.
func (cp *checkpoint) colNum() int {
	return cp.pos - cp.lineStart + 1
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

// peekChar returns true if the current char equals the one passed as parameter.
func (p *Parser) peekChar(c rune) bool {
	return p.pos < len(p.input) && p.char == c
}

// skipBlanks advances the parser past spaces, tabs and newlines. Returns
// whether the parser position was changed.
func (p *Parser) skipBlanks() bool {
	mark := p.pos
	for p.pos < len(p.input) {
		switch p.char {
		case ' ', '\t', '\r', '\n':
			p.advanceChar()
		default:
			return p.pos != mark
		}
	}
	return p.pos != mark
}

// skipOperator jumps over the first operator in ops found at the current
// position and returns it. Operators must be ordered longest first so that
// "===" is not read as "==".
func (p *Parser) skipOperator(ops []string) (string, bool) {
	for _, op := range ops {
		if strings.HasPrefix(p.input[p.pos:], op) {
			cp := p.save()
			for range op {
				p.advanceChar()
			}
			// A single "=" after a comparison operator is an assignment
			// typo, not a longer operator we know about.
			if p.peekChar('=') && !strings.HasSuffix(op, "=") {
				cp.restore()
				continue
			}
			return op, true
		}
	}
	return "", false
}

// isNameChar returns true if the given char can be part of a name. It returns
// false otherwise.
func isNameChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

// isInitialNameChar returns true if the given char can appear at the start of a
// name. It returns false otherwise.
func isInitialNameChar(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}

// parseName parses a name starting with a letter or underscore and followed
// by letters, digits and underscores.
func (p *Parser) parseName() (string, bool) {
	mark := p.pos
	if p.pos < len(p.input) && isInitialNameChar(p.char) {
		p.advanceChar()
		for p.pos < len(p.input) && isNameChar(p.char) {
			p.advanceChar()
		}
	}
	if p.pos > mark {
		return p.input[mark:p.pos], true
	}
	return "", false
}

// Functions with the prefix parse attempt to parse some construct. Unlike the
// SQL scanners, every construct here is mandatory at the point it is parsed,
// so they return the construct or an error.

// parseConditional parses "cond ? then : else". The branches are themselves
// conditionals which makes the operator right associative.
func (p *Parser) parseConditional() (Node, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipBlanks()
	if !p.skipChar('?') {
		return cond, nil
	}
	p.skipBlanks()
	then, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	p.skipBlanks()
	if !p.skipChar(':') {
		return nil, errorAt(fmt.Errorf(`missing ":" in conditional expression`), p.lineNum, p.colNum(), p.input)
	}
	p.skipBlanks()
	els, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	return &conditional{cond: cond, then: then, els: els}, nil
}

var (
	orOps             = []string{"||"}
	andOps            = []string{"&&"}
	equalityOps       = []string{"===", "!==", "==", "!="}
	comparisonOps     = []string{"<=", ">=", "<", ">"}
	additiveOps       = []string{"+", "-"}
	multiplicativeOps = []string{"*", "/", "%"}
)

func (p *Parser) parseOr() (Node, error) {
	return p.parseBinary((*Parser).parseAnd, orOps)
}

func (p *Parser) parseAnd() (Node, error) {
	return p.parseBinary((*Parser).parseEquality, andOps)
}

func (p *Parser) parseEquality() (Node, error) {
	return p.parseBinary((*Parser).parseComparison, equalityOps)
}

func (p *Parser) parseComparison() (Node, error) {
	return p.parseBinary((*Parser).parseAdditive, comparisonOps)
}

func (p *Parser) parseAdditive() (Node, error) {
	return p.parseBinary((*Parser).parseMultiplicative, additiveOps)
}

func (p *Parser) parseMultiplicative() (Node, error) {
	return p.parseBinary((*Parser).parseUnary, multiplicativeOps)
}

// parseBinary parses a left associative chain of operands separated by one
// of ops.
func (p *Parser) parseBinary(next func(*Parser) (Node, error), ops []string) (Node, error) {
	left, err := next(p)
	if err != nil {
		return nil, err
	}
	for {
		cp := p.save()
		p.skipBlanks()
		op, ok := p.skipOperator(ops)
		if !ok {
			cp.restore()
			return left, nil
		}
		p.skipBlanks()
		right, err := next(p)
		if err != nil {
			return nil, err
		}
		left = &binary{op: op, left: left, right: right}
	}
}

// parseUnary parses "!x" and "-x".
func (p *Parser) parseUnary() (Node, error) {
	for _, op := range []rune{'!', '-'} {
		if p.skipChar(op) {
			p.skipBlanks()
			operand, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &unary{op: string(op), operand: operand}, nil
		}
	}
	return p.parsePostfix()
}

// parsePostfix parses member accesses, method calls and index accesses
// following a primary expression, e.g. "payload.name", "a.b(1)", "roles[0]".
func (p *Parser) parsePostfix() (Node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.skipChar('.'):
			cp := p.save()
			name, ok := p.parseName()
			if !ok {
				return nil, errorAt(fmt.Errorf(`expected member name after "."`), cp.lineNum, cp.colNum(), p.input)
			}
			if p.peekChar('(') {
				args, err := p.parseArgs()
				if err != nil {
					return nil, err
				}
				n = &call{target: n, name: name, args: args}
				continue
			}
			n = &member{target: n, name: name}
		case p.peekChar('['):
			cp := p.save()
			p.advanceChar()
			p.skipBlanks()
			key, err := p.parseConditional()
			if err != nil {
				return nil, err
			}
			p.skipBlanks()
			if !p.skipChar(']') {
				return nil, errorAt(fmt.Errorf("missing closing bracket"), cp.lineNum, cp.colNum(), p.input)
			}
			n = &index{target: n, key: key}
		default:
			return n, nil
		}
	}
}

// parsePrimary parses literals, arrays, parenthesised expressions,
// identifiers and function calls.
func (p *Parser) parsePrimary() (Node, error) {
	if p.pos >= len(p.input) {
		return nil, errorAt(fmt.Errorf("unexpected end of expression"), p.lineNum, p.colNum(), p.input)
	}

	switch {
	case unicode.IsDigit(p.char):
		return p.parseNumber()
	case p.char == '\'' || p.char == '"':
		return p.parseString()
	case p.char == '[':
		items, err := parseList(p, '[', ']')
		if err != nil {
			return nil, err
		}
		return &array{items: items}, nil
	case p.char == '(':
		cp := p.save()
		p.advanceChar()
		p.skipBlanks()
		n, err := p.parseConditional()
		if err != nil {
			return nil, err
		}
		p.skipBlanks()
		if !p.skipChar(')') {
			return nil, errorAt(fmt.Errorf("missing closing parenthesis"), cp.lineNum, cp.colNum(), p.input)
		}
		return n, nil
	}

	name, ok := p.parseName()
	if !ok {
		return nil, errorAt(fmt.Errorf("unexpected character %q", p.char), p.lineNum, p.colNum(), p.input)
	}
	switch name {
	case "true":
		return &literal{value: true}, nil
	case "false":
		return &literal{value: false}, nil
	case "null", "nil":
		return &literal{value: nil}, nil
	}
	if p.peekChar('(') {
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return &call{name: name, args: args}, nil
	}
	return &identifier{name: name}, nil
}

// parseNumber parses an integer or a decimal literal.
func (p *Parser) parseNumber() (Node, error) {
	cp := p.save()
	isFloat := false
	for p.pos < len(p.input) && unicode.IsDigit(p.char) {
		p.advanceChar()
	}
	if p.peekChar('.') {
		dot := p.save()
		p.advanceChar()
		if p.pos < len(p.input) && unicode.IsDigit(p.char) {
			isFloat = true
			for p.pos < len(p.input) && unicode.IsDigit(p.char) {
				p.advanceChar()
			}
		} else {
			// The dot belongs to a member access, e.g. "1.foo" is an error
			// reported by the caller.
			dot.restore()
		}
	}
	raw := p.input[cp.pos:p.pos]
	if isFloat {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errorAt(fmt.Errorf("invalid number %q", raw), cp.lineNum, cp.colNum(), p.input)
		}
		return &literal{value: f}, nil
	}
	i, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errorAt(fmt.Errorf("invalid number %q", raw), cp.lineNum, cp.colNum(), p.input)
	}
	return &literal{value: i}, nil
}

// parseString parses a single or double quoted string. A backslash escapes
// the following char.
func (p *Parser) parseString() (Node, error) {
	cp := p.save()
	quote := p.char
	p.advanceChar()

	var sb strings.Builder
	for p.pos < len(p.input) {
		switch p.char {
		case quote:
			p.advanceChar()
			return &literal{value: sb.String()}, nil
		case '\\':
			p.advanceChar()
			if p.pos >= len(p.input) {
				break
			}
			switch p.char {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			default:
				sb.WriteRune(p.char)
			}
			p.advanceChar()
		default:
			sb.WriteRune(p.char)
			p.advanceChar()
		}
	}
	cp.restore()
	return nil, errorAt(fmt.Errorf("missing closing quote in string literal"), cp.lineNum, cp.colNum(), p.input)
}

// parseArgs parses a bracketed argument list of a function or method call.
func (p *Parser) parseArgs() ([]Node, error) {
	return parseList(p, '(', ')')
}

// parseList parses a comma separated list of expressions enclosed by open and
// close. The list may be empty.
func parseList(p *Parser, open, close rune) ([]Node, error) {
	cp := p.save()
	if !p.skipChar(open) {
		return nil, errorAt(fmt.Errorf("expected %q", open), p.lineNum, p.colNum(), p.input)
	}
	items := []Node{}
	p.skipBlanks()
	if p.skipChar(close) {
		return items, nil
	}
	for {
		p.skipBlanks()
		item, err := p.parseConditional()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		p.skipBlanks()
		if p.skipChar(close) {
			return items, nil
		}
		if !p.skipChar(',') {
			if p.pos >= len(p.input) {
				return nil, errorAt(fmt.Errorf("missing closing %q", close), cp.lineNum, cp.colNum(), p.input)
			}
			return nil, errorAt(fmt.Errorf("expected \",\" or %q in list", close), p.lineNum, p.colNum(), p.input)
		}
	}
}
