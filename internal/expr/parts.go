// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"strings"
)

// A Node is an element of a parsed expression. Expressions are parsed once
// and evaluated many times against different contexts.
type Node interface {
	// String returns a string representation of the node for debugging and
	// testing purposes.
	String() string

	// Eval evaluates the node against ctx.
	Eval(ctx *Context) (any, error)

	// node is a marker method.
	node()
}

// literal is a constant: a string, an int64, a float64, a bool or nil.
type literal struct {
	value any
}

func (n *literal) String() string {
	if s, ok := n.value.(string); ok {
		return fmt.Sprintf("Literal[%q]", s)
	}
	if n.value == nil {
		return "Literal[null]"
	}
	return fmt.Sprintf("Literal[%v]", n.value)
}

// Marker function for Node.
func (n *literal) node() {}

// array is an array literal such as ['ROLE_ADMIN'].
type array struct {
	items []Node
}

func (n *array) String() string {
	return "Array[" + joinNodes(n.items) + "]"
}

// Marker function for Node.
func (n *array) node() {}

// identifier is a bare name: payload or one of the method parameters.
type identifier struct {
	name string
}

func (n *identifier) String() string {
	return "Identifier[" + n.name + "]"
}

// Marker function for Node.
func (n *identifier) node() {}

// member is a property access target.name.
type member struct {
	target Node
	name   string
}

func (n *member) String() string {
	return fmt.Sprintf("Member[%s.%s]", n.target, n.name)
}

// Marker function for Node.
func (n *member) node() {}

// index is an element access target[key].
type index struct {
	target Node
	key    Node
}

func (n *index) String() string {
	return fmt.Sprintf("Index[%s[%s]]", n.target, n.key)
}

// Marker function for Node.
func (n *index) node() {}

// call is a built-in function call when target is nil and a method call on
// the value of target otherwise.
type call struct {
	target Node
	name   string
	args   []Node
}

func (n *call) String() string {
	if n.target == nil {
		return fmt.Sprintf("Call[%s(%s)]", n.name, joinNodes(n.args))
	}
	return fmt.Sprintf("Call[%s.%s(%s)]", n.target, n.name, joinNodes(n.args))
}

// Marker function for Node.
func (n *call) node() {}

// unary is a prefix operation, "!" or "-".
type unary struct {
	op      string
	operand Node
}

func (n *unary) String() string {
	return fmt.Sprintf("Unary[%s%s]", n.op, n.operand)
}

// Marker function for Node.
func (n *unary) node() {}

type binary struct {
	op          string
	left, right Node
}

func (n *binary) String() string {
	return fmt.Sprintf("Binary[%s %s %s]", n.left, n.op, n.right)
}

// Marker function for Node.
func (n *binary) node() {}

// conditional is the ternary operator cond ? then : els.
type conditional struct {
	cond, then, els Node
}

func (n *conditional) String() string {
	return fmt.Sprintf("Conditional[%s ? %s : %s]", n.cond, n.then, n.els)
}

// Marker function for Node.
func (n *conditional) node() {}

func joinNodes(ns []Node) string {
	ss := make([]string, len(ns))
	for i, n := range ns {
		ss[i] = n.String()
	}
	return strings.Join(ss, ", ")
}
