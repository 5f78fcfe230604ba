// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

// References resolves the service names used by the reference function.
type References interface {
	Reference(name string) (any, bool)
}

// ReferenceMap is a References backed by a map.
type ReferenceMap map[string]any

func (m ReferenceMap) Reference(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Context holds the values an expression is evaluated against. A Context
// belongs to a single invocation.
type Context struct {
	// Payload is the value of the parameter the expression is attached to.
	Payload any
	// Params holds every argument of the invocation by parameter name.
	Params map[string]any
	// References is used by reference(name). It may be nil.
	References References
}

// Eval evaluates n against ctx.
func Eval(n Node, ctx *Context) (v any, err error) {
	if ctx == nil {
		ctx = &Context{}
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot evaluate expression: %w", err)
		}
	}()
	return n.Eval(ctx)
}

func (n *literal) Eval(*Context) (any, error) {
	return n.value, nil
}

func (n *array) Eval(ctx *Context) (any, error) {
	vs := make([]any, len(n.items))
	for i, item := range n.items {
		v, err := item.Eval(ctx)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}

func (n *identifier) Eval(ctx *Context) (any, error) {
	if n.name == "payload" {
		return ctx.Payload, nil
	}
	if v, ok := ctx.Params[n.name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("unknown identifier %q", n.name)
}

func (n *member) Eval(ctx *Context) (any, error) {
	target, err := n.target.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return getMember(target, n.name)
}

func (n *index) Eval(ctx *Context) (any, error) {
	target, err := n.target.Eval(ctx)
	if err != nil {
		return nil, err
	}
	key, err := n.key.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return getIndex(target, key)
}

func (n *call) Eval(ctx *Context) (any, error) {
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.Eval(ctx)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	if n.target == nil {
		return callFunction(ctx, n.name, args)
	}
	target, err := n.target.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return callMethod(target, n.name, args)
}

func (n *unary) Eval(ctx *Context) (any, error) {
	v, err := n.operand.Eval(ctx)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		return !truthy(v), nil
	case "-":
		i, f, isInt, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", v)
		}
		if isInt {
			return -i, nil
		}
		return -f, nil
	}
	return nil, fmt.Errorf("internal error: unknown unary operator %q", n.op)
}

func (n *binary) Eval(ctx *Context) (any, error) {
	left, err := n.left.Eval(ctx)
	if err != nil {
		return nil, err
	}

	// Logical operators short circuit.
	switch n.op {
	case "&&":
		if !truthy(left) {
			return false, nil
		}
		right, err := n.right.Eval(ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case "||":
		if truthy(left) {
			return true, nil
		}
		right, err := n.right.Eval(ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	right, err := n.right.Eval(ctx)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "===":
		return strictEqual(left, right), nil
	case "!==":
		return !strictEqual(left, right), nil
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "<", "<=", ">", ">=":
		c, err := compare(left, right)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case "+":
		ls, lok := left.(string)
		rs, rok := right.(string)
		if lok && rok {
			return ls + rs, nil
		}
		return arithmetic(n.op, left, right)
	case "-", "*", "/", "%":
		return arithmetic(n.op, left, right)
	}
	return nil, fmt.Errorf("internal error: unknown binary operator %q", n.op)
}

func (n *conditional) Eval(ctx *Context) (any, error) {
	cond, err := n.cond.Eval(ctx)
	if err != nil {
		return nil, err
	}
	if truthy(cond) {
		return n.then.Eval(ctx)
	}
	return n.els.Eval(ctx)
}

// callFunction runs one of the built-in functions.
func callFunction(ctx *Context, name string, args []any) (any, error) {
	switch name {
	case "reference":
		if len(args) != 1 {
			return nil, fmt.Errorf("reference expects 1 argument, got %d", len(args))
		}
		ref, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("reference expects a string argument, got %T", args[0])
		}
		if ctx.References == nil {
			return nil, fmt.Errorf("unknown service reference %q", ref)
		}
		service, ok := ctx.References.Reference(ref)
		if !ok {
			return nil, fmt.Errorf("unknown service reference %q", ref)
		}
		return service, nil
	case "lower", "upper":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s expects a string argument, got %T", name, args[0])
		}
		if name == "lower" {
			return strings.ToLower(s), nil
		}
		return strings.ToUpper(s), nil
	case "len":
		if len(args) != 1 {
			return nil, fmt.Errorf("len expects 1 argument, got %d", len(args))
		}
		if args[0] == nil {
			return int64(0), nil
		}
		v := reflect.ValueOf(args[0])
		switch v.Kind() {
		case reflect.String:
			return int64(utf8.RuneCountInString(v.String())), nil
		case reflect.Slice, reflect.Array, reflect.Map:
			return int64(v.Len()), nil
		}
		return nil, fmt.Errorf("len: invalid argument type %T", args[0])
	}
	return nil, fmt.Errorf("unknown function %q", name)
}
