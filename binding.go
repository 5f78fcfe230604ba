// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dbal

import (
	"fmt"
	"reflect"

	"github.com/sktrendla/ecotone-dev/internal/convert"
	"github.com/sktrendla/ecotone-dev/internal/expr"
	"github.com/sktrendla/ecotone-dev/internal/template"
)

// binding is the compiled rule giving a placeholder its value.
type binding struct {
	placeholder string
	// param is the index of the formal parameter providing the payload, or
	// -1 for method level bindings without one.
	param      int
	expression string
	node       expr.Node
	convertTo  string
	collection bool
}

// compileBindings builds one binding per placeholder of tmpl. Bindings of
// placeholders that the SQL does not use are validated but dropped.
func compileBindings(decl Declaration, tmpl *template.Template) ([]*binding, error) {
	byPlaceholder := map[string]*binding{}
	// order keeps declaration order so that compile errors are stable.
	var order []string
	paramNames := map[string]bool{}
	for i, prm := range decl.Parameters {
		if prm.Name == "" {
			return nil, fmt.Errorf("cannot compile %s: parameter %d has no name", decl.Name, i+1)
		}
		if paramNames[prm.Name] {
			return nil, fmt.Errorf("cannot compile %s: duplicate parameter %q", decl.Name, prm.Name)
		}
		paramNames[prm.Name] = true

		placeholder := prm.Name
		if prm.BindAs != "" {
			placeholder = prm.BindAs
		}
		if _, ok := byPlaceholder[placeholder]; ok {
			return nil, &DuplicateBindingError{Declaration: decl.Name, Placeholder: placeholder}
		}
		order = append(order, placeholder)
		byPlaceholder[placeholder] = &binding{
			placeholder: placeholder,
			param:       i,
			expression:  prm.Expression,
			convertTo:   prm.ConvertTo,
			collection:  prm.Collection,
		}
	}

	methodLevel := map[string]bool{}
	for _, mb := range decl.Bindings {
		if mb.Name == "" {
			return nil, fmt.Errorf("cannot compile %s: binding has no name", decl.Name)
		}
		if methodLevel[mb.Name] {
			return nil, &DuplicateBindingError{Declaration: decl.Name, Placeholder: mb.Name}
		}
		methodLevel[mb.Name] = true

		b := &binding{
			placeholder: mb.Name,
			param:       -1,
			expression:  mb.Expression,
			convertTo:   mb.ConvertTo,
		}
		// A method level binding of a parameter's placeholder replaces the
		// parameter binding, keeping the argument as payload.
		if existing, ok := byPlaceholder[mb.Name]; ok {
			b.param = existing.param
			b.collection = existing.collection
			if b.expression == "" {
				b.expression = existing.expression
			}
			if b.convertTo == "" {
				b.convertTo = existing.convertTo
			}
		} else {
			order = append(order, mb.Name)
		}
		byPlaceholder[mb.Name] = b
	}

	for _, name := range order {
		b := byPlaceholder[name]
		if b.expression != "" {
			node, err := expr.Parse(b.expression)
			if err != nil {
				return nil, &ExpressionError{Declaration: decl.Name, Expression: b.expression, Err: err}
			}
			b.node = node
		} else if b.param < 0 {
			return nil, &UnboundParameterError{Declaration: decl.Name, Placeholder: b.placeholder}
		}
		if b.convertTo != "" {
			mt, err := convert.Normalize(b.convertTo)
			if err != nil {
				return nil, fmt.Errorf("cannot compile %s: binding %q: %w", decl.Name, b.placeholder, err)
			}
			b.convertTo = mt
		}
	}

	placeholders := tmpl.Placeholders()
	bindings := make([]*binding, 0, len(placeholders))
	for _, name := range placeholders {
		b, ok := byPlaceholder[name]
		if !ok {
			return nil, &UnboundParameterError{Declaration: decl.Name, Placeholder: name}
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

// resolve computes the value of every placeholder for the arguments of one
// invocation.
func (p *Plan) resolve(args []any) (map[string]any, error) {
	params := p.decl.Parameters
	if len(args) != len(params) {
		return nil, fmt.Errorf("cannot bind %s: expected %d arguments, got %d", p.decl.Name, len(params), len(args))
	}
	named := make(map[string]any, len(params))
	for i, prm := range params {
		if err := checkArg(prm, args[i]); err != nil {
			return nil, fmt.Errorf("cannot bind %s: %w", p.decl.Name, err)
		}
		named[prm.Name] = args[i]
	}

	values := make(map[string]any, len(p.bindings))
	for _, b := range p.bindings {
		var payload any
		if b.param >= 0 {
			payload = args[b.param]
		}
		v := payload
		if b.node != nil {
			var err error
			v, err = b.node.Eval(&expr.Context{Payload: payload, Params: named, References: p.opts.references})
			if err != nil {
				return nil, &ExpressionError{Declaration: p.decl.Name, Expression: b.expression, Err: err}
			}
		}
		switch {
		case b.convertTo != "":
			converted, err := convert.Convert(v, b.convertTo)
			if err != nil {
				return nil, fmt.Errorf("cannot bind %s: placeholder %q: %w", p.decl.Name, b.placeholder, err)
			}
			v = converted
		case b.collection:
			list, err := toList(v)
			if err != nil {
				return nil, fmt.Errorf("cannot bind %s: placeholder %q: %w", p.decl.Name, b.placeholder, err)
			}
			v = list
		}
		values[b.placeholder] = v
	}
	return values, nil
}

// checkArg validates an argument against its formal parameter.
func checkArg(prm Parameter, arg any) error {
	if arg == nil {
		if prm.Collection {
			return nil
		}
		if prm.Type != nil {
			switch prm.Type.Kind() {
			case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			default:
				return fmt.Errorf("parameter %q: cannot use nil as %s", prm.Name, prm.Type)
			}
		}
		return nil
	}
	t := reflect.TypeOf(arg)
	if prm.Type != nil && !t.AssignableTo(prm.Type) {
		return fmt.Errorf("parameter %q: cannot use %s as %s", prm.Name, t, prm.Type)
	}
	if prm.Collection && t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
		return fmt.Errorf("parameter %q: collection expects a slice or array, got %s", prm.Name, t)
	}
	return nil
}

// toList copies the elements of a slice or array into a template.List.
func toList(v any) (template.List, error) {
	if v == nil {
		return template.List{}, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("collection expects a slice or array, got %T", v)
	}
	list := make(template.List, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, nil
}
