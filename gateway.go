// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dbal

import (
	"context"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/sktrendla/ecotone-dev/connection"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Implement fills the func fields of the struct pointed to by target with
// write methods executed on f. A field is bound to the declaration named by
// its dbal tag, or else to the declaration named after the field, either
// "Field" or "Struct.field". Fields tagged `dbal:"-"` are skipped.
//
// The func must take a context.Context followed by one argument per
// parameter of the declaration. Void declarations return an error, the
// others an integer and an error:
//
//	type PersonWriteAPI struct {
//		Insert     func(ctx context.Context, id int, name string) error             `dbal:"person.insert"`
//		ChangeName func(ctx context.Context, id int, name string) (int, error) `dbal:"person.changeName"`
//	}
func (r *Registry) Implement(target any, f connection.Factory) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("cannot implement %T: need a non-nil pointer to a struct", target)
	}
	v = v.Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Type.Kind() != reflect.Func || !sf.IsExported() {
			continue
		}
		name := sf.Tag.Get("dbal")
		if name == "-" {
			continue
		}
		p, err := r.lookup(t, sf, name)
		if err != nil {
			return fmt.Errorf("cannot implement %s.%s: %w", t.Name(), sf.Name, err)
		}
		if err := checkSignature(sf.Type, p.decl); err != nil {
			return fmt.Errorf("cannot implement %s.%s: %w", t.Name(), sf.Name, err)
		}
		v.Field(i).Set(makeMethod(sf.Type, p, f))
	}
	return nil
}

// lookup finds the plan a field is bound to.
func (r *Registry) lookup(t reflect.Type, sf reflect.StructField, tag string) (*Plan, error) {
	if tag != "" {
		if p, ok := r.Plan(tag); ok {
			return p, nil
		}
		return nil, fmt.Errorf("no declaration %q", tag)
	}
	candidates := []string{sf.Name, t.Name() + "." + lowerFirst(sf.Name)}
	for _, name := range candidates {
		if p, ok := r.Plan(name); ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no declaration %q or %q", candidates[0], candidates[1])
}

// checkSignature checks that a func of type ft can call the write method
// declared by decl.
func checkSignature(ft reflect.Type, decl Declaration) error {
	if ft.IsVariadic() {
		return fmt.Errorf("variadic functions are not supported")
	}
	if ft.NumIn() != len(decl.Parameters)+1 || ft.In(0) != contextType {
		return fmt.Errorf("expected a context.Context and %d arguments for %s", len(decl.Parameters), decl.Name)
	}
	for i, prm := range decl.Parameters {
		in := ft.In(i + 1)
		if prm.Type != nil && !in.AssignableTo(prm.Type) {
			return fmt.Errorf("argument %d (%s): %s is not assignable to %s", i+1, prm.Name, in, prm.Type)
		}
		if prm.Collection && in.Kind() != reflect.Slice && in.Kind() != reflect.Array && in.Kind() != reflect.Interface {
			return fmt.Errorf("argument %d (%s): collection expects a slice or array, got %s", i+1, prm.Name, in)
		}
	}
	switch decl.Returns {
	case ReturnsVoid:
		if ft.NumOut() != 1 || ft.Out(0) != errorType {
			return fmt.Errorf("%s returns nothing, expected a func returning error", decl.Name)
		}
	case ReturnsAffectedRows:
		if ft.NumOut() != 2 || ft.Out(1) != errorType {
			return fmt.Errorf("%s returns affected rows, expected a func returning (int, error)", decl.Name)
		}
		switch ft.Out(0).Kind() {
		case reflect.Int, reflect.Int64:
		default:
			return fmt.Errorf("%s returns affected rows, expected int or int64, got %s", decl.Name, ft.Out(0))
		}
	}
	return nil
}

func makeMethod(ft reflect.Type, p *Plan, f connection.Factory) reflect.Value {
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx, _ := in[0].Interface().(context.Context)
		if ctx == nil {
			ctx = context.Background()
		}
		args := make([]any, len(in)-1)
		for i, arg := range in[1:] {
			args[i] = arg.Interface()
		}
		outcome, err := p.Execute(ctx, f, args...)

		errValue := reflect.Zero(errorType)
		if err != nil {
			errValue = reflect.ValueOf(&err).Elem()
		}
		if ft.NumOut() == 1 {
			return []reflect.Value{errValue}
		}
		rows := reflect.ValueOf(outcome.RowsAffected()).Convert(ft.Out(0))
		return []reflect.Value{rows, errValue}
	})
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
