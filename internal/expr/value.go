// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// fieldCache maps a struct type to the index of its fields under every name
// the field can be looked up by.
var fieldCache = struct {
	mutex  sync.RWMutex
	fields map[reflect.Type]map[string][]int
}{fields: map[reflect.Type]map[string][]int{}}

// structFields returns the lookup table of t, generating it on first use.
func structFields(t reflect.Type) map[string][]int {
	fieldCache.mutex.RLock()
	fields, found := fieldCache.fields[t]
	fieldCache.mutex.RUnlock()
	if found {
		return fields
	}

	fieldCache.mutex.Lock()
	defer fieldCache.mutex.Unlock()
	if fields, found = fieldCache.fields[t]; found {
		return fields
	}
	fields = generateStructFields(t)
	fieldCache.fields[t] = fields
	return fields
}

// generateStructFields indexes the exported fields of t, including promoted
// ones. A field is found by its name, by the name part of its db or json tag
// and by its lower-cased name. The first registration of a key wins so that
// outer fields shadow promoted fields.
func generateStructFields(t reflect.Type) map[string][]int {
	fields := map[string][]int{}
	add := func(key string, idx []int) {
		if key == "" || key == "-" {
			return
		}
		if _, ok := fields[key]; !ok {
			fields[key] = idx
		}
	}
	var visit func(t reflect.Type, prefix []int)
	visit = func(t reflect.Type, prefix []int) {
		var embedded []reflect.StructField
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			idx := append(append([]int{}, prefix...), i)
			if f.Anonymous {
				ft := f.Type
				if ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
				if ft.Kind() == reflect.Struct {
					f.Index = idx
					embedded = append(embedded, f)
					continue
				}
			}
			if !f.IsExported() {
				continue
			}
			add(f.Name, idx)
			for _, tag := range []string{"db", "json", "yaml"} {
				name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
				add(name, idx)
			}
			add(strings.ToLower(f.Name), idx)
		}
		for _, f := range embedded {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			visit(ft, f.Index)
		}
	}
	visit(t, nil)
	return fields
}

// exportedName capitalises the first letter of name, turning the lower camel
// case used in expressions into a Go method name.
func exportedName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

// indirect follows pointers and interfaces until it reaches a concrete value.
func indirect(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v, false
		}
		v = v.Elem()
	}
	return v, true
}

// getMember returns the struct field or map entry called name.
func getMember(target any, name string) (any, error) {
	if target == nil {
		return nil, fmt.Errorf("cannot get member %q of null", name)
	}
	v, ok := indirect(reflect.ValueOf(target))
	if !ok {
		return nil, fmt.Errorf("cannot get member %q of nil %T", name, target)
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("cannot get member %q of %T: map key is not a string", name, target)
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil, fmt.Errorf("key %q not found in %T", name, target)
		}
		return mv.Interface(), nil
	case reflect.Struct:
		fields := structFields(v.Type())
		idx, ok := fields[name]
		if !ok {
			idx, ok = fields[strings.ToLower(name)]
		}
		if ok {
			fv, err := v.FieldByIndexErr(idx)
			if err != nil {
				return nil, fmt.Errorf("cannot get member %q of %T: %s", name, target, err)
			}
			return fv.Interface(), nil
		}
	}

	// Fall back to a getter method such as Name() or GetName().
	for _, getter := range []string{exportedName(name), "Get" + exportedName(name)} {
		if m := findMethod(reflect.ValueOf(target), getter); m.IsValid() && m.Type().NumIn() == 0 {
			return callValue(m, nil, target, getter)
		}
	}
	return nil, fmt.Errorf("%T has no member %q", target, name)
}

// getIndex returns target[key] for slices, arrays, strings and maps.
func getIndex(target any, key any) (any, error) {
	if target == nil {
		return nil, fmt.Errorf("cannot index null")
	}
	v, ok := indirect(reflect.ValueOf(target))
	if !ok {
		return nil, fmt.Errorf("cannot index nil %T", target)
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		i, _, isInt, ok := toNumber(key)
		if !ok || !isInt {
			return nil, fmt.Errorf("cannot index %T with %T", target, key)
		}
		// Strings are indexed by character.
		if v.Kind() == reflect.String {
			runes := []rune(v.String())
			if i < 0 || i >= int64(len(runes)) {
				return nil, fmt.Errorf("index %d out of range [0:%d]", i, len(runes))
			}
			return string(runes[i]), nil
		}
		if i < 0 || i >= int64(v.Len()) {
			return nil, fmt.Errorf("index %d out of range [0:%d]", i, v.Len())
		}
		return v.Index(int(i)).Interface(), nil
	case reflect.Map:
		if key == nil {
			return nil, fmt.Errorf("cannot index %T with null", target)
		}
		kv := reflect.ValueOf(key)
		kt := v.Type().Key()
		switch {
		case kv.Type().AssignableTo(kt):
		case kv.Type().ConvertibleTo(kt) && sameKindClass(kv.Kind(), kt.Kind()):
			kv = kv.Convert(kt)
		default:
			return nil, fmt.Errorf("cannot index %T with %T", target, key)
		}
		mv := v.MapIndex(kv)
		if !mv.IsValid() {
			return nil, fmt.Errorf("key %v not found in %T", key, target)
		}
		return mv.Interface(), nil
	}
	return nil, fmt.Errorf("cannot index %T", target)
}

// findMethod looks for the named method on v, or on a pointer to a copy of v
// when the method has a pointer receiver.
func findMethod(v reflect.Value, name string) reflect.Value {
	if !v.IsValid() {
		return reflect.Value{}
	}
	if m := v.MethodByName(name); m.IsValid() {
		return m
	}
	if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface {
		pv := reflect.New(v.Type())
		pv.Elem().Set(v)
		return pv.MethodByName(name)
	}
	return reflect.Value{}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// callMethod calls the method name of target with args. Expression method
// names are lower camel case; the exported Go name is tried after the name as
// written.
func callMethod(target any, name string, args []any) (any, error) {
	if target == nil {
		return nil, fmt.Errorf("cannot call method %q on null", name)
	}
	v := reflect.ValueOf(target)
	m := findMethod(v, name)
	if !m.IsValid() {
		m = findMethod(v, exportedName(name))
	}
	if !m.IsValid() {
		return nil, fmt.Errorf("%T has no method %q", target, name)
	}
	mt := m.Type()
	if mt.IsVariadic() {
		if len(args) < mt.NumIn()-1 {
			return nil, fmt.Errorf("method %q of %T expects at least %d arguments, got %d", name, target, mt.NumIn()-1, len(args))
		}
	} else if len(args) != mt.NumIn() {
		return nil, fmt.Errorf("method %q of %T expects %d arguments, got %d", name, target, mt.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var t reflect.Type
		if mt.IsVariadic() && i >= mt.NumIn()-1 {
			t = mt.In(mt.NumIn() - 1).Elem()
		} else {
			t = mt.In(i)
		}
		av, err := convertArg(a, t)
		if err != nil {
			return nil, fmt.Errorf("argument %d of method %q: %s", i+1, name, err)
		}
		in[i] = av
	}
	return callValue(m, in, target, name)
}

// callValue calls m and unpacks its results. Methods may return nothing, a
// value, an error, or a value and an error.
func callValue(m reflect.Value, in []reflect.Value, target any, name string) (any, error) {
	out := m.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			if !out[0].IsNil() {
				return nil, out[0].Interface().(error)
			}
			return nil, nil
		}
		return out[0].Interface(), nil
	case 2:
		if out[1].Type() != errorType {
			return nil, fmt.Errorf("method %q of %T: second result must be an error", name, target)
		}
		if !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	}
	return nil, fmt.Errorf("method %q of %T returns too many values", name, target)
}

// convertArg converts an evaluated value to the parameter type t of a Go
// method.
func convertArg(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use null as %s", t)
	}
	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if v.Type().ConvertibleTo(t) && sameKindClass(v.Kind(), t.Kind()) {
		return v.Convert(t), nil
	}
	if vs, ok := a.([]any); ok && t.Kind() == reflect.Slice {
		s := reflect.MakeSlice(t, len(vs), len(vs))
		for i, e := range vs {
			ev, err := convertArg(e, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			s.Index(i).Set(ev)
		}
		return s, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", a, t)
}

// sameKindClass reports whether a value of kind a may be converted to kind b
// without changing its meaning, e.g. int64 to int but not int to string.
func sameKindClass(a, b reflect.Kind) bool {
	return kindClass(a) != 0 && kindClass(a) == kindClass(b)
}

func kindClass(k reflect.Kind) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return 1
	case reflect.String:
		return 2
	case reflect.Bool:
		return 3
	}
	return 0
}

// toNumber returns v as an int64 if it is of an integer kind and as a float64
// if it is of a float kind.
func toNumber(v any) (i int64, f float64, isInt bool, ok bool) {
	if v == nil {
		return 0, 0, false, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), float64(rv.Int()), true, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, float64(u), false, true
		}
		return int64(u), float64(u), true, true
	case reflect.Float32, reflect.Float64:
		return 0, rv.Float(), false, true
	}
	return 0, 0, false, false
}

// truthy converts v to a boolean: nil, false, zero numbers, empty strings and
// empty collections are false.
func truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if _, f, _, ok := toNumber(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// strictEqual compares without conversions between integers, floats and
// strings. Integers of different Go types are equal when their values are, so
// that a literal 1 equals an int argument of 1.
func strictEqual(a, b any) bool {
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}
	ai, af, aInt, aok := toNumber(a)
	bi, bf, bInt, bok := toNumber(b)
	if aok && bok {
		if aInt != bInt {
			return false
		}
		if aInt {
			return ai == bi
		}
		return af == bf
	}
	if aok || bok {
		return false
	}
	return deepEqual(a, b)
}

// looseEqual compares numbers by value whatever their type.
func looseEqual(a, b any) bool {
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}
	ai, af, aInt, aok := toNumber(a)
	bi, bf, bInt, bok := toNumber(b)
	if aok && bok {
		if aInt && bInt {
			return ai == bi
		}
		return af == bf
	}
	return deepEqual(a, b)
}

func deepEqual(a, b any) bool {
	as, aok := stringValue(a)
	bs, bok := stringValue(b)
	if aok && bok {
		return as == bs
	}
	return reflect.DeepEqual(a, b)
}

// stringValue returns the value of any string kind, named string types
// included.
func stringValue(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

// compare orders two numbers or two strings.
func compare(a, b any) (int, error) {
	ai, af, aInt, aok := toNumber(a)
	bi, bf, bInt, bok := toNumber(b)
	if aok && bok {
		if aInt && bInt {
			switch {
			case ai < bi:
				return -1, nil
			case ai > bi:
				return 1, nil
			}
			return 0, nil
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	}
	as, aok := stringValue(a)
	bs, bok := stringValue(b)
	if aok && bok {
		return strings.Compare(as, bs), nil
	}
	return 0, fmt.Errorf("cannot compare %T and %T", a, b)
}

// arithmetic applies a numeric operator. The result is an int64 when both
// operands are integers and a float64 otherwise.
func arithmetic(op string, a, b any) (any, error) {
	ai, af, aInt, aok := toNumber(a)
	bi, bf, bInt, bok := toNumber(b)
	if !aok || !bok {
		return nil, fmt.Errorf("invalid operation: %T %s %T", a, op, b)
	}
	if aInt && bInt {
		switch op {
		case "+":
			return ai + bi, nil
		case "-":
			return ai - bi, nil
		case "*":
			return ai * bi, nil
		case "/", "%":
			if bi == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			if op == "/" {
				return ai / bi, nil
			}
			return ai % bi, nil
		}
	}
	switch op {
	case "+":
		return af + bf, nil
	case "-":
		return af - bf, nil
	case "*":
		return af * bf, nil
	case "/":
		if bf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return af / bf, nil
	case "%":
		return nil, fmt.Errorf("invalid operation: %% on non-integer operands")
	}
	return nil, fmt.Errorf("internal error: unknown operator %q", op)
}
