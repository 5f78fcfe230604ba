// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package connection

import (
	"context"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
	"unsafe"
)

// ConnectionFieldNames are the struct fields searched, in order, for the raw
// connection of a factory that does not implement RawConnectionProvider.
// Exported spellings of the names are tried too.
var ConnectionFieldNames = []string{"connection", "conn", "rawConn"}

// ConnectionIntrospectionError is returned when the raw connection of a
// factory cannot be found.
type ConnectionIntrospectionError struct {
	FactoryType string
	Reason      string
}

func (e *ConnectionIntrospectionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot find connection in %s: %s", e.FactoryType, e.Reason)
	}
	return fmt.Sprintf("cannot find connection in %s", e.FactoryType)
}

// WrappedConnection returns the raw connection held by factory. Factories
// implementing RawConnectionProvider are asked directly. Other factories have
// EstablishConnection called if they implement Establisher and are then
// searched for a field named after one of ConnectionFieldNames, unexported
// and promoted fields included. A nil field means the factory has no
// connection yet and (nil, nil) is returned.
func WrappedConnection(ctx context.Context, factory any) (RawConn, error) {
	if p, ok := factory.(RawConnectionProvider); ok {
		return p.RawConnection(ctx)
	}
	if e, ok := factory.(Establisher); ok {
		if err := e.EstablishConnection(ctx); err != nil {
			return nil, fmt.Errorf("cannot establish connection of %T: %w", factory, err)
		}
	}

	factoryType := fmt.Sprintf("%T", factory)
	v := reflect.ValueOf(factory)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, &ConnectionIntrospectionError{FactoryType: factoryType, Reason: "factory is nil"}
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, &ConnectionIntrospectionError{FactoryType: factoryType, Reason: "factory is not a struct"}
	}
	if !v.CanAddr() {
		// Fields are read through their address below.
		addressable := reflect.New(v.Type()).Elem()
		addressable.Set(v)
		v = addressable
	}

	for _, name := range ConnectionFieldNames {
		f, ok := fieldByName(v, name)
		if !ok {
			f, ok = fieldByName(v, exportedName(name))
		}
		if !ok {
			continue
		}
		// Force access to unexported fields.
		f = reflect.NewAt(f.Type(), unsafe.Pointer(f.UnsafeAddr())).Elem()
		switch f.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			if f.IsNil() {
				return nil, nil
			}
		}
		raw, ok := f.Interface().(RawConn)
		if !ok {
			return nil, &ConnectionIntrospectionError{
				FactoryType: factoryType,
				Reason:      fmt.Sprintf("field %q of type %s is not a connection", name, f.Type()),
			}
		}
		return raw, nil
	}
	return nil, &ConnectionIntrospectionError{FactoryType: factoryType}
}

// fieldByName looks up a field of the struct v by name, including promoted
// fields. Promoted fields behind nil embedded pointers are not found.
func fieldByName(v reflect.Value, name string) (reflect.Value, bool) {
	sf, ok := v.Type().FieldByName(name)
	if !ok {
		return reflect.Value{}, false
	}
	f, err := v.FieldByIndexErr(sf.Index)
	if err != nil {
		return reflect.Value{}, false
	}
	return f, true
}

func exportedName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}
