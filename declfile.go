// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dbal

import (
	"fmt"
	"io"
	"reflect"

	"gopkg.in/yaml.v3"
)

// declarationFile is the YAML layout of a declaration file:
//
//	declarations:
//	  - name: person.insert
//	    sql: INSERT INTO persons (person_id, name) VALUES (:personId, :name)
//	    parameters:
//	      - name: personId
//	        type: int
//	      - name: name
//	        type: string
//	  - name: person.registerAdmin
//	    sql: INSERT INTO persons VALUES (:personId, :name, :roles)
//	    returns: affected_rows
//	    parameters: [{name: personId}, {name: name}]
//	    bindings:
//	      - name: roles
//	        expression: "['ROLE_ADMIN']"
//	        convert_to: application/json
type declarationFile struct {
	Declarations []declarationDoc `yaml:"declarations"`
}

type declarationDoc struct {
	Name       string         `yaml:"name"`
	SQL        string         `yaml:"sql"`
	Returns    string         `yaml:"returns"`
	Parameters []parameterDoc `yaml:"parameters"`
	Bindings   []bindingDoc   `yaml:"bindings"`
}

type parameterDoc struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Collection bool   `yaml:"collection"`
	BindAs     string `yaml:"bind_as"`
	Expression string `yaml:"expression"`
	ConvertTo  string `yaml:"convert_to"`
}

type bindingDoc struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	ConvertTo  string `yaml:"convert_to"`
}

// parameterTypes are the type names accepted in declaration files.
var parameterTypes = map[string]reflect.Type{
	"":         nil,
	"any":      nil,
	"int":      reflect.TypeOf(int(0)),
	"int32":    reflect.TypeOf(int32(0)),
	"int64":    reflect.TypeOf(int64(0)),
	"float64":  reflect.TypeOf(float64(0)),
	"string":   reflect.TypeOf(""),
	"bool":     reflect.TypeOf(false),
	"[]int":    reflect.TypeOf([]int{}),
	"[]int64":  reflect.TypeOf([]int64{}),
	"[]string": reflect.TypeOf([]string{}),
}

// LoadDeclarations reads YAML declarations from r. Unknown keys are
// rejected.
func LoadDeclarations(r io.Reader) ([]Declaration, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file declarationFile
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot load declarations: %s", err)
	}

	decls := make([]Declaration, len(file.Declarations))
	for i, doc := range file.Declarations {
		decl, err := doc.declaration()
		if err != nil {
			return nil, fmt.Errorf("cannot load declarations: declaration %d: %w", i+1, err)
		}
		decls[i] = decl
	}
	return decls, nil
}

func (doc declarationDoc) declaration() (Declaration, error) {
	decl := Declaration{Name: doc.Name, SQL: doc.SQL}
	if doc.Name == "" {
		return Declaration{}, fmt.Errorf("name is empty")
	}
	switch doc.Returns {
	case "", "void":
		decl.Returns = ReturnsVoid
	case "affected_rows", "int":
		decl.Returns = ReturnsAffectedRows
	default:
		return Declaration{}, fmt.Errorf("%s: unknown return contract %q", doc.Name, doc.Returns)
	}
	for _, p := range doc.Parameters {
		t, ok := parameterTypes[p.Type]
		if !ok {
			return Declaration{}, fmt.Errorf("%s: parameter %q: unknown type %q", doc.Name, p.Name, p.Type)
		}
		decl.Parameters = append(decl.Parameters, Parameter{
			Name:       p.Name,
			Type:       t,
			Collection: p.Collection,
			BindAs:     p.BindAs,
			Expression: p.Expression,
			ConvertTo:  p.ConvertTo,
		})
	}
	for _, b := range doc.Bindings {
		decl.Bindings = append(decl.Bindings, Binding(b))
	}
	return decl, nil
}
