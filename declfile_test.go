// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dbal_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	. "gopkg.in/check.v1"

	"github.com/sktrendla/ecotone-dev"
)

type DeclarationSuite struct{}

var _ = Suite(&DeclarationSuite{})

const personDeclarations = `
declarations:
  - name: person.insert
    sql: INSERT INTO persons (person_id, name) VALUES (:personId, :name)
    parameters:
      - name: personId
        type: int
      - name: name
        type: string
  - name: person.changeRoles
    sql: UPDATE persons SET roles = :roles WHERE person_id = :id
    returns: affected_rows
    parameters:
      - {name: personId, bind_as: id, type: int}
      - name: roles
        type: "[]string"
        collection: true
        expression: payload
        convert_to: application/json
  - name: person.registerAdmin
    sql: INSERT INTO persons (person_id, name, roles) VALUES (:personId, :name, :roles)
    parameters: [{name: personId}, {name: name}]
    bindings:
      - name: roles
        expression: "['ROLE_ADMIN']"
        convert_to: application/json
`

func (s *DeclarationSuite) TestLoadDeclarations(c *C) {
	decls, err := dbal.LoadDeclarations(strings.NewReader(personDeclarations))
	c.Assert(err, IsNil)
	c.Assert(decls, HasLen, 3)

	c.Check(decls[0], DeepEquals, dbal.Declaration{
		Name: "person.insert",
		SQL:  "INSERT INTO persons (person_id, name) VALUES (:personId, :name)",
		Parameters: []dbal.Parameter{
			{Name: "personId", Type: reflect.TypeOf(0)},
			{Name: "name", Type: reflect.TypeOf("")},
		},
	})
	c.Check(decls[1], DeepEquals, dbal.Declaration{
		Name: "person.changeRoles",
		SQL:  "UPDATE persons SET roles = :roles WHERE person_id = :id",
		Parameters: []dbal.Parameter{
			{Name: "personId", BindAs: "id", Type: reflect.TypeOf(0)},
			{Name: "roles", Type: reflect.TypeOf([]string{}), Collection: true, Expression: "payload", ConvertTo: "application/json"},
		},
		Returns: dbal.ReturnsAffectedRows,
	})
	c.Check(decls[2].Bindings, DeepEquals, []dbal.Binding{
		{Name: "roles", Expression: "['ROLE_ADMIN']", ConvertTo: "application/json"},
	})
	c.Check(decls[2].Returns, Equals, dbal.ReturnsVoid)

	for _, decl := range decls {
		_, err := dbal.Compile(decl)
		c.Check(err, IsNil)
	}
}

func (s *DeclarationSuite) TestLoadEmpty(c *C) {
	decls, err := dbal.LoadDeclarations(strings.NewReader(""))
	c.Assert(err, IsNil)
	c.Check(decls, HasLen, 0)
}

func (s *DeclarationSuite) TestLoadErrors(c *C) {
	tests := []struct {
		summary string
		input   string
		err     string
	}{{
		summary: "unknown key",
		input:   "declarations:\n  - name: p\n    query: SELECT 1\n",
		err:     `(?s)cannot load declarations: .*field query not found.*`,
	}, {
		summary: "unknown type",
		input:   "declarations:\n  - name: p\n    sql: SELECT :a\n    parameters: [{name: a, type: uint8}]\n",
		err:     `cannot load declarations: declaration 1: p: parameter "a": unknown type "uint8"`,
	}, {
		summary: "unknown return contract",
		input:   "declarations:\n  - name: p\n    sql: SELECT 1\n    returns: rows\n",
		err:     `cannot load declarations: declaration 1: p: unknown return contract "rows"`,
	}, {
		summary: "missing name",
		input:   "declarations:\n  - sql: SELECT 1\n",
		err:     `cannot load declarations: declaration 1: name is empty`,
	}, {
		summary: "not a mapping",
		input:   "- name: p\n",
		err:     `(?s)cannot load declarations: yaml: .*`,
	}}

	for _, t := range tests {
		_, err := dbal.LoadDeclarations(strings.NewReader(t.input))
		c.Check(err, ErrorMatches, t.err, Commentf("test %q", t.summary))
	}
}

func (s *DeclarationSuite) TestRegistry(c *C) {
	registry := dbal.NewRegistry()
	c.Check(registry.Names(), DeepEquals, []string{})

	plan, err := registry.Register(registerAdmin)
	c.Assert(err, IsNil)
	c.Check(plan.Name(), Equals, "person.registerAdmin")

	got, ok := registry.Plan("person.registerAdmin")
	c.Check(ok, Equals, true)
	c.Check(got, Equals, plan)
	_, ok = registry.Plan("person.missing")
	c.Check(ok, Equals, false)

	_, err = registry.Register(registerAdmin)
	c.Check(err, ErrorMatches, `cannot register person\.registerAdmin: already registered`)
	_, err = registry.Register(dbal.Declaration{SQL: "SELECT 1"})
	c.Check(err, ErrorMatches, `cannot register declaration: name is empty`)
	_, err = registry.Register(dbal.Declaration{Name: "p", SQL: "SELECT :a"})
	c.Check(err, ErrorMatches, `cannot compile p: placeholder :a is not bound`)

	_, err = registry.Invoke(context.Background(), nil, "person.missing")
	c.Check(err, ErrorMatches, `cannot invoke person\.missing: unknown write method`)
}

func (s *DeclarationSuite) TestRegisterFile(c *C) {
	dir := c.MkDir()
	path := filepath.Join(dir, "persons.yaml")
	c.Assert(os.WriteFile(path, []byte(personDeclarations), 0644), IsNil)

	registry := dbal.NewRegistry()
	names, err := registry.RegisterFile(path)
	c.Assert(err, IsNil)
	c.Check(names, DeepEquals, []string{"person.insert", "person.changeRoles", "person.registerAdmin"})
	c.Check(registry.Names(), DeepEquals, []string{"person.changeRoles", "person.insert", "person.registerAdmin"})

	// Registering the file again fails and changes nothing.
	_, err = registry.RegisterFile(path)
	c.Check(err, ErrorMatches, `cannot register .*persons\.yaml: person\.insert is already registered`)
	c.Check(registry.Names(), HasLen, 3)

	broken := filepath.Join(dir, "broken.yaml")
	c.Assert(os.WriteFile(broken, []byte("declarations:\n  - name: ok\n    sql: SELECT 1\n  - name: bad\n    sql: SELECT :a\n"), 0644), IsNil)
	_, err = registry.RegisterFile(broken)
	c.Check(err, ErrorMatches, `cannot register .*broken\.yaml: cannot compile bad: placeholder :a is not bound`)
	_, ok := registry.Plan("ok")
	c.Check(ok, Equals, false)

	_, err = registry.RegisterFile(filepath.Join(dir, "missing.yaml"))
	c.Check(err, ErrorMatches, `cannot register .*missing\.yaml: open .*: no such file or directory`)
}

func (s *PackageSuite) TestInvoke(c *C) {
	registry := dbal.NewRegistry(dbal.WithLogger(s.logger))
	path := filepath.Join(c.MkDir(), "persons.yaml")
	c.Assert(os.WriteFile(path, []byte(personDeclarations), 0644), IsNil)
	_, err := registry.RegisterFile(path)
	c.Assert(err, IsNil)

	ctx := context.Background()
	_, err = registry.Invoke(ctx, s.manager, "person.insert", 1, "Johny")
	c.Assert(err, IsNil)

	outcome, err := registry.Invoke(ctx, s.manager, "person.changeRoles", 1, []string{"ROLE_USER"})
	c.Assert(err, IsNil)
	c.Check(outcome.Value(), Equals, int64(1))
	c.Check(s.person(c, 1).roles.String, Equals, `["ROLE_USER"]`)
}
