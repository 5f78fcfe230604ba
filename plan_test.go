// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dbal_test

import (
	"errors"

	. "gopkg.in/check.v1"

	"github.com/sktrendla/ecotone-dev"
)

type PlanSuite struct{}

var _ = Suite(&PlanSuite{})

func (s *PlanSuite) TestCompileErrors(c *C) {
	tests := []struct {
		summary string
		decl    dbal.Declaration
		err     string
	}{{
		summary: "placeholder without parameter",
		decl: dbal.Declaration{
			Name:       "p",
			SQL:        "INSERT INTO t VALUES (:a, :b)",
			Parameters: []dbal.Parameter{{Name: "a"}},
		},
		err: "cannot compile p: placeholder :b is not bound",
	}, {
		summary: "method binding without expression",
		decl: dbal.Declaration{
			Name:     "p",
			SQL:      "INSERT INTO t VALUES (:roles)",
			Bindings: []dbal.Binding{{Name: "roles"}},
		},
		err: "cannot compile p: placeholder :roles is not bound",
	}, {
		summary: "parameter renamed away from its placeholder",
		decl: dbal.Declaration{
			Name:       "p",
			SQL:        "INSERT INTO t VALUES (:a)",
			Parameters: []dbal.Parameter{{Name: "a", BindAs: "b"}},
		},
		err: "cannot compile p: placeholder :a is not bound",
	}, {
		summary: "two parameters on one placeholder",
		decl: dbal.Declaration{
			Name:       "p",
			SQL:        "INSERT INTO t VALUES (:a)",
			Parameters: []dbal.Parameter{{Name: "a"}, {Name: "b", BindAs: "a"}},
		},
		err: "cannot compile p: placeholder :a is bound more than once",
	}, {
		summary: "duplicate method binding",
		decl: dbal.Declaration{
			Name: "p",
			SQL:  "INSERT INTO t VALUES (:a)",
			Bindings: []dbal.Binding{
				{Name: "a", Expression: "1"},
				{Name: "a", Expression: "2"},
			},
		},
		err: "cannot compile p: placeholder :a is bound more than once",
	}, {
		summary: "duplicate parameter",
		decl: dbal.Declaration{
			Name:       "p",
			SQL:        "INSERT INTO t VALUES (:a)",
			Parameters: []dbal.Parameter{{Name: "a"}, {Name: "a", BindAs: "b"}},
		},
		err: `cannot compile p: duplicate parameter "a"`,
	}, {
		summary: "parameter without name",
		decl: dbal.Declaration{
			Name:       "p",
			SQL:        "INSERT INTO t VALUES (1)",
			Parameters: []dbal.Parameter{{}},
		},
		err: "cannot compile p: parameter 1 has no name",
	}, {
		summary: "invalid expression",
		decl: dbal.Declaration{
			Name:       "p",
			SQL:        "INSERT INTO t VALUES (:a)",
			Parameters: []dbal.Parameter{{Name: "a", Expression: "payload."}},
		},
		err: `invalid expression "payload\." in p: cannot parse expression: .*`,
	}, {
		summary: "unsupported media type",
		decl: dbal.Declaration{
			Name:       "p",
			SQL:        "INSERT INTO t VALUES (:a)",
			Parameters: []dbal.Parameter{{Name: "a", ConvertTo: "image/png"}},
		},
		err: `cannot compile p: binding "a": unsupported media type "image/png"`,
	}, {
		summary: "unterminated string in SQL",
		decl: dbal.Declaration{
			Name:       "p",
			SQL:        "INSERT INTO t VALUES (:a, 'x)",
			Parameters: []dbal.Parameter{{Name: "a"}},
		},
		err: "cannot compile p: cannot parse SQL template: .*",
	}}

	for _, t := range tests {
		_, err := dbal.Compile(t.decl)
		c.Check(err, ErrorMatches, t.err, Commentf("test %q", t.summary))
	}
}

func (s *PlanSuite) TestCompileErrorOrder(c *C) {
	decl := dbal.Declaration{
		Name: "p",
		SQL:  "INSERT INTO t VALUES (:a, :b, :c, :d)",
		Parameters: []dbal.Parameter{
			{Name: "a"},
			{Name: "b", Expression: "b."},
			{Name: "c", Expression: "c."},
		},
		Bindings: []dbal.Binding{{Name: "d", Expression: "d."}},
	}
	// The first invalid binding in declaration order is always reported.
	for i := 0; i < 20; i++ {
		_, err := dbal.Compile(decl)
		c.Assert(err, ErrorMatches, `invalid expression "b\." in p: .*`)
	}

	decl.Parameters[1].Expression = ""
	decl.Parameters[1].ConvertTo = "image/png"
	decl.Parameters[2].Expression = ""
	decl.Parameters[2].ConvertTo = "audio/ogg"
	for i := 0; i < 20; i++ {
		_, err := dbal.Compile(decl)
		c.Assert(err, ErrorMatches, `cannot compile p: binding "b": unsupported media type "image/png"`)
	}
}

func (s *PlanSuite) TestCompileErrorTypes(c *C) {
	_, err := dbal.Compile(dbal.Declaration{Name: "p", SQL: "SELECT :a"})
	var unbound *dbal.UnboundParameterError
	c.Assert(errors.As(err, &unbound), Equals, true)
	c.Check(unbound.Declaration, Equals, "p")
	c.Check(unbound.Placeholder, Equals, "a")

	_, err = dbal.Compile(dbal.Declaration{
		Name:       "p",
		SQL:        "SELECT :a",
		Parameters: []dbal.Parameter{{Name: "a"}, {Name: "b", BindAs: "a"}},
	})
	var duplicate *dbal.DuplicateBindingError
	c.Assert(errors.As(err, &duplicate), Equals, true)
	c.Check(duplicate.Placeholder, Equals, "a")

	_, err = dbal.Compile(dbal.Declaration{
		Name:       "p",
		SQL:        "SELECT :a",
		Parameters: []dbal.Parameter{{Name: "a", Expression: "(payload"}},
	})
	var exprErr *dbal.ExpressionError
	c.Assert(errors.As(err, &exprErr), Equals, true)
	c.Check(exprErr.Expression, Equals, "(payload")
	c.Check(exprErr.Unwrap(), NotNil)
}

func (s *PlanSuite) TestMustCompilePanics(c *C) {
	c.Check(func() {
		dbal.MustCompile(dbal.Declaration{Name: "p", SQL: "SELECT :a"})
	}, PanicMatches, "cannot compile p: placeholder :a is not bound")
}

func (s *PlanSuite) TestBindIdentity(c *C) {
	plan := dbal.MustCompile(insertPerson)
	c.Check(plan.Name(), Equals, "person.insert")
	c.Check(plan.Declaration().SQL, Equals, insertPerson.SQL)

	values, err := plan.Bind(100, "Johny")
	c.Assert(err, IsNil)
	c.Check(values, DeepEquals, map[string]any{"personId": 100, "name": "Johny"})

	// Arguments are bound as given, whatever their type.
	johny := Person{ID: 1, Name: "Johny"}
	values, err = dbal.MustCompile(dbal.Declaration{
		Name:       "p",
		SQL:        "SELECT :person",
		Parameters: []dbal.Parameter{{Name: "person"}},
	}).Bind(johny)
	c.Assert(err, IsNil)
	c.Check(values["person"], DeepEquals, johny)
}

func (s *PlanSuite) TestBindScenarioB(c *C) {
	values, err := dbal.MustCompile(registerAdmin).Bind(1, "Admin")
	c.Assert(err, IsNil)
	c.Check(values, DeepEquals, map[string]any{
		"personId": 1,
		"name":     "Admin",
		"roles":    `["ROLE_ADMIN"]`,
	})
}

func (s *PlanSuite) TestBindConversions(c *C) {
	plan := dbal.MustCompile(dbal.Declaration{
		Name: "person.changeRoles",
		SQL:  "UPDATE persons SET roles = :roles, note = :note, label = :label WHERE person_id = :personId",
		Parameters: []dbal.Parameter{
			{Name: "personId"},
			{Name: "roles", Collection: true, ConvertTo: "application/json; charset=utf-8"},
			{Name: "note", ConvertTo: "application/x-yaml"},
			{Name: "label", ConvertTo: "text/plain", Expression: "len(roles)"},
		},
	})

	values, err := plan.Bind(1, []string{"ROLE_USER", "ROLE_ADMIN"}, map[string]int{"b": 2, "a": 1}, nil)
	c.Assert(err, IsNil)
	c.Check(values, DeepEquals, map[string]any{
		"personId": 1,
		"roles":    `["ROLE_USER","ROLE_ADMIN"]`,
		"note":     "a: 1\nb: 2\n",
		"label":    "2",
	})
}

func (s *PlanSuite) TestBindCollection(c *C) {
	plan := dbal.MustCompile(dbal.Declaration{
		Name:       "person.remove",
		SQL:        "DELETE FROM persons WHERE person_id IN (:ids)",
		Parameters: []dbal.Parameter{{Name: "ids", Collection: true}},
	})

	values, err := plan.Bind([]int{1, 2, 3})
	c.Assert(err, IsNil)
	c.Check(values, DeepEquals, map[string]any{"ids": []any{1, 2, 3}})

	values, err = plan.Bind(nil)
	c.Assert(err, IsNil)
	c.Check(values, DeepEquals, map[string]any{"ids": []any{}})

	_, err = plan.Bind(1)
	c.Check(err, ErrorMatches, `cannot bind person\.remove: parameter "ids": collection expects a slice or array, got int`)
}

func (s *PlanSuite) TestBindMethodLevelOverride(c *C) {
	plan := dbal.MustCompile(dbal.Declaration{
		Name:       "p",
		SQL:        "SELECT :name",
		Parameters: []dbal.Parameter{{Name: "name", Expression: "payload"}},
		Bindings:   []dbal.Binding{{Name: "name", Expression: "upper(payload)"}},
	})
	values, err := plan.Bind("johny")
	c.Assert(err, IsNil)
	c.Check(values, DeepEquals, map[string]any{"name": "JOHNY"})
}

func (s *PlanSuite) TestBindUnusedParameter(c *C) {
	plan := dbal.MustCompile(dbal.Declaration{
		Name:       "p",
		SQL:        "SELECT :a",
		Parameters: []dbal.Parameter{{Name: "a"}, {Name: "b", Expression: "payload.missing"}},
	})
	values, err := plan.Bind(1, "unused")
	c.Assert(err, IsNil)
	c.Check(values, DeepEquals, map[string]any{"a": 1})
}

func (s *PlanSuite) TestBindErrors(c *C) {
	plan := dbal.MustCompile(changeName)

	_, err := plan.Bind(1)
	c.Check(err, ErrorMatches, `cannot bind person\.changeName: expected 2 arguments, got 1`)

	_, err = plan.Bind(1, "Johny")
	c.Check(err, ErrorMatches, `cannot bind person\.changeName: parameter "name": cannot use string as dbal_test\.PersonName`)

	_, err = plan.Bind(nil, PersonName("Johny"))
	c.Check(err, ErrorMatches, `cannot bind person\.changeName: parameter "personId": cannot use nil as int`)

	_, err = dbal.MustCompile(dbal.Declaration{
		Name:       "p",
		SQL:        "SELECT :a",
		Parameters: []dbal.Parameter{{Name: "a", Expression: "payload.street"}},
	}).Bind("Main Street")
	var exprErr *dbal.ExpressionError
	c.Assert(errors.As(err, &exprErr), Equals, true)
	c.Check(err, ErrorMatches, `invalid expression "payload\.street" in p: cannot evaluate expression: .*`)

	_, err = dbal.MustCompile(dbal.Declaration{
		Name:       "p",
		SQL:        "SELECT :a",
		Parameters: []dbal.Parameter{{Name: "a", ConvertTo: "text/plain"}},
	}).Bind(Address{Street: "Main Street"})
	c.Check(err, ErrorMatches, `cannot bind p: placeholder "a": cannot convert dbal_test\.Address to text/plain`)
}

func (s *PlanSuite) TestBindIsPure(c *C) {
	plan := dbal.MustCompile(registerAdmin)
	first, err := plan.Bind(1, "Admin")
	c.Assert(err, IsNil)
	second, err := plan.Bind(1, "Admin")
	c.Assert(err, IsNil)
	c.Check(first, DeepEquals, second)
}

func (s *PlanSuite) TestReturnContract(c *C) {
	c.Check(dbal.ReturnsVoid.String(), Equals, "void")
	c.Check(dbal.ReturnsAffectedRows.String(), Equals, "affected_rows")
}
