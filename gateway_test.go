// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dbal_test

import (
	"context"

	. "gopkg.in/check.v1"

	"github.com/sktrendla/ecotone-dev"
)

type PersonWriteAPI struct {
	Insert        func(ctx context.Context, personID int, name string) error               `dbal:"person.insert"`
	ChangeName    func(ctx context.Context, personID int, name PersonName) (int, error)    `dbal:"person.changeName"`
	RegisterAdmin func(ctx context.Context, personID int, name string) error
	Remove        func(ctx context.Context, ids []int) (int64, error)
	Skipped       func() `dbal:"-"`

	unexported func()
}

func (s *PackageSuite) newRegistry(c *C) *dbal.Registry {
	registry := dbal.NewRegistry(dbal.WithLogger(s.logger))
	for _, decl := range []dbal.Declaration{insertPerson, changeName} {
		_, err := registry.Register(decl)
		c.Assert(err, IsNil)
	}
	admin := registerAdmin
	admin.Name = "PersonWriteAPI.registerAdmin"
	_, err := registry.Register(admin)
	c.Assert(err, IsNil)
	_, err = registry.Register(dbal.Declaration{
		Name:       "Remove",
		SQL:        "DELETE FROM persons WHERE person_id IN (:ids)",
		Parameters: []dbal.Parameter{{Name: "ids", Collection: true}},
		Returns:    dbal.ReturnsAffectedRows,
	})
	c.Assert(err, IsNil)
	return registry
}

func (s *PackageSuite) TestImplement(c *C) {
	ctx := context.Background()
	var api PersonWriteAPI
	c.Assert(s.newRegistry(c).Implement(&api, s.manager), IsNil)
	c.Check(api.Skipped, IsNil)
	c.Check(api.unexported, IsNil)

	c.Assert(api.Insert(ctx, 1, "Johny"), IsNil)
	c.Assert(api.RegisterAdmin(ctx, 2, "Admin"), IsNil)
	c.Check(s.person(c, 2).roles.String, Equals, `["ROLE_ADMIN"]`)

	n, err := api.ChangeName(ctx, 1, "FRANCO")
	c.Assert(err, IsNil)
	c.Check(n, Equals, 1)
	c.Check(s.person(c, 1).name, Equals, "franco")

	err = api.Insert(ctx, 1, "Johny")
	c.Check(err, FitsTypeOf, &dbal.StatementExecutionError{})

	removed, err := api.Remove(ctx, []int{1, 2})
	c.Assert(err, IsNil)
	c.Check(removed, Equals, int64(2))
	c.Check(s.count(c), Equals, 0)
}

func (s *PackageSuite) TestImplementErrors(c *C) {
	registry := s.newRegistry(c)

	var wrongArgs struct {
		Insert func(ctx context.Context, personID int) error `dbal:"person.insert"`
	}
	var wrongType struct {
		Insert func(ctx context.Context, personID string, name string) error `dbal:"person.insert"`
	}
	var noContext struct {
		Insert func(personID int, name string, extra int) error `dbal:"person.insert"`
	}
	var wrongReturn struct {
		Insert func(ctx context.Context, personID int, name string) (int, error) `dbal:"person.insert"`
	}
	var missingRows struct {
		ChangeName func(ctx context.Context, personID int, name PersonName) error `dbal:"person.changeName"`
	}
	var unknown struct {
		Delete func(ctx context.Context) error
	}
	var unknownTag struct {
		Delete func(ctx context.Context) error `dbal:"person.delete"`
	}

	tests := []struct {
		target any
		err    string
	}{{
		target: &wrongArgs,
		err:    `cannot implement \.Insert: expected a context\.Context and 2 arguments for person\.insert`,
	}, {
		target: &wrongType,
		err:    `cannot implement \.Insert: argument 1 \(personId\): string is not assignable to int`,
	}, {
		target: &noContext,
		err:    `cannot implement \.Insert: expected a context\.Context and 2 arguments for person\.insert`,
	}, {
		target: &wrongReturn,
		err:    `cannot implement \.Insert: person\.insert returns nothing, expected a func returning error`,
	}, {
		target: &missingRows,
		err:    `cannot implement \.ChangeName: person\.changeName returns affected rows, expected a func returning \(int, error\)`,
	}, {
		target: &unknown,
		err:    `cannot implement \.Delete: no declaration "Delete" or "\.delete"`,
	}, {
		target: &unknownTag,
		err:    `cannot implement \.Delete: no declaration "person\.delete"`,
	}, {
		target: wrongArgs,
		err:    `cannot implement struct .*: need a non-nil pointer to a struct`,
	}, {
		target: (*PersonWriteAPI)(nil),
		err:    `cannot implement \*dbal_test\.PersonWriteAPI: need a non-nil pointer to a struct`,
	}}

	for i, t := range tests {
		err := registry.Implement(t.target, s.manager)
		c.Check(err, ErrorMatches, t.err, Commentf("test %d", i))
	}
}
