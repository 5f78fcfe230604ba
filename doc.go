/*
Package dbal runs declared SQL write methods against connections that are
reopened when they go stale.

A write method is described by a Declaration: a name, an SQL statement with
named placeholders written as :name, the formal parameters of the method and
what the method returns. Declarations are compiled once into a Plan, which
checks that every placeholder has something to take its value from and
parses every binding expression up front.

	plan, err := dbal.Compile(dbal.Declaration{
		Name: "person.changeName",
		SQL:  "UPDATE persons SET name = :name WHERE person_id = :personId",
		Parameters: []dbal.Parameter{
			{Name: "personId", Type: reflect.TypeOf(0)},
			{Name: "name", Expression: "lower(payload)"},
		},
		Returns: dbal.ReturnsAffectedRows,
	})

# Bindings

By default an argument is bound to the placeholder named after its parameter.
BindAs binds it to another placeholder. An Expression computes the bound value
instead, with the argument available as payload, the other arguments
available by parameter name and services available through reference(name):

	lower(payload)
	payload.address.street
	reference('converter').convert(payload)
	name === 'Johny' ? 'admin' : 'user'

ConvertTo converts the bound value to application/json, application/x-yaml or
text/plain before it is sent to the database. Collection parameters are
expanded into one placeholder per element, so that they can be used in IN
lists. Method level Bindings bind placeholders that no parameter provides.

# Connections

Plans execute on a [connection.Factory]. Wrapping the factory in a
[connection.Manager] makes sure that the connection is reopened before
every execution, so that a write method never runs on a connection that the
server dropped:

	manager := connection.NewManager(factory)
	outcome, err := plan.Execute(ctx, manager, 1, "Johny")

# Gateways

A Registry holds plans by name, loads them from YAML declaration files and
fills structs of funcs with write methods:

	var api PersonWriteAPI
	err := registry.Implement(&api, manager)
	err = api.Insert(ctx, 1, "Johny")
*/
package dbal
