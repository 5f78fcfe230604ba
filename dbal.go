// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dbal

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/charmbracelet/log"

	"github.com/sktrendla/ecotone-dev/connection"
	"github.com/sktrendla/ecotone-dev/internal/expr"
	"github.com/sktrendla/ecotone-dev/internal/metrics"
	"github.com/sktrendla/ecotone-dev/internal/template"
)

// ReturnContract is what a write method returns.
type ReturnContract int

const (
	// ReturnsVoid write methods return nothing.
	ReturnsVoid ReturnContract = iota
	// ReturnsAffectedRows write methods return the number of affected rows.
	ReturnsAffectedRows
)

func (r ReturnContract) String() string {
	if r == ReturnsAffectedRows {
		return "affected_rows"
	}
	return "void"
}

// Parameter is a formal parameter of a write method. By default the argument
// is bound to the placeholder with the parameter's name.
type Parameter struct {
	Name string
	// Type, if set, must be assignable from the argument.
	Type reflect.Type
	// Collection parameters take a slice that is expanded into a list of
	// placeholders unless it is converted.
	Collection bool
	// BindAs is the placeholder the parameter is bound to, if it is not
	// Name.
	BindAs string
	// Expression computes the bound value. The argument is available in it
	// as payload.
	Expression string
	// ConvertTo is the media type the bound value is converted to.
	ConvertTo string
}

// Binding is a method level binding. It binds a placeholder that no
// parameter provides, or replaces the binding of the parameter bound to the
// same placeholder.
type Binding struct {
	Name       string
	Expression string
	ConvertTo  string
}

// Declaration describes a write method: its SQL, with placeholders written
// as :name, and how each placeholder gets its value.
type Declaration struct {
	Name       string
	SQL        string
	Parameters []Parameter
	Bindings   []Binding
	Returns    ReturnContract
}

// Option configures compilation and registries.
type Option func(*options)

type options struct {
	references expr.References
	logger     *log.Logger
}

func newOptions(opts []Option) *options {
	o := &options{logger: log.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithReferences sets the services reachable from expressions through
// reference(name).
func WithReferences(services map[string]any) Option {
	return func(o *options) {
		o.references = expr.ReferenceMap(services)
	}
}

// WithLogger sets the logger of executed write methods.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Plan is a compiled write method. A Plan is immutable and safe for
// concurrent use.
type Plan struct {
	decl     Declaration
	tmpl     *template.Template
	bindings []*binding
	opts     *options
}

// Compile validates decl and prepares it for execution. The SQL and every
// expression are parsed once here. Compile fails if a placeholder of the SQL
// has no binding.
func Compile(decl Declaration, opts ...Option) (*Plan, error) {
	tmpl, err := template.Parse(decl.SQL)
	if err != nil {
		return nil, fmt.Errorf("cannot compile %s: %w", decl.Name, err)
	}
	bindings, err := compileBindings(decl, tmpl)
	if err != nil {
		return nil, err
	}
	return &Plan{
		decl:     decl,
		tmpl:     tmpl,
		bindings: bindings,
		opts:     newOptions(opts),
	}, nil
}

// MustCompile is the same as [Compile] except that it panics on error.
func MustCompile(decl Declaration, opts ...Option) *Plan {
	p, err := Compile(decl, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the name of the declaration the plan was compiled from.
func (p *Plan) Name() string {
	return p.decl.Name
}

// Declaration returns the declaration the plan was compiled from.
func (p *Plan) Declaration() Declaration {
	return p.decl
}

// Bind resolves the value of every placeholder for args. Collection values
// are returned as []any.
func (p *Plan) Bind(args ...any) (map[string]any, error) {
	values, err := p.resolve(args)
	if err != nil {
		return nil, err
	}
	for k, v := range values {
		if list, ok := v.(template.List); ok {
			values[k] = []any(list)
		}
	}
	return values, nil
}

// Outcome is the result of an executed write method.
type Outcome struct {
	returns ReturnContract
	rows    int64
}

// Value returns nil for void write methods and the number of affected rows
// as an int64 otherwise.
func (o Outcome) Value() any {
	if o.returns == ReturnsAffectedRows {
		return o.rows
	}
	return nil
}

// RowsAffected returns the number of rows affected by the statement.
func (o Outcome) RowsAffected() int64 {
	return o.rows
}

// Execute resolves the arguments, obtains a context from f and executes the
// statement on it. Pass a [connection.Manager] as f to have the connection
// reopened before use.
func (p *Plan) Execute(ctx context.Context, f connection.Factory, args ...any) (outcome Outcome, err error) {
	logger := p.opts.logger.With("method", p.decl.Name)
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			logger.Warn("write method failed", "err", err)
		}
		metrics.Statements.WithLabelValues(p.decl.Name, result).Inc()
	}()

	values, err := p.resolve(args)
	if err != nil {
		return Outcome{}, err
	}

	cx, err := f.CreateContext(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("cannot execute %s: %w", p.decl.Name, err)
	}
	style := template.Question
	if d, ok := cx.(connection.Dialecter); ok && d.Dialect() == connection.DollarDialect {
		style = template.Dollar
	}
	query, queryArgs, err := p.tmpl.Build(style, values)
	if err != nil {
		return Outcome{}, fmt.Errorf("cannot execute %s: %w", p.decl.Name, err)
	}

	var res sql.Result
	if pr, ok := cx.(connection.Preparer); ok {
		var stmt *sql.Stmt
		stmt, err = pr.Prepared(ctx, query)
		if err == nil {
			res, err = stmt.ExecContext(ctx, queryArgs...)
		}
	} else {
		res, err = cx.ExecContext(ctx, query, queryArgs...)
	}
	if err != nil {
		return Outcome{}, &StatementExecutionError{Declaration: p.decl.Name, SQL: p.decl.SQL, Bound: values, Err: err}
	}

	outcome = Outcome{returns: p.decl.Returns}
	rows, rowsErr := res.RowsAffected()
	if rowsErr != nil && p.decl.Returns == ReturnsAffectedRows {
		return Outcome{}, &StatementExecutionError{Declaration: p.decl.Name, SQL: p.decl.SQL, Bound: values, Err: rowsErr}
	}
	outcome.rows = rows
	logger.Debug("executed write method", "rows", rows)
	return outcome, nil
}
