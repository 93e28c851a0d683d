package sqldsl

import (
	"strconv"
	"strings"
)

// Parameter is one positional parameter of a rendered command.
type Parameter struct {
	Value  any    // value sent to the database
	DBType string // declared PostgreSQL type, empty when inferred
	// Source is the constant the value was derived from. Compiled queries
	// substitute a new Source and rerun Transform to get the new Value.
	Source    any
	Transform func(any) (any, error)
}

// Bind returns a copy of p carrying source, transformed when p has a
// Transform.
func (p Parameter) Bind(source any) (Parameter, error) {
	p.Source = source
	if p.Transform == nil {
		p.Value = source
		return p, nil
	}
	v, err := p.Transform(source)
	if err != nil {
		return Parameter{}, err
	}
	p.Value = v
	return p, nil
}

// Builder accumulates SQL text and numbers parameters $1..$n in the order
// they are appended. Child builders share the parameter list, so nested
// statements rendered through a child keep first-seen numbering.
type Builder struct {
	sb     strings.Builder
	params *[]Parameter
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{params: new([]Parameter)}
}

// Child returns a builder with its own text that numbers parameters in
// sequence with b.
func (b *Builder) Child() *Builder {
	return &Builder{params: b.params}
}

// Append writes trusted SQL text.
func (b *Builder) Append(sql ...string) {
	for _, s := range sql {
		b.sb.WriteString(s)
	}
}

// AppendParameter writes the next placeholder for p and records it. cast
// appends ::DBType to the placeholder.
func (b *Builder) AppendParameter(p Parameter, cast bool) {
	*b.params = append(*b.params, p)
	b.sb.WriteString("$")
	b.sb.WriteString(strconv.Itoa(len(*b.params)))
	if cast && p.DBType != "" {
		b.sb.WriteString("::")
		b.sb.WriteString(p.DBType)
	}
}

// String returns the SQL text written so far.
func (b *Builder) String() string {
	return b.sb.String()
}

// Parameters returns the parameters recorded so far.
func (b *Builder) Parameters() []Parameter {
	return *b.params
}

// Fragment is a renderable piece of SQL. Rendering never inspects sibling
// fragments.
type Fragment interface {
	Apply(b *Builder)
}

// Render renders f into a fresh builder.
func Render(f Fragment) (string, []Parameter) {
	b := NewBuilder()
	f.Apply(b)
	return b.String(), b.Parameters()
}

// Command is a finalized statement: SQL text plus ordered parameters.
type Command struct {
	SQL        string
	Parameters []Parameter
}

// Args returns the parameter values in placeholder order.
func (c Command) Args() []any {
	args := make([]any, len(c.Parameters))
	for i, p := range c.Parameters {
		args[i] = p.Value
	}
	return args
}

// QueryStatistics receives the total number of rows a paged query would have
// returned without its LIMIT and OFFSET.
type QueryStatistics struct {
	TotalResults int64
}

// Record stores the total for the current execution.
func (s *QueryStatistics) Record(total int64) {
	if s != nil {
		s.TotalResults = total
	}
}

// IndentLines adds the given indent prefix to each line of input.
func IndentLines(input, indent string) string {
	if input == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(input), "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
