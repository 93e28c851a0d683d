package locator_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/pkg/locator"
	"github.com/pthm/docql/pkg/schema"
)

type Color int

const (
	Red Color = iota
	Blue
)

func (c Color) String() string {
	if c == Blue {
		return "Blue"
	}
	return "Red"
}

type Address struct {
	City string `json:"city"`
	Zip  *int
}

type Item struct {
	Name  string
	Price float64
}

type Group struct {
	Label string
	Items []Item
}

type Target struct {
	ID        uuid.UUID
	Number    int
	Small     int16
	Double    float64
	String    string
	OtherName string `json:"other_name,omitempty"`
	Flag      *bool
	Color     Color
	Date      time.Time
	Address   *Address
	Tags      []string
	Groups    []Group
	Attrs     map[string]string
	Extra     json.RawMessage
	Callback  func()
	Skipped   string `json:"-"`
}

func resolver(conv schema.Conventions) *locator.Resolver {
	reg := schema.NewRegistry()
	schema.Register[Target](reg, schema.Duplicate("Number", "number", "integer"))
	return locator.NewResolver(reg, conv)
}

func TestResolve_Scalars(t *testing.T) {
	r := resolver(schema.Conventions{})
	root := locator.Root{Type: reflect.TypeFor[Target](), Expr: "d.data"}

	tests := []struct {
		path     []string
		wantSQL  string
		wantKind locator.Kind
		nullable bool
	}{
		{[]string{"String"}, "d.data ->> 'String'", locator.String, false},
		{[]string{"Number"}, "CAST(d.data ->> 'Number' as bigint)", locator.Number, false},
		{[]string{"Small"}, "CAST(d.data ->> 'Small' as integer)", locator.Number, false},
		{[]string{"Double"}, "CAST(d.data ->> 'Double' as double precision)", locator.Number, false},
		{[]string{"Flag"}, "CAST(d.data ->> 'Flag' as boolean)", locator.Boolean, true},
		{[]string{"Date"}, "CAST(d.data ->> 'Date' as timestamptz)", locator.DateTime, false},
		{[]string{"ID"}, "CAST(d.data ->> 'ID' as uuid)", locator.UUID, false},
		{[]string{"Color"}, "CAST(d.data ->> 'Color' as integer)", locator.Enum, false},
		{[]string{"OtherName"}, "d.data ->> 'other_name'", locator.String, true},
		{[]string{"Address", "City"}, "d.data -> 'Address' ->> 'city'", locator.String, true},
		{[]string{"Address", "Zip"}, "CAST(d.data -> 'Address' ->> 'Zip' as bigint)", locator.Number, true},
		{[]string{"Attrs", "[size]"}, "d.data -> 'Attrs' ->> 'size'", locator.String, true},
		{[]string{"Extra"}, "d.data -> 'Extra'", locator.RawJSON, false},
	}

	for _, tt := range tests {
		t.Run(tt.wantSQL, func(t *testing.T) {
			loc, err := r.Resolve(root, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, loc.SQL)
			assert.Equal(t, tt.wantKind, loc.Kind)
			assert.Equal(t, tt.nullable, loc.Nullability.Nullable())
		})
	}
}

func TestResolve_Conventions(t *testing.T) {
	root := locator.Root{Type: reflect.TypeFor[Target](), Expr: "d.data"}

	snake, err := resolver(schema.Conventions{Casing: schema.SnakeCase}).Resolve(root, []string{"Address", "Zip"})
	require.NoError(t, err)
	assert.Equal(t, "CAST(d.data -> 'address' ->> 'zip' as bigint)", snake.SQL)

	camel, err := resolver(schema.Conventions{Casing: schema.CamelCase}).Resolve(root, []string{"OtherName"})
	require.NoError(t, err)
	assert.Equal(t, "d.data ->> 'other_name'", camel.SQL, "json tag wins over casing")

	enum, err := resolver(schema.Conventions{EnumStorage: schema.AsString}).Resolve(root, []string{"Color"})
	require.NoError(t, err)
	assert.Equal(t, "d.data ->> 'Color'", enum.SQL)
	assert.False(t, enum.CastRequired)
}

func TestResolve_DuplicatedColumnOnlyAtBase(t *testing.T) {
	r := resolver(schema.Conventions{})

	base, err := r.Resolve(locator.BaseRoot(reflect.TypeFor[Target]()), []string{"Number"})
	require.NoError(t, err)
	assert.Equal(t, "d.number", base.SQL)
	assert.Equal(t, "integer", base.DBType)
	assert.True(t, base.Duplicated)

	cte, err := r.Resolve(locator.Root{Type: reflect.TypeFor[Target](), Expr: "c.data"}, []string{"Number"})
	require.NoError(t, err)
	assert.Equal(t, "CAST(c.data ->> 'Number' as bigint)", cte.SQL)
}

func TestResolve_Collections(t *testing.T) {
	r := resolver(schema.Conventions{})
	root := locator.BaseRoot(reflect.TypeFor[Target]())

	tags, err := r.Resolve(root, []string{"Tags"})
	require.NoError(t, err)
	assert.Equal(t, locator.ValueCollection, tags.Kind)
	assert.Equal(t, "d.data -> 'Tags'", tags.JSONB)
	elements, ok := tags.Elements()
	require.True(t, ok)
	assert.Equal(t,
		"jsonb_array_elements(CASE WHEN jsonb_typeof(d.data -> 'Tags') = 'array' THEN d.data -> 'Tags' ELSE '[]'::jsonb END)",
		elements)

	groups, err := r.Resolve(root, []string{"Groups"})
	require.NoError(t, err)
	assert.Equal(t, locator.DocumentCollection, groups.Kind)
	assert.Equal(t, reflect.TypeFor[Group](), groups.Element)

	elem, err := r.Resolve(tags.ElementRoot("c.data"), nil)
	require.NoError(t, err)
	assert.Equal(t, "c.data #>> '{}'", elem.SQL)

	keys, err := r.Resolve(root, []string{"Attrs", "Keys"})
	require.NoError(t, err)
	assert.Equal(t, locator.KeysAxis, keys.Axis)
	elements, ok = keys.Elements()
	require.True(t, ok)
	assert.Contains(t, elements, "'strict $.keyvalue().key'")

	values, err := r.Resolve(root, []string{"Attrs", "Values"})
	require.NoError(t, err)
	elements, ok = values.Elements()
	require.True(t, ok)
	assert.Contains(t, elements, "'strict $.*'")

	_, ok = (locator.Locator{Kind: locator.String}).Elements()
	assert.False(t, ok)
}

func TestResolve_Errors(t *testing.T) {
	r := resolver(schema.Conventions{})
	root := locator.BaseRoot(reflect.TypeFor[Target]())

	_, err := r.Resolve(root, []string{"Callback"})
	assert.ErrorIs(t, err, errs.ErrUnsupportedMemberKind)

	_, err = r.Resolve(root, []string{"Nope"})
	assert.ErrorIs(t, err, errs.ErrUnsupportedExpression)

	_, err = r.Resolve(root, []string{"Skipped"})
	assert.ErrorIs(t, err, errs.ErrUnsupportedExpression)

	_, err = r.Resolve(root, []string{"String", "Length"})
	assert.ErrorIs(t, err, errs.ErrUnsupportedMemberKind)

	_, err = r.Resolve(root, []string{"Attrs", "Keys", "X"})
	assert.ErrorIs(t, err, errs.ErrUnsupportedExpression)
}

func TestResolve_Deterministic(t *testing.T) {
	root := locator.BaseRoot(reflect.TypeFor[Target]())
	path := []string{"Address", "City"}

	first, err := resolver(schema.Conventions{}).Resolve(root, path)
	require.NoError(t, err)

	r := resolver(schema.Conventions{})
	for i := 0; i < 3; i++ {
		loc, err := r.Resolve(root, path)
		require.NoError(t, err)
		assert.Equal(t, first.SQL, loc.SQL)
	}
}
