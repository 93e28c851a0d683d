package schema_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/docql/pkg/schema"
)

type Target struct {
	Number    int
	String    string
	OtherName string `json:"other"`
	Hidden    string `json:"-"`
}

type UserAccount struct {
	ID string
}

func TestRegistry_DefaultTable(t *testing.T) {
	reg := schema.NewRegistry()

	assert.Equal(t, "mt_doc_user_account", reg.TableFor(reflect.TypeFor[UserAccount]()))
	assert.Equal(t, "mt_doc_user_account", reg.TableFor(reflect.TypeFor[*UserAccount]()))
	assert.False(t, reg.SoftDeleted(reflect.TypeFor[UserAccount]()))
	assert.Equal(t, schema.JSONOnly, reg.StorageFor(reflect.TypeFor[UserAccount](), []string{"ID"}))
}

func TestRegistry_Register(t *testing.T) {
	reg := schema.NewRegistry("Docs")
	schema.Register[Target](reg,
		schema.Table("Targets"),
		schema.Duplicate("Number", "number", "integer"),
		schema.SoftDeleted(),
		schema.MultiTenanted(),
	)
	typ := reflect.TypeFor[Target]()

	assert.Equal(t, `"Docs"."Targets"`, reg.TableFor(typ))
	assert.True(t, reg.SoftDeleted(typ))
	assert.True(t, reg.MultiTenant(typ))

	s := reg.StorageFor(typ, []string{"Number"})
	assert.True(t, s.IsDuplicated())
	assert.Equal(t, "integer", s.DBType)
	assert.False(t, reg.StorageFor(typ, []string{"String"}).IsDuplicated())
	require.NoError(t, reg.Validate())
}

func TestRegistry_ValidateAggregatesProblems(t *testing.T) {
	reg := schema.NewRegistry()
	schema.Register[Target](reg,
		schema.Table("shared"),
		schema.Duplicate("Number", "data", "integer"),
	)
	schema.Register[UserAccount](reg, schema.Table("shared"))
	reg.RegisterType(reflect.TypeFor[int](), schema.Table("ints"))

	err := reg.Validate()
	require.Error(t, err)
	assert.True(t, schema.IsInvalidMappingErr(err))
	assert.Contains(t, err.Error(), "column data is reserved")
	assert.Contains(t, err.Error(), "table shared already used")
	assert.Contains(t, err.Error(), "document type must be a struct")
}

func TestConventions_JSONName(t *testing.T) {
	tests := []struct {
		casing schema.Casing
		want   string
	}{
		{schema.AsIs, "OtherName"},
		{schema.CamelCase, "otherName"},
		{schema.SnakeCase, "other_name"},
	}
	for _, tt := range tests {
		t.Run(tt.casing.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, schema.Conventions{Casing: tt.casing}.JSONName("OtherName"))
		})
	}
}

func TestJSONSerializer_Casing(t *testing.T) {
	s := schema.NewSerializer(schema.Conventions{Casing: schema.SnakeCase})

	data, err := s.Marshal(Target{Number: 1, String: "x", OtherName: "y", Hidden: "z"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"number":1,"string":"x","other":"y"}`, string(data))

	var back Target
	require.NoError(t, s.Unmarshal(data, &back))
	assert.Equal(t, Target{Number: 1, String: "x", OtherName: "y"}, back)
}

func TestParseConventions(t *testing.T) {
	c, ok := schema.ParseCasing("camel")
	assert.True(t, ok)
	assert.Equal(t, schema.CamelCase, c)

	_, ok = schema.ParseCasing("kebab")
	assert.False(t, ok)

	e, ok := schema.ParseEnumStorage("string")
	assert.True(t, ok)
	assert.Equal(t, schema.AsString, e)
}
