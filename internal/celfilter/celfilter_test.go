package celfilter_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/docql/internal/celfilter"
	"github.com/pthm/docql/internal/testdocs"
	"github.com/pthm/docql/pkg/expr"
)

var targetType = reflect.TypeFor[testdocs.Target]()

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		want   expr.Node
	}{
		{
			name:   "comparison",
			filter: `Number > 3`,
			want:   expr.Gt(expr.Field("Number"), expr.Val(int64(3))),
		},
		{
			name:   "negative literal",
			filter: `Double <= -1.5`,
			want:   expr.Le(expr.Field("Double"), expr.Val(-1.5)),
		},
		{
			name:   "null",
			filter: `Flag == null`,
			want:   expr.Eq(expr.Field("Flag"), expr.Val(nil)),
		},
		{
			name:   "nested member and logic",
			filter: `Address.City == "Leeds" || !Active`,
			want: expr.Or(
				expr.Eq(expr.Field("Address", "City"), expr.Val("Leeds")),
				expr.Not(expr.Field("Active")),
			),
		},
		{
			name:   "in list",
			filter: `String in ["a", "b"]`,
			want:   expr.IsOneOf(expr.Field("String"), []any{"a", "b"}),
		},
		{
			name:   "literal in collection",
			filter: `"red" in Tags`,
			want:   expr.CollectionContains(expr.Field("Tags"), "red"),
		},
		{
			name:   "string methods",
			filter: `String.startsWith("ab") && OtherName.endsWithIgnoreCase("Z")`,
			want: expr.And(
				expr.StartsWith(expr.Field("String"), "ab"),
				expr.EndsWith(expr.Field("OtherName"), "Z", expr.IgnoreCase),
			),
		},
		{
			name:   "contains on a string",
			filter: `String.contains("x")`,
			want:   expr.Contains(expr.Field("String"), "x"),
		},
		{
			name:   "contains on a collection",
			filter: `Tags.contains("x")`,
			want:   expr.CollectionContains(expr.Field("Tags"), "x"),
		},
		{
			name:   "size of a collection",
			filter: `size(Tags) == 2`,
			want:   expr.Eq(expr.Count(expr.Field("Tags")), expr.Val(int64(2))),
		},
		{
			name:   "size of a string",
			filter: `String.size() > 4`,
			want:   expr.Gt(expr.Length(expr.Field("String")), expr.Val(int64(4))),
		},
		{
			name:   "dictionary entry",
			filter: `Attrs["color"] == "red"`,
			want:   expr.Eq(expr.Entry(expr.Field("Attrs"), "color"), expr.Val("red")),
		},
		{
			name:   "dictionary methods",
			filter: `Attrs.containsKey("a") && Counts.containsEntry("b", 2)`,
			want: expr.And(
				expr.ContainsKey(expr.Field("Attrs"), "a"),
				expr.ContainsEntry(expr.Field("Counts"), "b", expr.Val(int64(2))),
			),
		},
		{
			name:   "exists over scalars",
			filter: `Tags.exists(t, t.startsWith("a"))`,
			want:   expr.AnyMatch(expr.Field("Tags"), expr.StartsWith(expr.It(), "a")),
		},
		{
			name:   "exists over structs",
			filter: `Groups.exists(g, size(g.Items) > 1)`,
			want:   expr.AnyMatch(expr.Field("Groups"), expr.Gt(expr.Count(expr.Field("Items")), expr.Val(int64(1)))),
		},
		{
			name:   "exists without a predicate",
			filter: `Numbers.exists()`,
			want:   expr.Any(expr.Field("Numbers")),
		},
		{
			name:   "timestamp",
			filter: `Date >= timestamp("2024-01-02T03:04:05Z")`,
			want:   expr.Ge(expr.Field("Date"), expr.Val(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))),
		},
		{
			name:   "document markers",
			filter: `isDeleted() || tenantIn(["a", "b"])`,
			want:   expr.Or(expr.IsDeleted(), expr.TenantIsOneOf("a", "b")),
		},
		{
			name:   "search",
			filter: `webSearch("big cat", "english")`,
			want:   expr.WebStyleSearch("big cat", "english"),
		},
		{
			name:   "null or empty",
			filter: `isNullOrEmpty(String)`,
			want:   expr.IsNullOrEmpty(expr.Field("String")),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := celfilter.Parse(tt.filter, targetType)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		filter string
	}{
		{name: "syntax", filter: `Number >`},
		{name: "unknown function", filter: `frobnicate(Number)`},
		{name: "unknown method", filter: `String.frobnicate()`},
		{name: "outer member inside exists", filter: `Tags.exists(t, Number > 1)`},
		{name: "non-literal list", filter: `Number in [Small]`},
		{name: "computed key", filter: `Attrs[String] == "x"`},
		{name: "bad timestamp", filter: `Date > timestamp("yesterday")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := celfilter.Parse(tt.filter, targetType)
			var ferr *celfilter.Error
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, tt.filter, ferr.Filter)
		})
	}
}

func TestParse_Untyped(t *testing.T) {
	got, err := celfilter.Parse(`size(Name) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, expr.Eq(expr.Count(expr.Field("Name")), expr.Val(int64(0))), got)
}

func TestParseOrdering(t *testing.T) {
	o, err := celfilter.ParseOrdering("Address.City desc")
	require.NoError(t, err)
	assert.Equal(t, expr.Desc("Address.City"), o)

	o, err = celfilter.ParseOrdering("Number")
	require.NoError(t, err)
	assert.Equal(t, expr.Asc("Number"), o)

	_, err = celfilter.ParseOrdering("Number sideways")
	assert.Error(t, err)
}
