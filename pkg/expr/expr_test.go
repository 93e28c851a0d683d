package expr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/docql/internal/errs"
)

type color int

const (
	red color = iota
	blue
)

func (c color) String() string {
	if c == blue {
		return "Blue"
	}
	return "Red"
}

type child struct {
	Name  string
	Score int
}

type target struct {
	Number   int
	String   string
	Flag     *bool
	Color    color
	Tags     []string
	Children []child
	Attrs    map[string]string
	Inner    *target
	Date     time.Time
}

func boolPtr(b bool) *bool { return &b }

func TestField_SplitsDottedPaths(t *testing.T) {
	assert.Equal(t, []string{"Inner", "String"}, Field("Inner.String").Path)
	assert.Equal(t, []string{"Inner", "String"}, Field("Inner", "String").Path)
	assert.Empty(t, It().Path)
	assert.Equal(t, []string{"Attrs", "Keys"}, Keys(Field("Attrs")).Path)
	assert.Equal(t, []string{"Attrs", "[color]"}, Entry(Field("Attrs"), "color").Path)
}

func TestKeys_DoesNotAliasParentPath(t *testing.T) {
	base := Member{Path: make([]string, 1, 4)}
	base.Path[0] = "Attrs"
	keys := Keys(base)
	values := Values(base)
	assert.Equal(t, []string{"Attrs", "Keys"}, keys.Path)
	assert.Equal(t, []string{"Attrs", "Values"}, values.Path)
}

func TestNode_String(t *testing.T) {
	n := And(
		Eq(Field("Number"), Val(1)),
		Not(Contains(Field("String"), "foo", IgnoreCase)),
	)
	assert.Equal(t, `(Number == 1 && !(String.Contains("foo", 1)))`, n.String())
	assert.Equal(t, "document.IsDeleted()", IsDeleted().String())
}

func TestAnd_DropsNilOperands(t *testing.T) {
	n := And(nil, Eq(Field("Number"), Val(1)), nil)
	assert.Len(t, n.Operands, 1)
}

func TestCompareOp_NegateAndMirror(t *testing.T) {
	tests := []struct {
		op     CompareOp
		negate CompareOp
		mirror CompareOp
	}{
		{OpEq, OpNe, OpEq},
		{OpNe, OpEq, OpNe},
		{OpLt, OpGe, OpGt},
		{OpLe, OpGt, OpGe},
		{OpGt, OpLe, OpLt},
		{OpGe, OpLt, OpLe},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			assert.Equal(t, tt.negate, tt.op.Negate())
			assert.Equal(t, tt.mirror, tt.op.Mirror())
		})
	}
}

func TestMatch_RoundTrip(t *testing.T) {
	docs := []target{
		{Number: 1, String: "Foo"},
		{Number: 2, String: "Foo"},
		{Number: 1, String: "Bar"},
	}

	and := And(Eq(Field("Number"), Val(1)), Eq(Field("String"), Val("Foo")))
	or := Or(Eq(Field("Number"), Val(1)), Eq(Field("String"), Val("Foo")))

	var andHits, orHits []int
	for i, d := range docs {
		ok, err := Match(and, d)
		require.NoError(t, err)
		if ok {
			andHits = append(andHits, i)
		}
		ok, err = Match(or, d)
		require.NoError(t, err)
		if ok {
			orHits = append(orHits, i)
		}
	}
	assert.Equal(t, []int{0}, andHits)
	assert.Equal(t, []int{0, 1}, orHits)
}

func TestMatch_ThreeValuedNegation(t *testing.T) {
	docs := map[string]target{
		"null":  {},
		"true":  {Flag: boolPtr(true)},
		"false": {Flag: boolPtr(false)},
	}

	tests := []struct {
		name string
		pred Node
		want []string
	}{
		{name: "bare flag", pred: Field("Flag"), want: []string{"true"}},
		{name: "negated flag", pred: Not(Field("Flag")), want: []string{"false"}},
		{name: "flag equals false", pred: Eq(Field("Flag"), Val(false)), want: []string{"false"}},
		{name: "negated equality", pred: Not(Eq(Field("Flag"), Val(true))), want: []string{"false", "null"}},
		{name: "not equal", pred: Ne(Field("Flag"), Val(true)), want: []string{"false", "null"}},
		{name: "is null", pred: IsNull(Field("Flag")), want: []string{"null"}},
		{name: "double negation", pred: Not(Not(Field("Flag"))), want: []string{"true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, name := range []string{"false", "null", "true"} {
				ok, err := Match(tt.pred, docs[name])
				require.NoError(t, err)
				if ok {
					got = append(got, name)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_Calls(t *testing.T) {
	doc := target{
		Number:   3,
		String:   "Hello World",
		Color:    blue,
		Tags:     []string{"a", "b"},
		Children: []child{{Name: "x", Score: 5}, {Name: "y", Score: 9}},
		Attrs:    map[string]string{"size": "L"},
		Inner:    &target{String: "  "},
	}

	tests := []struct {
		name string
		pred Node
		want bool
	}{
		{"contains", Contains(Field("String"), "World"), true},
		{"contains case", Contains(Field("String"), "world"), false},
		{"contains ignore case", Contains(Field("String"), "world", IgnoreCase), true},
		{"starts with", StartsWith(Field("String"), "Hello"), true},
		{"ends with", EndsWith(Field("String"), "Hello"), false},
		{"equals fold", EqualsFold(Field("String"), "HELLO WORLD"), true},
		{"whitespace", IsNullOrWhiteSpace(Field("Inner.String")), true},
		{"empty", IsNullOrEmpty(Field("Inner.String")), false},
		{"null string through nil pointer", IsNullOrEmpty(Field("Inner.Inner.String")), true},
		{"is one of", IsOneOf(Field("Number"), []int{1, 3}), true},
		{"in", In([]int{4, 5}, Field("Number")), false},
		{"collection contains", CollectionContains(Field("Tags"), "b"), true},
		{"any", Any(Field("Tags")), true},
		{"any match", AnyMatch(Field("Children"), Gt(Field("Score"), Val(8))), true},
		{"any match none", AnyMatch(Field("Children"), Eq(Field("Name"), Val("z"))), false},
		{"value element", AnyMatch(Field("Tags"), Eq(It(), Val("a"))), true},
		{"is empty", IsEmpty(Field("Inner.Tags")), true},
		{"count", Eq(Count(Field("Children")), Val(2)), true},
		{"length", Gt(Length(Field("String")), Val(10)), true},
		{"to lower", Eq(ToLower(Field("String")), Val("hello world")), true},
		{"contains key", ContainsKey(Field("Attrs"), "size"), true},
		{"contains entry", ContainsEntry(Field("Attrs"), "size", "M"), false},
		{"keys contains", CollectionContains(Keys(Field("Attrs")), "size"), true},
		{"entry", Eq(Entry(Field("Attrs"), "size"), Val("L")), true},
		{"enum by name", Eq(Field("Color"), Val("Blue")), true},
		{"enum by value", Eq(Field("Color"), Val(blue)), true},
		{"lt with null", Lt(Field("Inner.Inner.Number"), Val(3)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.pred, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_Errors(t *testing.T) {
	doc := target{Number: 1}

	_, err := Match(Eq(Field("Number"), Val("one")), doc)
	assert.ErrorIs(t, err, errs.ErrTypeMismatch)

	_, err = Match(Eq(Field("Missing"), Val(1)), doc)
	assert.ErrorIs(t, err, errs.ErrUnsupportedExpression)

	for _, marker := range []Node{
		MatchesSQL("d.data ->> 'x' = ?", "y"),
		PlainTextSearch("foo"),
		IsDeleted(),
		TenantIsOneOf("a"),
	} {
		_, err = Match(marker, doc)
		assert.ErrorIs(t, err, errs.ErrNotSupportedDirectInvocation, marker.String())
	}
}
