package plancache

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pthm/docql/internal/errs"
	"github.com/pthm/docql/pkg/sqldsl"
)

// Slot maps one template field to the parameters it supplies.
type Slot struct {
	Field  int   // struct field index
	Params []int // indexes into Command.Parameters
}

// Plan is a planned template: the rendered command and where each field's
// value goes.
type Plan struct {
	Command    sqldsl.Command
	Slots      []Slot
	StatsField int  // field holding *sqldsl.QueryStatistics, -1 when none
	Statistics bool // the command carries a total_rows column

	// Handle is set by the caller before publishing. Every reader of the
	// cached plan gets the same Handle.
	Handle any
}

// Render builds the command for one template value.
type Render func(template reflect.Value) (sqldsl.Statement, error)

var (
	timeType  = reflect.TypeFor[time.Time]()
	uuidType  = reflect.TypeFor[uuid.UUID]()
	statsType = reflect.TypeFor[*sqldsl.QueryStatistics]()
)

// Build plans the template type t. render is called once per sentinel pass.
// Every field other than the statistics field must reach at least one
// parameter, and every parameter that varies with the fields must be exactly
// one field's value.
func Build(t reflect.Type, render Render) (*Plan, error) {
	if t.Kind() != reflect.Struct {
		return nil, errs.InvalidCompiled(t.String(), "compiled query templates must be structs")
	}
	statsField := -1
	bools := 0
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			return nil, errs.InvalidCompiled(t.String()+"."+f.Name, "template fields must be exported")
		}
		if f.Type == statsType {
			if statsField >= 0 {
				return nil, errs.InvalidCompiled(t.String()+"."+f.Name, "only one statistics field")
			}
			statsField = i
			continue
		}
		if !bindable(f.Type) {
			return nil, errs.InvalidCompiled(t.String()+"."+f.Name, "unsupported parameter type "+f.Type.String())
		}
		if f.Type.Kind() == reflect.Bool {
			bools++
		}
	}
	if bools > 1 {
		return nil, errs.InvalidCompiled(t.String(), "at most one bool field can be told apart")
	}

	var passes [3]sqldsl.Command
	var values [3]reflect.Value
	var stats bool
	for pass := range passes {
		v := reflect.New(t).Elem()
		for i := range t.NumField() {
			if i == statsField {
				continue
			}
			s, err := sentinel(t.Field(i).Type, pass, i)
			if err != nil {
				return nil, errs.InvalidCompiled(t.String()+"."+t.Field(i).Name, err.Error())
			}
			v.Field(i).Set(s)
		}
		stmt, err := render(v)
		if err != nil {
			return nil, err
		}
		passes[pass], values[pass], stats = stmt.Command(), v, stmt.Statistics
	}

	first := passes[0]
	for _, other := range passes[1:] {
		if first.SQL != other.SQL || len(first.Parameters) != len(other.Parameters) {
			return nil, errs.InvalidCompiled(t.String(), "the generated SQL depends on parameter values")
		}
	}

	// Slots come from the first two passes. The third pass checks them.
	plan := &Plan{Command: first, StatsField: statsField, Statistics: stats}
	second := passes[1]
	claimed := make([]bool, len(first.Parameters))
	for i := range t.NumField() {
		if i == statsField {
			continue
		}
		a, b := values[0].Field(i).Interface(), values[1].Field(i).Interface()
		slot := Slot{Field: i}
		for j := range first.Parameters {
			if reflect.DeepEqual(first.Parameters[j].Source, a) && reflect.DeepEqual(second.Parameters[j].Source, b) {
				slot.Params = append(slot.Params, j)
				claimed[j] = true
			}
		}
		if len(slot.Params) == 0 {
			return nil, errs.InvalidCompiled(t.String()+"."+t.Field(i).Name, "field is not bound to a parameter")
		}
		plan.Slots = append(plan.Slots, slot)
	}
	for j, ok := range claimed {
		if ok {
			continue
		}
		for _, other := range passes[1:] {
			if !reflect.DeepEqual(first.Parameters[j].Source, other.Parameters[j].Source) {
				return nil, errs.InvalidCompiled(t.String(), fmt.Sprintf("parameter $%d is derived from a field and cannot be rebound", j+1))
			}
		}
	}

	check, err := plan.Bind(values[2])
	if err != nil {
		return nil, err
	}
	for j, p := range passes[2].Parameters {
		if !reflect.DeepEqual(p.Value, check.Parameters[j].Value) {
			return nil, errs.InvalidCompiled(t.String(), fmt.Sprintf("parameter $%d is derived from a field and cannot be rebound", j+1))
		}
	}
	return plan, nil
}

// Bind returns the plan's command with template's field values substituted.
func (p *Plan) Bind(template reflect.Value) (sqldsl.Command, error) {
	params := slices.Clone(p.Command.Parameters)
	for _, s := range p.Slots {
		v := template.Field(s.Field).Interface()
		for _, j := range s.Params {
			bound, err := params[j].Bind(v)
			if err != nil {
				return sqldsl.Command{}, errs.Mismatch(template.Type().Field(s.Field).Name, err.Error())
			}
			params[j] = bound
		}
	}
	return sqldsl.Command{SQL: p.Command.SQL, Parameters: params}, nil
}

// Stats returns the statistics target of template, or nil.
func (p *Plan) Stats(template reflect.Value) *sqldsl.QueryStatistics {
	if p.StatsField < 0 {
		return nil
	}
	s, _ := template.Field(p.StatsField).Interface().(*sqldsl.QueryStatistics)
	return s
}

func bindable(t reflect.Type) bool {
	switch t {
	case timeType, uuidType:
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() != reflect.Bool && t.Elem().Kind() != reflect.Slice && bindable(t.Elem())
	}
	return false
}

// sentinel returns a value of type t unique to (pass, field). Field spacing
// changes from pass to pass, so a value derived from one field by small
// arithmetic never tracks another field's sentinel in every pass. Numbers are
// integral and fit a smallint so they survive conversion for any numeric
// member. Strings are valid UUIDs so they survive uuid member conversion.
func sentinel(t reflect.Type, pass, field int) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	switch t {
	case timeType:
		v.Set(reflect.ValueOf(time.Date(2001+pass, time.January, 1, 0, 0, field*(pass+1), 0, time.UTC)))
		return v, nil
	case uuidType:
		v.Set(reflect.ValueOf(sentinelUUID(pass, field)))
		return v, nil
	}
	switch t.Kind() {
	case reflect.String:
		v.SetString(sentinelUUID(pass, field).String())
	case reflect.Bool:
		v.SetBool(pass != 1)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := int64(sentinelNumber(t.Bits(), pass, field))
		if v.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("too many fields for a %s sentinel", t)
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := sentinelNumber(t.Bits(), pass, field)
		if v.OverflowUint(n) {
			return reflect.Value{}, fmt.Errorf("too many fields for a %s sentinel", t)
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		v.SetFloat(float64(sentinelNumber(16, pass, field)))
	case reflect.Slice:
		elem, err := sentinel(t.Elem(), pass, field)
		if err != nil {
			return reflect.Value{}, err
		}
		v = reflect.Append(reflect.MakeSlice(t, 0, 1), elem)
	default:
		return reflect.Value{}, fmt.Errorf("no sentinel for %s", t)
	}
	return v, nil
}

func sentinelNumber(bits, pass, field int) uint64 {
	p, f := uint64(pass), uint64(field)
	switch {
	case bits <= 8:
		return 3 + 40*p + f*(p+1)
	default:
		return 1000*(p+1) + f*(101+7*p)
	}
}

func sentinelUUID(pass, field int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "docql.sentinel.%d.%d", pass, field))
}
