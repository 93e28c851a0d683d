package locator_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/docql/pkg/locator"
)

func TestConvert_Numbers(t *testing.T) {
	tests := []struct {
		name   string
		dbType string
		in     any
		want   any
	}{
		{"int into bigint", "bigint", 7, int64(7)},
		{"uint into bigint", "bigint", uint32(7), int64(7)},
		{"integral float into bigint", "bigint", 3.0, int64(3)},
		{"negative float into integer", "integer", -12.0, int64(-12)},
		{"int into double", "double precision", 2, float64(2)},
		{"uint into real", "real", uint64(math.MaxUint64), float64(math.MaxUint64)},
		{"float into numeric", "numeric", 1.25, 1.25},
		{"smallint bound", "smallint", math.MaxInt16, int64(math.MaxInt16)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := locator.Locator{Kind: locator.Number, DBType: tt.dbType}
			got, err := loc.Convert(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvert_NumbersRejected(t *testing.T) {
	tests := []struct {
		name   string
		dbType string
		in     any
		msg    string
	}{
		{"fraction into bigint", "bigint", 1.5, "non-integral"},
		{"NaN into bigint", "bigint", math.NaN(), "non-integral"},
		{"uint64 beyond bigint", "bigint", uint64(math.MaxUint64), "out of range"},
		{"float beyond bigint", "bigint", 1e19, "out of range"},
		{"beyond integer", "integer", int64(math.MaxInt32) + 1, "out of range"},
		{"beyond smallint", "smallint", -40000, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := locator.Locator{Kind: locator.Number, DBType: tt.dbType}
			_, err := loc.Convert(tt.in)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestConvertSlice_RejectsFractions(t *testing.T) {
	loc := locator.Locator{Kind: locator.Number, DBType: "bigint"}

	got, err := loc.ConvertSlice([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got)

	_, err = loc.ConvertSlice([]float64{1, 2.5})
	require.Error(t, err)
}
