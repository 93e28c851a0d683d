package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/docql/internal/cli"
)

const definitionsYAML = `
types:
  - name: Order
    fields:
      - {name: Total, type: float64}
      - {name: Status, type: string}
queries:
  - {name: open, document: Order, where: "Status == 'open'", take: 10}
  - {name: broken, document: Order, where: "Missing > 1"}
`

func writeDefinitions(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queries.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitionsYAML), 0o644))
	return path
}

func withConfig(t *testing.T, c *cli.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestPreview(t *testing.T) {
	withConfig(t, &cli.Config{})
	set, err := loadDefinitions(writeDefinitions(t))
	require.NoError(t, err)
	s, err := newStore(set, nil)
	require.NoError(t, err)

	entries, failed := preview(s, set, set.Names())
	assert.Equal(t, 1, failed)
	require.Len(t, entries, 2)

	open := entries[0]
	assert.Equal(t, "Order", open.Document)
	assert.Contains(t, open.SQL, "FROM mt_doc_order AS d")
	require.Len(t, open.Parameters, 2)
	assert.Equal(t, previewParam{Position: 1, Type: "string", Value: "open"}, open.Parameters[0])
	assert.Equal(t, previewParam{Position: 2, Type: "int64", Value: int64(10)}, open.Parameters[1])
	assert.Empty(t, open.Error)

	assert.NotEmpty(t, entries[1].Error)
	assert.Empty(t, entries[1].SQL)

	out := renderPreview(open)
	assert.Contains(t, out, "open")
	assert.Contains(t, out, "-- $1 string open")

	unknown, failed := preview(s, set, []string{"nope"})
	assert.Equal(t, 1, failed)
	assert.Contains(t, unknown[0].Error, `unknown query "nope"`)
}

func TestNewStore_BadConventions(t *testing.T) {
	withConfig(t, &cli.Config{Casing: "kebab"})
	set, err := loadDefinitions(writeDefinitions(t))
	require.NoError(t, err)

	_, err = newStore(set, nil)
	var exit *cli.ExitError
	require.ErrorAs(t, err, &exit)
}

func TestLoadDefinitions_Missing(t *testing.T) {
	withConfig(t, &cli.Config{})
	_, err := loadDefinitions(filepath.Join(t.TempDir(), "none.yaml"))
	var exit *cli.ExitError
	require.ErrorAs(t, err, &exit)
}

func TestResolveString(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"flag wins", []string{"flag", "config", "default"}, "flag"},
		{"config fallback", []string{"", "config", "default"}, "config"},
		{"default fallback", []string{"", "", "default"}, "default"},
		{"all empty", []string{"", ""}, ""},
		{"no values", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveString(tt.values...))
		})
	}
}

func TestResolveBool(t *testing.T) {
	assert.True(t, resolveBool(false, true))
	assert.False(t, resolveBool(false, false))
	assert.False(t, resolveBool())
}
