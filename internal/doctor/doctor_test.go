package doctor_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/docql"
	"github.com/pthm/docql/internal/definitions"
	"github.com/pthm/docql/internal/doctor"
)

const defs = `
types:
  - name: Order
    soft_deleted: true
    fields:
      - {name: Total, type: float64}
      - {name: Status, type: string}
queries:
  - {name: large, document: Order, where: "Total > 10.0"}
  - {name: broken, document: Order, where: "Missing == 1"}
`

func setup(t *testing.T) (*doctor.Doctor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	set, err := definitions.Parse([]byte(defs), "")
	require.NoError(t, err)
	s, err := docql.NewStore(docql.WithMapping(set.Registry), docql.WithQuerier(db))
	require.NoError(t, err)
	return doctor.New(db, set, s, ""), mock
}

func TestRun_HealthyTable(t *testing.T) {
	d, mock := setup(t)

	mock.ExpectQuery(`SELECT c.relkind`).WithArgs("mt_doc_order", "").
		WillReturnRows(sqlmock.NewRows([]string{"relkind"}).AddRow("r"))
	mock.ExpectQuery(`SELECT a.attname`).WithArgs("mt_doc_order", "").
		WillReturnRows(sqlmock.NewRows([]string{"attname", "format_type"}).
			AddRow("id", "uuid").
			AddRow("data", "jsonb").
			AddRow("mt_deleted", "boolean"))
	mock.ExpectQuery(`FROM pg_indexes`).WithArgs("mt_doc_order", "").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`SELECT d.data`).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"Total": 12.5, "Status": "open"}`)))

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 4, report.Passed)
	assert.Equal(t, 1, report.Warnings)
	assert.Equal(t, 1, report.Errors)
	assert.True(t, report.HasErrors())

	byName := make(map[string]doctor.CheckResult)
	for _, c := range report.Checks {
		byName[c.Category+"/"+c.Name] = c
	}
	assert.Equal(t, doctor.StatusPass, byName["Queries/large"].Status)
	assert.Equal(t, doctor.StatusFail, byName["Queries/broken"].Status)
	assert.Equal(t, doctor.StatusWarn, byName["Table mt_doc_order/index"].Status)
	assert.Equal(t, doctor.StatusPass, byName["Table mt_doc_order/data"].Status)
}

func TestRun_MissingTable(t *testing.T) {
	d, mock := setup(t)

	mock.ExpectQuery(`SELECT c.relkind`).WithArgs("mt_doc_order", "").
		WillReturnRows(sqlmock.NewRows([]string{"relkind"}))

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	last := report.Checks[len(report.Checks)-1]
	assert.Equal(t, "exists", last.Name)
	assert.Equal(t, doctor.StatusFail, last.Status)
	assert.Contains(t, last.FixHint, "mt_deleted boolean")
}

func TestRun_MissingColumns(t *testing.T) {
	d, mock := setup(t)

	mock.ExpectQuery(`SELECT c.relkind`).
		WillReturnRows(sqlmock.NewRows([]string{"relkind"}).AddRow("v"))
	mock.ExpectQuery(`SELECT a.attname`).
		WillReturnRows(sqlmock.NewRows([]string{"attname", "format_type"}).AddRow("data", "json"))
	mock.ExpectQuery(`FROM pg_indexes`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`SELECT d.data`).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	report, err := d.Run(context.Background())
	require.NoError(t, err)

	var columns doctor.CheckResult
	for _, c := range report.Checks {
		if c.Name == "columns" {
			columns = c
		}
	}
	assert.Equal(t, doctor.StatusFail, columns.Status)
	assert.Contains(t, columns.Message, "column data is json, want jsonb")
	assert.Contains(t, columns.Message, "missing column mt_deleted")
}

func TestRun_NoDatabase(t *testing.T) {
	set, err := definitions.Parse([]byte(defs), "")
	require.NoError(t, err)
	s, err := docql.NewStore(docql.WithMapping(set.Registry))
	require.NoError(t, err)

	report, err := doctor.New(nil, set, s, "").Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Warnings)

	var out bytes.Buffer
	report.Print(&out, true)
	assert.Contains(t, out.String(), "Queries")
	assert.Contains(t, out.String(), "Summary: 1 passed, 1 warnings, 1 errors")
}
