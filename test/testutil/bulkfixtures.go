package testutil

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/pthm/docql/internal/testdocs"
	"github.com/pthm/docql/pkg/schema"
)

// spillThreshold is the document count above which generated rows are
// written to a temp file before COPY instead of held in memory.
const spillThreshold = 1_000_000

// BulkFixtures loads large document sets using PostgreSQL COPY FROM.
type BulkFixtures struct {
	db  *sql.DB
	ctx context.Context
	ser schema.Serializer
}

// NewBulkFixtures creates a new BulkFixtures instance for bulk data loading via COPY FROM.
func NewBulkFixtures(ctx context.Context, db *sql.DB) *BulkFixtures {
	return &BulkFixtures{db: db, ctx: ctx, ser: schema.NewSerializer(schema.Conventions{})}
}

// copyFrom executes a COPY FROM operation using the pgx driver.
// data should be a tab-delimited text stream (one row per line).
func (bf *BulkFixtures) copyFrom(table string, columns []string, data io.Reader) error {
	conn, err := bf.db.Conn(bf.ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	var pgxConn *pgx.Conn
	err = conn.Raw(func(driverConn any) error {
		if stdlibConn, ok := driverConn.(*stdlib.Conn); ok {
			pgxConn = stdlibConn.Conn()
			return nil
		}
		return fmt.Errorf("not a pgx connection (got %T)", driverConn)
	})
	if err != nil {
		return fmt.Errorf("access pgx connection: %w", err)
	}

	query := fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT text, DELIMITER E'\\t')",
		table, joinColumns(columns))
	if _, err := pgxConn.PgConn().CopyFrom(bf.ctx, data, query); err != nil {
		return fmt.Errorf("COPY FROM: %w", err)
	}
	return nil
}

// joinColumns joins column names with commas.
func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

// copyEscaper escapes values for COPY text format.
var copyEscaper = strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

// GenerateTargets builds n deterministic Target documents. Number runs from
// 0 to n-1, String is "target-<i>", Flag cycles nil/true/false and every
// tenth document has an empty Tags list.
func GenerateTargets(n int) []testdocs.Target {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	docs := make([]testdocs.Target, n)
	for i := range docs {
		d := testdocs.Target{
			ID:      uuid.New(),
			Number:  i,
			Small:   int16(i % 100),
			Double:  float64(i) / 4,
			String:  "target-" + strconv.Itoa(i),
			Active:  i%2 == 0,
			Color:   testdocs.Color(i % 3),
			Date:    base.Add(time.Duration(i) * time.Hour),
			Numbers: []int{i, i * 2},
		}
		switch i % 3 {
		case 1:
			d.Flag = testdocs.Bool(true)
		case 2:
			d.Flag = testdocs.Bool(false)
		}
		if i%10 != 0 {
			d.Tags = []string{"tag-" + strconv.Itoa(i%5)}
		}
		docs[i] = d
	}
	return docs
}

// CreateTargets generates and stores n Target documents using COPY FROM.
// Falls back to batch INSERT if COPY fails.
func (bf *BulkFixtures) CreateTargets(n int) ([]testdocs.Target, error) {
	if n == 0 {
		return nil, nil
	}
	docs := GenerateTargets(n)

	err := bf.copyTargets(docs)
	if err == nil {
		return docs, nil
	}

	log.Printf("COPY FROM failed for targets (%v), falling back to batch INSERT", err)
	return NewFixturesWith(bf.ctx, bf.db, bf.ser).InsertTargets(docs...)
}

// copyTargets streams docs through COPY, spilling to a temp file for very
// large sets.
func (bf *BulkFixtures) copyTargets(docs []testdocs.Target) error {
	columns := []string{"id", "data", "small"}
	if len(docs) <= spillThreshold {
		var sb strings.Builder
		if err := bf.writeTargets(&sb, docs); err != nil {
			return err
		}
		return bf.copyFrom("mt_doc_target", columns, strings.NewReader(sb.String()))
	}

	f, err := os.CreateTemp("", "docql-bench-targets-*.tsv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := bf.writeTargets(w, docs); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush temp file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp file: %w", err)
	}
	return bf.copyFrom("mt_doc_target", columns, f)
}

func (bf *BulkFixtures) writeTargets(w io.Writer, docs []testdocs.Target) error {
	for _, d := range docs {
		data, err := bf.ser.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal target %s: %w", d.ID, err)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\n", d.ID, copyEscaper.Replace(string(data)), d.Small); err != nil {
			return err
		}
	}
	return nil
}

// DocumentCount returns the number of rows in a document table.
func (bf *BulkFixtures) DocumentCount(table string) (int, error) {
	var count int
	err := bf.db.QueryRowContext(bf.ctx, "SELECT count(*) FROM "+schema.QuoteIdent(table)).Scan(&count)
	return count, err
}
