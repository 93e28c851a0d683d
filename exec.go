package docql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/pthm/docql/internal/query"
)

// FetchRaw runs q and returns each row's JSON: the document body, or the
// projected value. With Stats, the unpaged total is recorded.
func (s *Store) FetchRaw(ctx context.Context, q Query) ([]json.RawMessage, error) {
	if _, ok := q.terminal(); ok {
		return nil, fmt.Errorf("docql: FetchRaw needs a query without an aggregate, got %s", q)
	}
	cmd, err := s.PreviewCommand(q)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, cmd, q.model.Statistics, q.stats)
}

// Fetch runs q and decodes each row into a T with the store's serializer.
func Fetch[T any](ctx context.Context, s *Store, q Query) ([]T, error) {
	raw, err := s.FetchRaw(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(raw))
	for i, r := range raw {
		if err := s.serializer.Unmarshal(r, &out[i]); err != nil {
			return nil, fmt.Errorf("docql: decoding row %d: %w", i, err)
		}
	}
	return out, nil
}

// Count returns the number of results of q.
func (s *Store) Count(ctx context.Context, q Query) (int64, error) {
	if kind, ok := q.terminal(); !ok || kind != query.Count {
		q = q.Count()
	}
	cmd, err := s.PreviewCommand(q)
	if err != nil {
		return 0, err
	}
	return scalar[int64](ctx, s, cmd)
}

// Any reports whether q has any result.
func (s *Store) Any(ctx context.Context, q Query) (bool, error) {
	if kind, ok := q.terminal(); !ok || kind != query.Any {
		q = q.Any()
	}
	cmd, err := s.PreviewCommand(q)
	if err != nil {
		return false, err
	}
	return scalar[bool](ctx, s, cmd)
}

// Execute runs a compiled query with template's field values.
func Execute[TOut any](ctx context.Context, s *Store, template CompiledQuery[TOut]) (TOut, error) {
	var zero TOut
	p, err := PlanFor(s, template)
	if err != nil {
		return zero, err
	}
	v, err := p.value(template)
	if err != nil {
		return zero, err
	}
	cmd, err := p.plan.Bind(v)
	if err != nil {
		return zero, err
	}
	stats := p.plan.Stats(v)

	switch p.mode() {
	case resultScalar:
		return scalar[TOut](ctx, s, cmd)
	case resultList:
		rows, err := s.fetch(ctx, cmd, p.plan.Statistics, stats)
		if err != nil {
			return zero, err
		}
		return decodeList[TOut](s, rows)
	}

	rows, err := s.fetch(ctx, cmd, p.plan.Statistics, stats)
	if err != nil {
		return zero, err
	}
	switch {
	case len(rows) == 0:
		return zero, ErrNoDocuments
	case len(rows) > 1 && p.mode() == resultSingle:
		return zero, ErrMultipleDocuments
	}
	var out TOut
	if err := s.serializer.Unmarshal(rows[0], &out); err != nil {
		return zero, fmt.Errorf("docql: decoding result: %w", err)
	}
	return out, nil
}

// fetch reads the first column of every row. With statistics, rows also
// carry total_rows and in_page; a row outside the page only reports the
// total.
func (s *Store) fetch(ctx context.Context, cmd Command, statistics bool, stats *QueryStatistics) ([]json.RawMessage, error) {
	q, err := s.querier()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, cmd.SQL, cmd.Args()...)
	if err != nil {
		return nil, mapError("query", err)
	}
	defer rows.Close()

	var (
		out    []json.RawMessage
		total  int64
		inPage = true
	)
	for rows.Next() {
		var raw []byte
		dest := []any{&raw}
		if statistics {
			dest = append(dest, &total, &inPage)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("docql: scanning row: %w", err)
		}
		if inPage {
			out = append(out, json.RawMessage(raw))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("query", err)
	}
	if statistics {
		stats.Record(total)
	}
	return out, nil
}

// scalar reads a single-value result. SQL NULL, as returned by aggregates
// over no rows, reads as the zero value.
func scalar[T any](ctx context.Context, s *Store, cmd Command) (T, error) {
	var v sql.Null[T]
	q, err := s.querier()
	if err != nil {
		return v.V, err
	}
	if err := q.QueryRowContext(ctx, cmd.SQL, cmd.Args()...).Scan(&v); err != nil {
		return v.V, mapError("query", err)
	}
	return v.V, nil
}

func decodeList[TOut any](s *Store, rows []json.RawMessage) (TOut, error) {
	var zero TOut
	t := reflect.TypeFor[TOut]()
	if t.Kind() != reflect.Slice {
		return zero, fmt.Errorf("docql: list results need a slice type, got %s", t)
	}
	out := reflect.MakeSlice(t, len(rows), len(rows))
	for i, r := range rows {
		if err := s.serializer.Unmarshal(r, out.Index(i).Addr().Interface()); err != nil {
			return zero, fmt.Errorf("docql: decoding row %d: %w", i, err)
		}
	}
	return out.Interface().(TOut), nil
}
