package docql

import (
	"context"

	"github.com/pthm/docql/internal/explain"
)

// ExplainOptions selects the EXPLAIN options. Timing only applies with
// Analyze; Analyze executes the query.
type ExplainOptions = explain.Options

// QueryPlan is one node of a parsed execution plan. The root node also
// carries the planning and execution times.
type QueryPlan = explain.Plan

// DatabaseError is a PostgreSQL failure while explaining, with its SQLSTATE.
type DatabaseError = explain.DatabaseError

// DefaultExplainOptions shows estimated costs without running the query.
func DefaultExplainOptions() ExplainOptions {
	return explain.DefaultOptions()
}

// PreviewCommand compiles q and returns the command it would run, without
// touching the database.
func (s *Store) PreviewCommand(q Query) (Command, error) {
	stmt, err := s.statement(q)
	if err != nil {
		return Command{}, err
	}
	return stmt.Command(), nil
}

// Explain compiles q and asks PostgreSQL for its execution plan in JSON
// format. Database failures are returned as *DatabaseError.
func (s *Store) Explain(ctx context.Context, q Query, opts ExplainOptions) (*QueryPlan, error) {
	cmd, err := s.PreviewCommand(q)
	if err != nil {
		return nil, err
	}
	db, err := s.querier()
	if err != nil {
		return nil, err
	}
	plan, err := explain.Run(ctx, db, cmd, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("query explained",
		"query", q.String(),
		"node", plan.NodeType,
		"total_cost", plan.TotalCost)
	return plan, nil
}

// ExplainText is Explain in PostgreSQL's text format, returned as printed.
func (s *Store) ExplainText(ctx context.Context, q Query, opts ExplainOptions) (string, error) {
	cmd, err := s.PreviewCommand(q)
	if err != nil {
		return "", err
	}
	db, err := s.querier()
	if err != nil {
		return "", err
	}
	return explain.RunText(ctx, db, cmd, opts)
}
