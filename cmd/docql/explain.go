package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pthm/docql"
	"github.com/pthm/docql/internal/cli"
	"github.com/pthm/docql/internal/explain"
)

var (
	explainDB      string
	explainQueries string
	explainFormat  string
	explainAnalyze bool
	explainBuffers bool
	explainVerbose bool
)

var explainCmd = &cobra.Command{
	Use:   "explain <query>",
	Short: "Show the execution plan of a query",
	Long: `Compile a query from the definitions file and ask PostgreSQL for its plan.
With --analyze the query is executed.`,
	Example: `  # Estimated plan
  docql explain large_orders --db postgres://localhost/mydb

  # Executed plan with buffer statistics, in PostgreSQL's text format
  docql explain large_orders --analyze --buffers --format text`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(resolveString(explainFormat, cfg.Explain.Format))
		opts := docql.DefaultExplainOptions()
		opts.Analyze = resolveBool(explainAnalyze, cfg.Explain.Analyze)
		opts.Timing = opts.Analyze
		opts.Buffers = resolveBool(explainBuffers, cfg.Explain.Buffers)
		opts.Verbose = resolveBool(explainVerbose, cfg.Explain.Verbose)

		dsn, err := resolveDSN(explainDB)
		if err != nil {
			return err
		}
		return runExplain(cmd.Context(), dsn, args[0], format, opts)
	},
}

func init() {
	f := explainCmd.Flags()
	f.StringVar(&explainDB, "db", "", "database URL")
	f.StringVar(&explainQueries, "queries", "", "definitions file (default: queries setting)")
	f.StringVar(&explainFormat, "format", "", "plan format: json or text (default: explain.format setting)")
	f.BoolVar(&explainAnalyze, "analyze", false, "execute the query and report actual times")
	f.BoolVar(&explainBuffers, "buffers", false, "report buffer usage")
	f.BoolVar(&explainVerbose, "verbose-plan", false, "ask PostgreSQL for a verbose plan")
}

func runExplain(ctx context.Context, dsn, name, format string, opts docql.ExplainOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	set, err := loadDefinitions(explainQueries)
	if err != nil {
		return err
	}
	q, err := set.Query(name)
	if err != nil {
		return cli.CompileError("building query", err)
	}

	db, err := openDB(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	s, err := newStore(set, db)
	if err != nil {
		return err
	}
	cmd, err := s.PreviewCommand(q)
	if err != nil {
		return cli.CompileError("compiling "+name, err)
	}

	if !quiet {
		fmt.Println(titleStyle.Render(name))
		fmt.Println(sqlStyle.Render(cmd.SQL))
		fmt.Println()
	}

	switch format {
	case "json":
		plan, err := s.Explain(ctx, q, opts)
		if err != nil {
			return cli.GeneralError("explaining "+name, err)
		}
		rows := [][2]string{
			{"Node", plan.NodeType},
			{"Total cost", fmt.Sprintf("%.2f", plan.TotalCost)},
			{"Rows", fmt.Sprintf("%.0f", plan.PlanRows)},
			{"Width", fmt.Sprintf("%d", plan.PlanWidth)},
		}
		if opts.Analyze {
			rows = append(rows,
				[2]string{"Planning", fmt.Sprintf("%.3f ms", plan.PlanningTime)},
				[2]string{"Execution", fmt.Sprintf("%.3f ms", plan.ExecutionTime)},
			)
		}
		fmt.Println(boxStyle.Render(keyValues(rows)))
		fmt.Print(plan.Tree())

	case "text":
		text, err := s.ExplainText(ctx, q, opts)
		if err != nil {
			return cli.GeneralError("explaining "+name, err)
		}
		m := explain.ParseText(text)
		rows := [][2]string{
			{"Node", m.NodeType},
			{"Total cost", fmt.Sprintf("%.2f", m.TotalCost)},
			{"Rows", fmt.Sprintf("%d", m.PlanRows)},
		}
		if opts.Analyze {
			rows = append(rows,
				[2]string{"Planning", fmt.Sprintf("%.3f ms", m.PlanningTimeMS)},
				[2]string{"Execution", fmt.Sprintf("%.3f ms", m.ExecutionTimeMS)},
			)
		}
		if opts.Buffers {
			rows = append(rows, [2]string{"Buffers", fmt.Sprintf("hit=%d read=%d", m.BufferHits, m.BufferReads)})
		}
		fmt.Println(boxStyle.Render(keyValues(rows)))
		fmt.Println(text)

	default:
		return cli.ConfigError(fmt.Sprintf("unknown explain format %q (want json or text)", format), nil)
	}
	return nil
}
