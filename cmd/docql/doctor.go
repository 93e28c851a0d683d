package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/docql/internal/cli"
	"github.com/pthm/docql/internal/doctor"
)

var (
	doctorDB      string
	doctorQueries string
	doctorOffline bool
	doctorVerbose bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long:  `Check that every query compiles and that the document tables match the definitions.`,
	Example: `  # Run health checks
  docql doctor --db postgres://localhost/mydb

  # Only check that the queries compile
  docql doctor --offline

  # Run with verbose output
  docql doctor --db postgres://localhost/mydb --details`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := ""
		if !doctorOffline {
			var err error
			dsn, err = resolveDSN(doctorDB)
			if err != nil {
				return err
			}
		}
		return runDoctor(cmd.Context(), dsn, resolveBool(doctorVerbose, verbose > 0))
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database URL")
	f.StringVar(&doctorQueries, "queries", "", "definitions file (default: queries setting)")
	f.BoolVar(&doctorOffline, "offline", false, "skip database checks")
	f.BoolVar(&doctorVerbose, "details", false, "show detailed output")
}

func runDoctor(ctx context.Context, dsn string, details bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	set, err := loadDefinitions(doctorQueries)
	if err != nil {
		return err
	}

	var db *sql.DB
	if dsn != "" {
		db, err = openDB(ctx, dsn)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
	}

	s, err := newStore(set, db)
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Println(titleStyle.Render("docql doctor - Health Check"))
	}

	report, err := doctor.New(db, set, s, cfg.Schema).Run(ctx)
	if err != nil {
		return cli.GeneralError("running doctor", err)
	}

	report.Print(os.Stdout, details)

	if report.HasErrors() {
		return cli.GeneralError("health checks failed", nil)
	}

	return nil
}
