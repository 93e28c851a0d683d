package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/pthm/docql"
	"github.com/pthm/docql/internal/cli"
	"github.com/pthm/docql/internal/definitions"
)

var (
	previewQueries string
	previewFormat  string
)

var previewCmd = &cobra.Command{
	Use:   "preview [query...]",
	Short: "Render the SQL of queries",
	Long:  `Compile queries from the definitions file and print their SQL and parameters. With no arguments every query is rendered.`,
	Example: `  # Render every query in queries.yaml
  docql preview

  # Render two queries from another file as YAML
  docql preview large_orders skus --queries orders.yaml --format yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := loadDefinitions(previewQueries)
		if err != nil {
			return err
		}
		s, err := newStore(set, nil)
		if err != nil {
			return err
		}

		names := args
		if len(names) == 0 {
			names = set.Names()
		}
		entries, failed := preview(s, set, names)

		switch previewFormat {
		case "yaml":
			out, err := yaml.Marshal(entries)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
		case "text":
			for _, e := range entries {
				fmt.Println(renderPreview(e))
			}
		default:
			return cli.ConfigError(fmt.Sprintf("unknown format %q (want text or yaml)", previewFormat), nil)
		}

		if failed > 0 {
			return cli.CompileError(fmt.Sprintf("%d of %d queries failed to compile", failed, len(entries)), nil)
		}
		return nil
	},
}

func init() {
	f := previewCmd.Flags()
	f.StringVar(&previewQueries, "queries", "", "definitions file (default: queries setting)")
	f.StringVar(&previewFormat, "format", "text", "output format: text or yaml")
}

type previewParam struct {
	Position int    `json:"position"`
	Type     string `json:"type"`
	Value    any    `json:"value"`
}

type previewEntry struct {
	Name       string         `json:"name"`
	Document   string         `json:"document"`
	SQL        string         `json:"sql,omitempty"`
	Parameters []previewParam `json:"parameters,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// preview compiles each named query and reports how many failed.
func preview(s *docql.Store, set *definitions.Set, names []string) ([]previewEntry, int) {
	entries := make([]previewEntry, 0, len(names))
	failed := 0
	for _, name := range names {
		e := previewEntry{Name: name}
		if qd, ok := set.Def(name); ok {
			e.Document = qd.Document
		}
		cmd, err := compile(s, set, name)
		if err != nil {
			e.Error = err.Error()
			failed++
			entries = append(entries, e)
			continue
		}
		e.SQL = cmd.SQL
		for i, p := range cmd.Parameters {
			e.Parameters = append(e.Parameters, previewParam{
				Position: i + 1,
				Type:     fmt.Sprintf("%T", p.Value),
				Value:    p.Value,
			})
		}
		entries = append(entries, e)
	}
	return entries, failed
}

func compile(s *docql.Store, set *definitions.Set, name string) (docql.Command, error) {
	q, err := set.Query(name)
	if err != nil {
		return docql.Command{}, err
	}
	return s.PreviewCommand(q)
}

func renderPreview(e previewEntry) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(e.Name))
	if e.Document != "" {
		sb.WriteString(" " + labelStyle.Render("("+e.Document+")"))
	}
	sb.WriteString("\n")
	if e.Error != "" {
		sb.WriteString(sqlStyle.Render(errorStyle.Render(e.Error)))
		sb.WriteString("\n")
		return sb.String()
	}
	sb.WriteString(sqlStyle.Render(e.SQL))
	sb.WriteString("\n")
	for _, p := range e.Parameters {
		sb.WriteString(sqlStyle.Render(labelStyle.Render(fmt.Sprintf("-- $%d %s %v", p.Position, p.Type, p.Value))))
		sb.WriteString("\n")
	}
	return sb.String()
}
