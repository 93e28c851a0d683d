// Package main provides the docql CLI for inspecting the SQL that document
// queries compile to.
//
// The CLI supports:
//   - preview: Render the SQL and parameters of queries in a definitions file
//   - explain: Run EXPLAIN for a query against PostgreSQL
//   - doctor: Check that document tables match the definitions
//   - config show: Print the effective configuration
//
// Usage:
//
//	docql [flags] <command>
//
// Commands that require database access (explain, doctor) need --db or
// database settings in docql.yaml.
package main

func main() {
	Execute()
}
