package main

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/pthm/docql/internal/cli"
)

var (
	configShowSource bool
	configShowFormat string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long: `Show the configuration after merging defaults, the config file and DOCQL_*
environment variables. Passwords are never printed.`,
	Example: `  # Show effective configuration
  docql config show

  # Show where it came from, as JSON
  docql config show --source --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowSource {
			source := configPath
			if source == "" {
				source = "(none, using defaults)"
			}
			fmt.Printf("Config file: %s\n\n", source)
		}

		shown := cfg.Redacted()
		var (
			out []byte
			err error
		)
		switch configShowFormat {
		case "yaml":
			out, err = yaml.Marshal(shown)
		case "json":
			out, err = jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(shown, "", "  ")
			out = append(out, '\n')
		default:
			return cli.ConfigError("config show", fmt.Errorf("unknown format %q (want yaml or json)", configShowFormat))
		}
		if err != nil {
			return cli.GeneralError("encoding config", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowSource, "source", false, "show config file source")
	configShowCmd.Flags().StringVar(&configShowFormat, "format", "yaml", "output format: yaml or json")
	configCmd.AddCommand(configShowCmd)
}
