package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/docql/internal/cli"
	"github.com/pthm/docql/internal/update"
	"github.com/pthm/docql/internal/version"
)

var (
	versionCheck bool
	versionJSON  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Example: `  # Print the version and look for a newer release
  docql version --check`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			out, err := json.MarshalIndent(version.Current(), "", "  ")
			if err != nil {
				return cli.GeneralError("encoding version", err)
			}
			fmt.Fprintln(os.Stdout, string(out))
		} else {
			fmt.Println(version.Info())
		}
		if !versionCheck {
			return nil
		}
		info, err := update.CheckWithCache(cmd.Context())
		if err != nil {
			return cli.GeneralError("checking for updates", err)
		}
		if info.UpdateAvailable {
			fmt.Printf("Update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
			if info.ReleaseURL != "" {
				fmt.Println(info.ReleaseURL)
			}
		} else {
			fmt.Println("docql is up to date.")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print build information as JSON")
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
}
