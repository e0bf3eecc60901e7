// Command mediabus is the daemon's entry point. It dispatches to
// subcommands via github.com/spf13/cobra, replacing the teacher's
// hand-rolled flag.FlagSet switch in cmd/filecrusher/main.go with the
// declarative-subcommand library the rest of this pack's CLI tools use.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mediabus",
	Short: "MediaBus is a single-host HTTPS file-sharing daemon",
}

func main() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSetupCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
