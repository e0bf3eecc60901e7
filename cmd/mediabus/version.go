package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tc3107/mediabus/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mediabus version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "mediabus %s\n", version.Version)
			return nil
		},
	}
}
