package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/droidscout"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of droidscout",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("droidscout version %s\n", strings.TrimSpace(droidscout.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
