// Package cmd is the CLI of the zkmpt trace tool.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version of the zkmpt tool.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "zkmpt",
	Short:   "inspect and verify Merkle-Patricia-Trie witness traces",
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
