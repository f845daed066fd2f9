// Command agentd runs one node of a Paxos cluster, or acts as a thin
// CLI client against one already running.
package main

import (
	"fmt"
	"os"

	"github.com/akellehe/go-paxos/internal/logging"
	"github.com/spf13/cobra"
)

var version = "dev"

var log = logging.For("agentd")

func main() {
	root := &cobra.Command{
		Use:   "agentd",
		Short: "Run or query a Paxos agent",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newReadCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agentd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
