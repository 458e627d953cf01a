// Command devflow runs the autonomous development orchestrator as a
// standalone server process: the webhook gateway, sandbox control plane,
// sync coordinators, and workflow dispatch described in
// internal/httpapi.Server, fronted by a cobra CLI in the shape of
// gopherage's rootCommand/AddCommand pattern.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCommand = &cobra.Command{
	Use:   "devflow",
	Short: "devflow orchestrates issue sync, PR review, and agent-driven development for a GitHub repository.",
}

func run() error {
	rootCommand.AddCommand(newServeCommand())
	rootCommand.AddCommand(newMigrateCommand())
	return rootCommand.Execute()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
