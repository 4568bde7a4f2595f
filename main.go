// ./main.go
package main

import (
	"github.com/SCF-Public-Goods-Maintenance/pg-atlas-backend/cmd"
)

// main is the entry point for the PG Atlas backend.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
