/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the payroll engine. One binary serves the HTTP
  API and runs the same operations as one-shot commands for cron jobs
  and operators.

COMMANDS:
  serve                         HTTP API + daily transition scheduler
  transition [--date]           Run the probation-completion batch once
  payroll --employment --period Generate (or --recalculate) one month
  tax import <file>             Replace the years found in a rules document

CONFIGURATION:
  Environment first (see config/config.go), optionally seeded from .env
  and .env.local. Flags override the environment:
    --db          SQLite database path (DB_PATH)
    --log-level   debug | info | warn | error (LOG_LEVEL)
    --port        HTTP port, serve only (PORT)

EXAMPLES:
  # Run with file database
  payroll-engine serve --db=./data/payroll.db

  # Run with in-memory database and demo scenarios
  payroll-engine serve --db=":memory:"

  # Nightly batch from cron
  payroll-engine transition --date=2025-08-15

SEE ALSO:
  - serve.go: HTTP server and graceful shutdown
  - commands.go: one-shot commands
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
