/*
main.go - Application entry point

PURPOSE:
  Command tree of the staff documents service. Configuration comes from
  the environment and optional .env files (see config/config.go), not
  from flags.

COMMANDS:
  serve            HTTP API, background dispatcher and stale scanner
  scan-stale       One stale scan, then exit (for cron)
  import-holidays  Load a production calendar file into the database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM serve:
  1. Stops accepting new connections
  2. Waits for active requests to complete (30s timeout)
  3. Stops the stale scanner, then drains the dispatcher
  4. Closes the database

EXAMPLES:
  DB_PATH=./data/staff.db ./server serve
  ./server import-holidays calendars/2025.json
  STALE_AFTER=48h ./server scan-stale

SEE ALSO:
  - app.go: Dependency wiring
  - api/server.go: Router configuration
*/
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "staffdocs",
		Short:         "Staff leave and contract documents service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanStaleCmd())
	cmd.AddCommand(newImportHolidaysCmd())
	return cmd
}
