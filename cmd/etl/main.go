// Command etl runs the weather warehouse ETL: extract from the weather API to
// a CSV file, load it into the raw tables, transform into staging and load the
// star schema. Each stage is tracked, retried and reported independently.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/pipeline"
	"github.com/couchcryptid/weather-warehouse-etl/internal/retry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

// Process exit codes.
const (
	exitOK          = 0
	exitFailed      = 1
	exitInterrupted = 130
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	err := newRootCmd().Execute()
	if err != nil && !errors.Is(err, pipeline.ErrSkipped) {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, pipeline.ErrSkipped):
		return exitOK
	case errors.Is(err, retry.ErrInterrupted):
		return exitInterrupted
	default:
		return exitFailed
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "etl",
		Short: "Daily weather observations into a PostgreSQL star schema",
		Long: `etl pulls current conditions and air quality for the configured locations,
lands them in a dated CSV file, copies the file into raw tables, cleans and
deduplicates into staging, and upserts the warehouse dimensions and facts.

Each stage runs at most once successfully per day and is retried on failure.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "json", "log format: json or text")
	flags.String("failure-policy", "strict", "extract failure policy: strict or best_effort")
	flags.Int("retry-max-attempts", 3, "attempts per stage before giving up")
	flags.Duration("retry-delay", 15*time.Minute, "wait between attempts")
	flags.String("http-addr", "", "serve /healthz, /readyz, /executions and /metrics on this address while running")

	root.AddCommand(
		newStageCmd("extract", "Fetch every location into today's extract file", (*app).extractStage),
		newStageCmd("stage", "Load today's extract file into the raw tables", (*app).stagingStage),
		newStageCmd("transform", "Clean and deduplicate raw rows into the staging tables", (*app).transformStage),
		newStageCmd("load", "Load pending staging rows into the warehouse", (*app).warehouseStage),
		newRunCmd(),
		newMigrateCmd(),
		newStatusCmd(),
	)
	return root
}
