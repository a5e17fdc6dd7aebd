package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/couchcryptid/weather-warehouse-etl/internal/pipeline"
	"github.com/couchcryptid/weather-warehouse-etl/internal/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type stageBuilder func(a *app, ctx context.Context) (pipeline.Stage, error)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func newStageCmd(use, short string, build stageBuilder) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			stage, err := build(a, ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			return a.execute(ctx, func(ctx context.Context) error {
				return a.runner.RunStage(ctx, stage)
			})
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run extract, stage, transform and load in order",
		Long: `run executes every stage in order. Stages that already succeeded today are
skipped, so a rerun after a failure resumes at the failed stage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			builders := []stageBuilder{(*app).extractStage, (*app).stagingStage, (*app).transformStage, (*app).warehouseStage}
			stages := make([]pipeline.Stage, 0, len(builders))
			for _, build := range builders {
				s, err := build(a, ctx)
				if err != nil {
					return err
				}
				stages = append(stages, s)
			}
			return a.execute(ctx, func(ctx context.Context) error {
				return a.runner.RunAll(ctx, stages...)
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show today's stage executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			recs, err := a.executionLog().Today(ctx)
			if err != nil {
				return err
			}
			renderExecutions(cmd.OutOrStdout(), recs)
			return nil
		},
	}
}

func renderExecutions(w io.Writer, recs []domain.ExecutionRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no executions today")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Execution", "Process", "Status", "Attempt", "Started", "Duration", "Inserted", "Failed", "Error"})
	for _, rec := range recs {
		duration := "-"
		if rec.Status.IsTerminal() && rec.EndTime != nil {
			duration = rec.EndTime.Sub(rec.StartTime).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			rec.ExecutionID,
			rec.ProcessName,
			rec.Status,
			rec.Attempt,
			rec.StartTime.Format(time.DateTime),
			duration,
			rec.RecordsInserted,
			rec.RecordsFailed,
			truncate(rec.ErrorMessage, 60),
		})
	}
	t.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
