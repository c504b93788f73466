package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/lifesupport/colony/server/internal/engine"
	"github.com/lifesupport/colony/server/internal/events"
	"github.com/lifesupport/colony/server/internal/infra/storage"
)

// errDiverged makes `audit verify` exit non-zero without printing usage.
var errDiverged = errors.New("journal replay diverged")

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify recorded runs",
	}
	cmd.PersistentFlags().String("db", "colony.db", "Path to the SQLite audit database")
	cmd.PersistentFlags().String("run", "", "Run ID (default: latest run)")

	cmd.AddCommand(newAuditRunsCmd(), newAuditVerifyCmd(), newAuditRecapCmd())
	return cmd
}

func newAuditRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openAuditDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := storage.NewSQLiteRunRepository(db).ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(runs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tCOLONY\tSTARTED\tEVENTS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.RunID, r.ColonyName, r.StartedAt.Format(time.RFC3339), r.Events)
			}
			return tw.Flush()
		},
	}
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay a run's journal and check every recorded state digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openAuditDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			runID, err := resolveRun(cmd, db)
			if err != nil {
				return err
			}
			history, err := storage.NewReconstructor(storage.NewSQLiteEventRepository(db)).History(cmd.Context(), runID)
			if err != nil {
				return err
			}
			return verifyHistory(cmd, runID, history)
		},
	}
}

func newAuditRecapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recap",
		Short: "Summarize a run: ticks, builds, shortages and collapse",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openAuditDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			runID, err := resolveRun(cmd, db)
			if err != nil {
				return err
			}
			recap, err := storage.NewReconstructor(storage.NewSQLiteEventRepository(db)).Recap(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(recap)
			}
			printRecap(cmd.OutOrStdout(), recap)
			return nil
		},
	}
}

func openAuditDB(cmd *cobra.Command) (*sqlx.DB, error) {
	path, _ := cmd.Flags().GetString("db")
	return storage.InitSQLite(path)
}

func resolveRun(cmd *cobra.Command, db *sqlx.DB) (string, error) {
	if runID, _ := cmd.Flags().GetString("run"); runID != "" {
		return runID, nil
	}
	latest, err := storage.NewSQLiteRunRepository(db).LatestRun(cmd.Context())
	if err != nil {
		return "", err
	}
	if latest == nil {
		return "", errors.New("no runs recorded")
	}
	return latest.RunID, nil
}

// verifyHistory replays history and reports the outcome on cmd's output.
func verifyHistory(cmd *cobra.Command, runID string, history []events.GameEvent) error {
	if len(history) == 0 {
		return fmt.Errorf("run %s has no journal events", runID)
	}
	res, err := engine.Replay(engine.DefaultSettings(), history)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		if err := json.NewEncoder(out).Encode(map[string]any{"run_id": runID, "ok": res.OK(), "result": res}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "run %s: %d steps (%d resets, %d builds, %d ticks)\n", runID, res.Steps, res.Resets, res.Builds, res.Ticks)
		if d := res.Divergence; d != nil {
			fmt.Fprintf(out, "DIVERGED at seq %d (%s, tick %d): %s\n  expected %s\n  actual   %s\n",
				d.Seq, d.Type, d.Tick, d.Reason, d.Expected, d.Actual)
		} else {
			fmt.Fprintf(out, "OK: final tick %d, population %d, alive=%t\n",
				res.Final.TickCount, res.Final.Population, res.Final.Alive)
		}
	}
	if !res.OK() {
		return errDiverged
	}
	return nil
}

func printRecap(w io.Writer, r *storage.Recap) {
	fmt.Fprintf(w, "Run %s\n", r.RunID)
	fmt.Fprintf(w, "  events:          %d (%d resets, %d speed changes)\n", r.Events, r.Resets, r.SpeedChanges)
	fmt.Fprintf(w, "  ticks:           %d (last tick %d)\n", r.Ticks, r.LastTick)
	fmt.Fprintf(w, "  builds ok:       %d\n", r.BuildsOK)
	codes := make([]string, 0, len(r.BuildsFailed))
	for code := range r.BuildsFailed {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  failed %s: %d\n", strings.ToLower(code), r.BuildsFailed[code])
	}
	fmt.Fprintf(w, "  power shortages: %d\n", r.PowerShortages)
	fmt.Fprintf(w, "  growth events:   %d\n", r.GrowthEvents)
	if r.Collapsed {
		fmt.Fprintf(w, "  COLLAPSED at tick %d: %s\n", r.CollapseTick, r.CollapseCause)
	} else {
		fmt.Fprintln(w, "  colony alive")
	}
}
