package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lifesupport/colony/server/internal/events"
	"github.com/lifesupport/colony/server/internal/infra/journal"
)

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Read compressed journal files",
	}
	cmd.AddCommand(newJournalDumpCmd())
	return cmd
}

func newJournalDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print journal events as JSON lines",
		Long: `Decode a single journal file (--file) or every journal file in a
directory (--dir, --prefix). With --verify the events of one run are replayed
and every recorded state digest is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			dir, _ := cmd.Flags().GetString("dir")
			prefix, _ := cmd.Flags().GetString("prefix")
			runID, _ := cmd.Flags().GetString("run")
			verify, _ := cmd.Flags().GetBool("verify")

			var (
				evs []events.GameEvent
				err error
			)
			switch {
			case file != "":
				evs, err = journal.ReadFile(file)
				if runID != "" {
					evs = filterRun(evs, runID)
				}
			case dir != "":
				evs, err = journal.ReadAll(dir, prefix, runID)
			default:
				return errors.New("one of --file or --dir is required")
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// Live or crashed journals still hold every flushed event.
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			} else if err != nil {
				return err
			}

			if verify {
				if runID == "" && len(evs) > 0 {
					runID = evs[0].RunID
					evs = filterRun(evs, runID)
				}
				sort.SliceStable(evs, func(i, j int) bool { return evs[i].Seq < evs[j].Seq })
				return verifyHistory(cmd, runID, evs)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range evs {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d events\n", len(evs))
			return nil
		},
	}

	cmd.Flags().String("file", "", "Journal file (.jsonl.zst or .jsonl.lz4)")
	cmd.Flags().String("dir", "", "Journal directory")
	cmd.Flags().String("prefix", "colony", "Journal file prefix inside --dir")
	cmd.Flags().String("run", "", "Keep only this run")
	cmd.Flags().Bool("verify", false, "Replay the run and check state digests instead of printing")
	return cmd
}

func filterRun(evs []events.GameEvent, runID string) []events.GameEvent {
	out := evs[:0:0]
	for _, e := range evs {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}
