package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"trustcollapse.dev/internal/persistence/archive"
	"trustcollapse.dev/internal/persistence/indexdb"
	"trustcollapse.dev/internal/persistence/snapshot"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent ticks recorded in an index database",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dbPath, _ := cmd.Flags().GetString("db")
			limit, _ := cmd.Flags().GetInt("limit")

			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("index database: %w", err)
			}
			idx, err := indexdb.OpenSQLite(dbPath)
			if err != nil {
				return err
			}
			defer idx.Close()

			rows, err := idx.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				if rows == nil {
					rows = []indexdb.TickRow{}
				}
				return json.NewEncoder(out).Encode(rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No ticks recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tTICK\tMIGRATED\tQUEUE\tTOTAL\tGOOD MEAN\tMIXED MEAN\tMIXED EVIL\tERROR")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.3f\t%.3f\t%d\t%s\n",
					r.RunID, r.Tick, r.Migrated, r.QueueLen, r.MigratedTotal, r.GoodMean, r.MixedMean, r.MixedEvil, r.Error)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().String("db", filepath.Join("data", "index.sqlite"), "Path to the index database")
	cmd.Flags().Int("limit", 20, "Number of rows to show, newest first")

	return cmd
}

func newSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List the snapshots in a data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dataDir, _ := cmd.Flags().GetString("data")
			archived, _ := cmd.Flags().GetBool("archived")
			if archived {
				return listArchived(cmd, dataDir, jsonOut)
			}

			files, err := snapshot.List(snapshot.Dir(dataDir))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			headers := make([]snapshot.Header, 0, len(files))
			for _, f := range files {
				h, err := snapshot.ReadHeader(f)
				if err != nil {
					return fmt.Errorf("%s: %w", filepath.Base(f), err)
				}
				headers = append(headers, h)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(headers)
			}
			if len(headers) == 0 {
				fmt.Fprintln(out, "No snapshots.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TICK\tRUN\tSEED\tGRID")
			for _, h := range headers {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%dx%d\n", h.Tick, h.RunID, h.Seed, h.Width, h.Height)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().String("data", "data", "Data directory")
	cmd.Flags().Bool("archived", false, "List archived milestone snapshots instead")

	return cmd
}

func listArchived(cmd *cobra.Command, dataDir string, jsonOut bool) error {
	metas, err := archive.List(dataDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].CreatedAt != metas[j].CreatedAt {
			return metas[i].CreatedAt < metas[j].CreatedAt
		}
		return metas[i].Tick < metas[j].Tick
	})

	out := cmd.OutOrStdout()
	if jsonOut {
		if metas == nil {
			metas = []archive.Meta{}
		}
		return json.NewEncoder(out).Encode(metas)
	}
	if len(metas) == 0 {
		fmt.Fprintln(out, "No archived snapshots.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICK\tRUN\tSEED\tGRID\tCREATED")
	for _, m := range metas {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%dx%d\t%s\n", m.Tick, m.RunID, m.Seed, m.Width, m.Height, m.CreatedAt)
	}
	return tw.Flush()
}
