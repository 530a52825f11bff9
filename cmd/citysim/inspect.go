package main

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/citynet/internal/config"
	"github.com/talgya/citynet/internal/engine"
	"github.com/talgya/citynet/internal/persistence"
)

func newInspectCmd() *cobra.Command {
	var events int
	cmd := &cobra.Command{
		Use:   "inspect [db-path]",
		Short: "Summarise a saved network",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			dbPath := cfg.DBPath
			if len(args) == 1 {
				dbPath = args[0]
			}
			if dbPath == "" {
				return errors.New("no database path configured")
			}

			db, err := persistence.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			snap, err := db.LoadSnapshot()
			if err != nil {
				return err
			}
			recent, err := db.RecentEvents(events)
			if err != nil {
				return fmt.Errorf("load events: %w", err)
			}
			printSummary(cmd.OutOrStdout(), snap, recent)
			if v, err := db.GetMeta("app_version"); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "written by citysim %s\n", v)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&events, "events", 10, "number of recent events to show")
	return cmd
}

func printSummary(w io.Writer, snap engine.Snapshot, recent []engine.Event) {
	sizes := make(map[int]int)
	collapsing := 0
	for _, c := range snap.Cities {
		if c.Collapsing {
			collapsing++
			continue
		}
		sizes[c.LogicalSize]++
	}
	keys := make([]int, 0, len(sizes))
	for k := range sizes {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	fmt.Fprintf(w, "run      %s\n", snap.RunID)
	fmt.Fprintf(w, "tick     %s (sim time %s)\n", humanize.Comma(int64(snap.Tick)), engine.SimTime(snap.Clock))
	fmt.Fprintf(w, "region   %gx%g\n", snap.Bounds.Width, snap.Bounds.Height)
	fmt.Fprintf(w, "cities   %s (%d collapsing)\n", humanize.Comma(int64(len(snap.Cities))), collapsing)
	fmt.Fprintf(w, "roads    %s\n", humanize.Comma(int64(len(snap.Roads))))
	for _, k := range keys {
		fmt.Fprintf(w, "  size %-3d %s\n", k, humanize.Comma(int64(sizes[k])))
	}
	st := snap.Stats
	fmt.Fprintf(w, "founded  %s, removed %s, evolutions %s\n",
		humanize.Comma(int64(st.Founded)), humanize.Comma(int64(st.Removed)), humanize.Comma(int64(st.Evolutions)))

	if len(recent) > 0 {
		fmt.Fprintln(w, "recent events:")
		for _, e := range recent {
			fmt.Fprintf(w, "  [%s] %s\n", engine.SimTime(e.Clock), e.Description)
		}
	}
}
