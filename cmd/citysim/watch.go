package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/citynet/internal/observer"
)

func newWatchCmd() *cobra.Command {
	var (
		url      string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a running simulation and print its progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			o := observer.NewObserver(url)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			var prev *observer.Observation
			for {
				obs, err := o.Observe()
				if err != nil {
					return err
				}
				printObservation(cmd.OutOrStdout(), prev, obs)
				prev = obs

				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:8080", "API base URL")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval")
	return cmd
}

func printObservation(w io.Writer, prev, obs *observer.Observation) {
	st := obs.Status.Status
	fmt.Fprintf(w, "%s  tick %s  cities %d (%d collapsing)  roads %d  max size %d  speed %gx\n",
		obs.Status.SimTime, humanize.Comma(int64(st.Tick)), st.Cities, st.Collapsing, st.Roads, st.MaxSize, obs.Status.Speed)
	for _, e := range observer.NewEvents(prev, obs) {
		fmt.Fprintf(w, "  %s\n", e.Description)
	}
}
