package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"shortlist/pkg/metrics"
)

func newUsageCmd(flags *rootFlags) *cobra.Command {
	var (
		prometheusURL string
		window        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize LLM, search and enrichment usage from a Prometheus server",
		Long: `usage queries a Prometheus server that scrapes shortlist's metrics endpoint
(enable it with metrics.enabled in the config) and prints totals for a window.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.setup()
			if err != nil {
				return err
			}
			q, err := metrics.NewQueryService(prometheusURL, cfg.Metrics.Namespace)
			if err != nil {
				return err
			}
			usage, err := q.Usage(cmd.Context(), window)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Usage over the last %s\n\n", window)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tREQUESTS\tFAILED\tPROMPT\tCOMPLETION\tTOTAL")
			for _, m := range usage.Models {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", m.Model, m.Requests, m.Failures, m.PromptTokens, m.CompletionTokens, m.TotalTokens)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nSearches: %d (%d failed)\n", usage.Searches, usage.FailedSearch)
			statuses := make([]string, 0, len(usage.EnrichedCells))
			for s := range usage.EnrichedCells {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Fprintf(out, "Cells %s: %d\n", s, usage.EnrichedCells[s])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prometheusURL, "prometheus", "http://localhost:9090", "Prometheus server URL")
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "time window to summarize")
	return cmd
}
