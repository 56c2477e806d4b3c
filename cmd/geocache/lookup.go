package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TomasB/geocache/internal/data"
)

func newLookupCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <ip>...",
		Short: "Resolve IP addresses through the cache and print the records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, _, err := setup(*configFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			svc, _, cleanup, err := openService(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := svc.BulkResolve(cmd.Context(), args)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "IP\tCOUNTRY\tCITY\tLOCATION\tFETCHED")

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(w, "%s\terror: %v\t\t\t\n", r.IP, r.Err)
					continue
				}
				rec := r.Record
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.IP, orDash(rec.CountryCode), orDash(rec.City), location(rec), humanize.Time(rec.FetchedAt))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d lookups failed", failed, len(results))
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func location(rec data.GeoRecord) string {
	if rec.Latitude == nil || rec.Longitude == nil {
		return "-"
	}
	return strconv.FormatFloat(*rec.Latitude, 'f', 4, 64) + "," + strconv.FormatFloat(*rec.Longitude, 'f', 4, 64)
}
