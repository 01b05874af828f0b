package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"herb-trace/internal/domain/collections"

	"github.com/spf13/cobra"
)

type captureOptions struct {
	EventID     string
	SubmitterID string
	Category    string
	Lat         float64
	Lon         float64
	AccuracyM   float64
	CapturedAt  string
	MoisturePct float64
	MediaHashes []string
	Notes       string
}

func newCaptureCommand(root *RootOptions) *cobra.Command {
	opts := &captureOptions{}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Registrar una recolección (se guarda local y se sube si hay red)",
		Long: `Valida la recolección, la guarda en el store local como pending y, si hay
conectividad, intenta subirla en el momento.

Ejemplo:
  herb-collector capture --category Turmeric --lat 11.0168 --lon 76.9558 --moisture 10.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sub := collections.Submission{
				EventID:     opts.EventID,
				SubmitterID: opts.SubmitterID,
				Category:    opts.Category,
				Location: collections.SubmissionGeo{
					Lat: &opts.Lat,
					Lon: &opts.Lon,
				},
				CapturedAt: opts.CapturedAt,
				Notes:      opts.Notes,
			}
			if sub.SubmitterID == "" {
				sub.SubmitterID = root.cfg.SubmitterID
			}
			if sub.SubmitterID == "" {
				sub.SubmitterID = root.DebugUserID
			}
			if sub.CapturedAt == "" {
				sub.CapturedAt = time.Now().UTC().Format(time.RFC3339)
			}
			if cmd.Flags().Changed("accuracy") {
				sub.Location.AccuracyM = &opts.AccuracyM
			}
			if cmd.Flags().Changed("moisture") {
				sub.MoisturePct = &opts.MoisturePct
			}
			for _, h := range opts.MediaHashes {
				sub.Media = append(sub.Media, collections.MediaRef{Hash: strings.TrimSpace(h)})
			}

			coord, closeFn, err := root.session(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ev, err := coord.Capture(cmd.Context(), sub)
			if err != nil {
				return err
			}
			return root.print(cmd.OutOrStdout(), ev, func(w io.Writer) { printEvent(w, ev) })
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.EventID, "event-id", "", "UUID of the event (generated if empty)")
	f.StringVar(&opts.SubmitterID, "submitter", "", "submitter id (defaults to COLLECTOR_SUBMITTER)")
	f.StringVar(&opts.Category, "category", "", "herb category, e.g. Turmeric")
	f.Float64Var(&opts.Lat, "lat", 0, "latitude in decimal degrees")
	f.Float64Var(&opts.Lon, "lon", 0, "longitude in decimal degrees")
	f.Float64Var(&opts.AccuracyM, "accuracy", 0, "GPS accuracy in meters")
	f.StringVar(&opts.CapturedAt, "captured-at", "", "ISO-8601 or epoch seconds (defaults to now)")
	f.Float64Var(&opts.MoisturePct, "moisture", 0, "moisture percentage")
	f.StringSliceVar(&opts.MediaHashes, "media", nil, "media content hash (repeatable)")
	f.StringVar(&opts.Notes, "notes", "", "free text notes")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")

	return cmd
}

func newSyncCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Correr un ciclo de sincronización",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, closeFn, err := root.session(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			rep, err := coord.SyncOnce(cmd.Context())
			if err != nil {
				return err
			}
			return root.print(cmd.OutOrStdout(), rep, func(w io.Writer) {
				if rep.Skipped != "" {
					fmt.Fprintf(w, "sync skipped: %s\n", rep.Skipped)
					return
				}
				fmt.Fprintf(w, "attempted=%d synced=%d failed=%d\n", rep.Attempted, rep.Synced, rep.Failed)
			})
		},
	}
}

func newRunCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sincronizar en loop hasta SIGINT/SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, closeFn, err := root.session(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			coord.Run(ctx)
			return nil
		},
	}
}

func newListCommand(root *RootOptions) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Listar los eventos locales",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}

			coord, closeFn, err := root.session(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			evs, err := coord.List(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			return root.print(cmd.OutOrStdout(), evs, func(w io.Writer) {
				if len(evs) == 0 {
					fmt.Fprintln(w, "no events")
					return
				}
				for _, ev := range evs {
					printEvent(w, ev)
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (pending|uploading|synced|failed)")
	return cmd
}

func newRetryCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <event-id>",
		Short: "Reintentar a mano un evento failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, closeFn, err := root.session(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ev, err := coord.RetryEvent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return root.print(cmd.OutOrStdout(), ev, func(w io.Writer) { printEvent(w, ev) })
		},
	}
}

func newRefreshCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Traer del servidor la tx de los eventos pending-anchor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, closeFn, err := root.session(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := coord.RefreshAnchors(cmd.Context())
			if err != nil {
				return err
			}
			return root.print(cmd.OutOrStdout(), map[string]int{"updated": n}, func(w io.Writer) {
				fmt.Fprintf(w, "updated=%d\n", n)
			})
		},
	}
}

func parseStatuses(raw []string) ([]collections.Status, error) {
	out := make([]collections.Status, 0, len(raw))
	for _, r := range raw {
		s := collections.Status(strings.ToLower(strings.TrimSpace(r)))
		if !s.Valid() {
			return nil, fmt.Errorf("invalid status %q", r)
		}
		out = append(out, s)
	}
	return out, nil
}
