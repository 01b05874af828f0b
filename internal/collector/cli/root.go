// Package cli es la línea de comandos del dispositivo de campo.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"herb-trace/internal/adapters/storage/sqlite"
	"herb-trace/internal/collector"
	"herb-trace/internal/domain/collections"
	"herb-trace/internal/domain/validation"
	"herb-trace/internal/platform/config"
	"herb-trace/internal/platform/logger"

	"github.com/spf13/cobra"
)

// RootOptions son los flags globales. Los defaults salen de config.Collector.
type RootOptions struct {
	DBPath      string
	APIURL      string
	Token       string
	DebugUserID string
	Offline     bool
	Format      string // "text" | "json"
	Verbose     bool

	cfg config.Collector
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand(cfg config.Collector) *cobra.Command {
	opts := &RootOptions{cfg: cfg}

	cmd := &cobra.Command{
		Use:   "herb-collector",
		Short: "Captura offline-first de recolecciones de campo",
		Long: `Guarda cada recolección en SQLite local antes de tocar la red y la
sincroniza con la API de ingesta cuando hay conectividad.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.DBPath, "db", cfg.DBPath, "path to the local SQLite database")
	pf.StringVar(&opts.APIURL, "api", cfg.APIURL, "ingestion API base URL")
	pf.StringVar(&opts.Token, "token", cfg.Token, "bearer token for the ingestion API")
	pf.StringVar(&opts.DebugUserID, "debug-user", cfg.DebugUserID, "X-Debug-User-ID for dev servers")
	pf.BoolVar(&opts.Offline, "offline", false, "never touch the network")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newCaptureCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newRefreshCommand(opts))

	return cmd
}

func (o *RootOptions) newLogger(w io.Writer) logger.Logger {
	lvl := logger.Info
	if o.Verbose {
		lvl = logger.Debug
	}
	return logger.New(logger.Options{Level: lvl, App: "herb-collector", Output: w})
}

// session abre el store local y arma el coordinator. close libera el store.
func (o *RootOptions) session(cmd *cobra.Command) (*collector.Coordinator, func() error, error) {
	store, err := sqlite.Open(o.DBPath)
	if err != nil {
		return nil, nil, err
	}

	normalizer := collections.NewNormalizer(nil)
	if o.cfg.RulesFile != "" {
		rules, err := validation.LoadRules(o.cfg.RulesFile)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		normalizer = collections.NewNormalizer(validation.NewEngine(rules))
	}

	pusher, err := collector.NewHTTPPusher(collector.HTTPPusherConfig{
		BaseURL:     o.APIURL,
		Token:       o.Token,
		DebugUserID: o.DebugUserID,
		Timeout:     o.cfg.HTTPTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	var conn collector.Connectivity
	if o.Offline {
		conn = collector.NewStaticConnectivity(false)
	} else {
		conn = collector.NewProbeConnectivity(strings.TrimRight(o.APIURL, "/")+"/health", o.cfg.HTTPTimeout)
	}

	coord := collector.New(collector.Options{
		Store:        store,
		Pusher:       pusher,
		Connectivity: conn,
		Normalizer:   normalizer,
		Interval:     o.cfg.SyncInterval,
		Logger:       o.newLogger(cmd.ErrOrStderr()),
	})
	return coord, store.Close, nil
}

func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func printEvent(w io.Writer, ev collections.Event) {
	tx := ev.LedgerTxID
	if tx == "" {
		tx = "-"
	}
	fmt.Fprintf(w, "%s  %-9s  %-12s  score=%-3d  loc=%-5t  season=%-5t  tx=%s\n",
		ev.ID, ev.Status, ev.Category, ev.QualityScore, ev.IsValidLocation, ev.IsValidSeason, tx)
	if ev.LastError != "" {
		fmt.Fprintf(w, "    last error: %s (retries=%d)\n", ev.LastError, ev.RetryCount)
	}
}

// Execute corre el root con los defaults de entorno.
func Execute() int {
	cfg, err := config.LoadCollector()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := NewRootCommand(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
