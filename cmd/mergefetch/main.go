// mergefetch — self-updating local store of MERGE/GPM precipitation products
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rainwatch/mergefetch/internal/catalog"
	"github.com/rainwatch/mergefetch/internal/config"
	"github.com/rainwatch/mergefetch/internal/engine"
	"github.com/rainwatch/mergefetch/internal/fetch"
	"github.com/rainwatch/mergefetch/internal/logging"
	"github.com/rainwatch/mergefetch/internal/stats"
	"github.com/rainwatch/mergefetch/pkg/dateutil"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config and logger, populated by the root command.
var (
	cfg *config.Config
	log zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mergefetch",
	Short: "mergefetch — local materialized store of MERGE/GPM precipitation products",
	Long: `mergefetch maintains a local store of INPE MERGE/GPM precipitation
products: daily grids are fetched on demand, derived products (monthly
accumulations, standardized indices) are computed locally and kept fresh
against the provider's incremental publication.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Logging.Level
		if override, _ := cmd.Flags().GetString("log-level"); override != "" {
			level = override
		}
		log = logging.New(level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(seriesCmd)
	rootCmd.AddCommand(statsCmd)
}

// buildResolver wires config, fetcher, registry and resolver together.
// An empty mode falls back to the configured download mode.
func buildResolver(mode string) (*engine.Resolver, *fetch.Client, *catalog.Registry, error) {
	if mode == "" {
		mode = cfg.Server.Mode
	}
	parsed, err := fetch.ParseMode(mode)
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := fetch.New(cfg.Server.URL, fetch.Options{
		Mode:           parsed,
		Retries:        cfg.Server.Retries,
		Timeout:        time.Duration(cfg.Server.TimeoutSec) * time.Second,
		RequestsPerSec: cfg.Server.RequestsPerSec,
	}, log)
	if err != nil {
		return nil, nil, nil, err
	}

	reg := catalog.NewRegistry(catalog.StalePolicy{
		RetryBackoff: time.Duration(cfg.Staleness.RetryBackoffMin) * time.Minute,
		RefreshAge:   time.Duration(cfg.Staleness.RefreshAgeHours) * time.Hour,
	})
	// The resolver ships with the native container decoder built in;
	// grib2/netCDF decoders plug in here via resolver.RegisterDecoder.
	resolver := engine.New(reg, client, cfg.Storage.Folder, log)
	return resolver, client, reg, nil
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mergefetch %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Init Command ---

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file and create the storage folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("path")
		if target == "" {
			target = "./config/config.yaml"
		}
		if err := config.Save(cfg, target); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		if err := os.MkdirAll(cfg.Storage.Folder, 0o755); err != nil {
			return fmt.Errorf("create storage folder: %w", err)
		}
		fmt.Printf("Config written to %s\n", target)
		fmt.Printf("Storage folder:   %s\n", cfg.Storage.Folder)
		return nil
	},
}

func init() {
	initCmd.Flags().String("path", "", "where to write the config file")
}

// --- Types Command ---

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the available data types",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, reg, err := buildResolver("")
		if err != nil {
			return err
		}
		fmt.Printf("%-22s %-34s %-10s %-8s %s\n", "TYPE", "NAME", "VAR", "FREQ", "KIND")
		for _, d := range reg.List() {
			kind := "fetched"
			if _, ok := d.(catalog.Processor); ok {
				kind = "computed"
			} else if d.Root() == "" {
				kind = "precomputed"
			}
			fmt.Printf("%-22s %-34s %-10s %-8s %s\n",
				d.Type(), d.Name(), d.Var(), d.Freq(), kind)
		}
		return nil
	},
}

// --- Download Command ---

var downloadCmd = &cobra.Command{
	Use:   "download [type] [start] [end]",
	Short: "Materialize artifacts for a date or date range",
	Long: `Materialize artifacts of a data type into the local store. With a single
date one artifact is resolved; with two dates the whole range at the type's
frequency. --latest resolves everything from start up to the most recent
file the provider has published.

Examples:
  mergefetch download daily_rain 2023-03-01
  mergefetch download daily_rain 2023-01-01 2023-03-31
  mergefetch download daily_rain 2023-03-01 --latest
  mergefetch download monthly_accum_manual 2023-03`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		latest, _ := cmd.Flags().GetBool("latest")
		window, _ := cmd.Flags().GetInt("window")

		resolver, client, reg, err := buildResolver(mode)
		if err != nil {
			return err
		}
		d, err := reg.Lookup(args[0])
		if err != nil {
			return err
		}

		start, err := dateutil.Parse(args[1])
		if err != nil {
			return err
		}
		end := start
		switch {
		case latest:
			end, err = latestAvailable(cmd, client, d)
			if err != nil {
				return err
			}
			fmt.Printf("Latest available: %s\n", dateutil.Pretty(end))
		case len(args) == 3:
			end, err = dateutil.Parse(args[2])
			if err != nil {
				return err
			}
		}

		results, err := resolver.ResolveRange(cmd.Context(), d.Type(), start, end,
			catalog.Params{Window: window})
		if err != nil {
			return err
		}

		ok := 0
		for _, res := range results {
			if res.Err != nil {
				fmt.Printf("  %s  FAILED: %v\n", dateutil.Pretty(res.Date), res.Err)
				continue
			}
			fmt.Printf("  %s  %s\n", dateutil.Pretty(res.Date), res.Path)
			ok++
		}
		fmt.Printf("Resolved %d/%d artifacts\n", ok, len(results))
		if ok == 0 && len(results) > 0 {
			return fmt.Errorf("no artifacts could be resolved")
		}
		return nil
	},
}

func init() {
	downloadCmd.Flags().String("mode", "", "download mode override (force, update, no_update)")
	downloadCmd.Flags().Bool("latest", false, "extend the range to the provider's most recent file")
	downloadCmd.Flags().Int("window", 0, "window in months for parameterized types (e.g. spi)")
}

// latestAvailable probes the provider's directory listing for the most recent
// published file of a type, looking at the current month first and falling
// back one month. When the index itself is unavailable it probes recent keys
// directly with HEAD requests.
func latestAvailable(cmd *cobra.Command, client *fetch.Client, d catalog.Descriptor) (time.Time, error) {
	if d.Root() == "" {
		return time.Time{}, fmt.Errorf("%s is not fetched from the provider", d.Type())
	}
	probe := dateutil.Today()
	for i := 0; i < 2; i++ {
		dir := path.Join(d.Root(), d.Foldername(probe, catalog.Params{}))
		name, err := client.LastAvailable(cmd.Context(), dir, "MERGE_CPTEC_")
		if err == nil {
			raw := strings.TrimPrefix(strings.TrimSuffix(name, path.Ext(name)), "MERGE_CPTEC_")
			return dateutil.Parse(raw)
		}
		probe = probe.AddDate(0, -1, 0)
	}

	probe = dateutil.Today()
	for i := 0; i < 14; i++ {
		ok, err := client.Exists(cmd.Context(), catalog.RemoteTarget(d, probe, catalog.Params{}))
		if err == nil && ok {
			return probe, nil
		}
		switch d.Freq() {
		case dateutil.Monthly:
			probe = probe.AddDate(0, -1, 0)
		case dateutil.Yearly:
			probe = probe.AddDate(-1, 0, 0)
		default:
			probe = probe.AddDate(0, 0, -1)
		}
	}
	return time.Time{}, fmt.Errorf("no recent %s files found on the provider", d.Type())
}

// --- Series Command ---

var seriesCmd = &cobra.Command{
	Use:   "series [type] [start] [end]",
	Short: "Export the spatial-mean time series of a type as CSV",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetInt("window")
		output, _ := cmd.Flags().GetString("output")

		resolver, _, reg, err := buildResolver("")
		if err != nil {
			return err
		}
		d, err := reg.Lookup(args[0])
		if err != nil {
			return err
		}
		start, err := dateutil.Parse(args[1])
		if err != nil {
			return err
		}
		end, err := dateutil.Parse(args[2])
		if err != nil {
			return err
		}

		cube, err := resolver.Cube(cmd.Context(), d.Type(),
			dateutil.Range(start, end, d.Freq()), catalog.Params{Window: window})
		if err != nil {
			return err
		}

		out := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		w := csv.NewWriter(out)
		if err := w.Write([]string{"date", d.Var()}); err != nil {
			return err
		}
		means := cube.SpatialMean()
		for i, ts := range cube.Time {
			row := []string{dateutil.Normalize(ts), fmt.Sprintf("%.4f", means[i])}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	},
}

func init() {
	seriesCmd.Flags().Int("window", 0, "window in months for parameterized types")
	seriesCmd.Flags().StringP("output", "o", "", "write CSV to a file instead of stdout")
}

// --- Stats Command ---

var statsCmd = &cobra.Command{
	Use:   "stats [start] [end]",
	Short: "Precompute the rolling climatological statistics",
	Long: `Build the per-calendar-month mean and standard deviation of the rolling
window accumulation over a historical period. Standardized index types
refuse to resolve until these artifacts exist.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetInt("window")

		resolver, _, reg, err := buildResolver("")
		if err != nil {
			return err
		}
		start, err := dateutil.Parse(args[0])
		if err != nil {
			return err
		}
		end, err := dateutil.Parse(args[1])
		if err != nil {
			return err
		}

		job := stats.NewJob(resolver, reg, log)
		if err := job.Run(cmd.Context(), window, start, end); err != nil {
			return err
		}
		fmt.Printf("Statistics for a %d-month window written to %s\n",
			window, cfg.Storage.Folder)
		return nil
	},
}

func init() {
	statsCmd.Flags().Int("window", 3, "accumulation window in months")
}
