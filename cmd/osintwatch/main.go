package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"osintwatch/internal/collect"
	"osintwatch/internal/config"
	"osintwatch/internal/correlate"
	"osintwatch/internal/database"
	"osintwatch/internal/evaluate"
	"osintwatch/internal/pipeline"
	"osintwatch/internal/report"
	"osintwatch/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "osintwatch",
	Short:   "Protective intelligence OSINT monitor",
	Long:    "osintwatch collects open-source alerts, scores them, and correlates them into incident threads for protective intelligence analysts.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init, version, and eval
		switch cmd.Name() {
		case "init", "version", "eval":
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(correlateCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keywordsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("osintwatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/osintwatch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure feeds, keywords, and protected persons.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n\n", time.Now().UTC().Format("2006-01-02"))
		fmt.Println("Alerts:")
		fmt.Printf("  Total collected: %d\n", stats.TotalAlerts)
		fmt.Printf("  Unreviewed: %d\n", stats.UnreviewedAlerts)
		fmt.Printf("  Duplicates: %d\n", stats.Duplicates)
		fmt.Println("\nWatchlist:")
		fmt.Printf("  Sources: %d\n", stats.Sources)
		fmt.Printf("  Active keywords: %d\n", stats.ActiveKeywords)
		fmt.Printf("  POIs: %d\n", stats.POIs)
		fmt.Println("\nExtraction:")
		fmt.Printf("  Entities: %d\n", stats.Entities)
		fmt.Printf("  POI hits: %d\n", stats.POIHits)
		return nil
	},
}

// --- collect command ---

var collectDaysBack int

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect alerts from configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := pipeline.New(cfg, db).SyncWatchlist(); err != nil {
			return err
		}

		fmt.Println("Collecting alerts from sources...")
		collector := collect.NewCollector(cfg, db, collectDaysBack)
		result, err := collector.Collect()
		if err != nil {
			return err
		}

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Total found: %d\n", result.TotalFound)
		fmt.Printf("  New alerts: %d\n", result.NewAlerts)
		fmt.Printf("  Duplicates skipped: %d\n", result.Duplicates)
		fmt.Printf("  No keyword match: %d\n", result.NoKeyword)

		if len(result.Sources) > 0 {
			fmt.Println("\nAlerts by source:")
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range result.Sources {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().IntVar(&collectDaysBack, "days-back", 1, "Lookback window for feed items (days)")
}

// --- run command ---

var (
	dryRun   bool
	daysBack int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect -> fetch -> extract -> score -> correlate -> report",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db)

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(daysBack)
		} else {
			result = pipe.Run(daysBack)
		}

		fmt.Printf("Run %s (%s)\n", result.RunID, result.Date)
		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/6: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if !dryRun {
			fmt.Println("\nPipeline complete! Run 'osintwatch serve' to open the dashboard.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().IntVar(&daysBack, "days-back", 1, "Lookback window for collection (days)")
}

// --- correlate command ---

var (
	corrDays        int
	corrWindow      int
	corrMinCluster  int
	corrLimit       int
	corrIncludeDemo bool
	corrJSON        bool
)

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Correlate stored alerts into incident threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		opts := correlate.Options{
			Days:           corrDays,
			WindowHours:    corrWindow,
			MinClusterSize: corrMinCluster,
			Limit:          corrLimit,
			IncludeDemo:    corrIncludeDemo,
			MinLinkScore:   cfg.Correlation.MinLinkScore,
			MaxPairChecks:  cfg.Correlation.MaxPairChecks,
		}
		threads, err := correlate.NewEngine(db).BuildThreads(opts)
		if err != nil {
			return err
		}

		if corrJSON {
			return json.NewEncoder(os.Stdout).Encode(threads)
		}

		if len(threads) == 0 {
			fmt.Println("No correlated threads above threshold.")
			return nil
		}
		fmt.Printf("%d correlated threads:\n\n", len(threads))
		for _, thread := range threads {
			fmt.Printf("%s  %s\n", thread.ThreadID, thread.Label)
			fmt.Printf("  %d alerts, %d sources, confidence %.2f\n",
				thread.AlertsCount, thread.SourcesCount, thread.Confidence)
			fmt.Printf("  window: %s -> %s\n", thread.StartTS, thread.EndTS)
			if len(thread.ReasonCodes) > 0 {
				fmt.Printf("  reasons: %v\n", thread.ReasonCodes)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	correlateCmd.Flags().IntVar(&corrDays, "days", 0, "Lookback window (days, default from config)")
	correlateCmd.Flags().IntVar(&corrWindow, "window-hours", 0, "Pairwise time window (hours, default from config)")
	correlateCmd.Flags().IntVar(&corrMinCluster, "min-cluster-size", 0, "Minimum alerts per thread")
	correlateCmd.Flags().IntVar(&corrLimit, "limit", 0, "Maximum threads to return")
	correlateCmd.Flags().BoolVar(&corrIncludeDemo, "include-demo", false, "Include demo-source alerts")
	correlateCmd.Flags().BoolVar(&corrJSON, "json", false, "Emit threads as JSON")
}

// --- report command ---

var (
	reportDate   string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate the daily intelligence report",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		date := reportDate
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
		}

		engine := correlate.NewEngine(db)
		daily, err := report.NewGenerator(db, engine).DailyReport(date, correlate.Options{
			Days:           cfg.Correlation.Days,
			WindowHours:    cfg.Correlation.WindowHours,
			MinClusterSize: cfg.Correlation.MinClusterSize,
			Limit:          cfg.Correlation.Limit,
			IncludeDemo:    cfg.Correlation.IncludeDemo,
			MinLinkScore:   cfg.Correlation.MinLinkScore,
			MaxPairChecks:  cfg.Correlation.MaxPairChecks,
		})
		if err != nil {
			return err
		}

		md := daily.Markdown()
		if reportOutput != "" {
			if err := os.WriteFile(reportOutput, []byte(md), 0o644); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}
			fmt.Printf("Wrote report to %s\n", reportOutput)
			return nil
		}
		fmt.Print(md)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "Report date (YYYY-MM-DD, default today)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write report to file instead of stdout")
}

// --- eval command ---

var (
	evalDataset string
	evalOutput  string
	evalJSON    bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Run the correlation evaluation harness",
	RunE: func(cmd *cobra.Command, args []string) error {
		var dataset *evaluate.Dataset
		var err error
		if evalDataset != "" {
			dataset, err = evaluate.LoadDataset(evalDataset)
		} else {
			dataset, err = evaluate.LoadDefaultDataset()
		}
		if err != nil {
			return err
		}

		result, err := evaluate.Run(dataset)
		if err != nil {
			return err
		}

		var out string
		if evalJSON {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			out = string(data) + "\n"
		} else {
			out = evaluate.Markdown(result)
		}

		if evalOutput != "" {
			if err := os.WriteFile(evalOutput, []byte(out), 0o644); err != nil {
				return fmt.Errorf("writing evaluation output: %w", err)
			}
			fmt.Printf("Wrote evaluation to %s\n", evalOutput)
		} else {
			fmt.Print(out)
		}

		fmt.Fprintf(os.Stderr, "cases: %d, exact: %d, micro-F1: %.4f\n",
			result.CasesTotal, result.ExactMatchCases, result.Aggregate.F1)
		return nil
	},
}

func init() {
	evalCmd.Flags().StringVar(&evalDataset, "dataset", "", "Path to a dataset JSON file (default: built-in cases)")
	evalCmd.Flags().StringVarP(&evalOutput, "output", "o", "", "Write results to file instead of stdout")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "Emit results as JSON")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard and API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		fmt.Printf("Starting server at http://localhost:%d\n", cfg.Server.Port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, cfg)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port override (default from config)")
}

// --- keywords command ---

var keywordsCmd = &cobra.Command{
	Use:   "keywords",
	Short: "Manage watched keywords",
}

var keywordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all watched keywords",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		keywords, err := db.ListKeywords()
		if err != nil {
			return err
		}
		if len(keywords) == 0 {
			fmt.Println("No keywords defined. Add one with: osintwatch keywords add")
			return nil
		}

		fmt.Println("Watched keywords:")
		fmt.Println()
		for _, kw := range keywords {
			icon := " "
			if kw.Active {
				icon = "*"
			}
			fmt.Printf("  [%d] %s %s (%.1f, %s)\n", kw.ID, icon, kw.Term, kw.Weight, kw.Category)
		}
		return nil
	},
}

var (
	addCategory string
	addWeight   float64
)

var keywordsAddCmd = &cobra.Command{
	Use:   "add [term]",
	Short: "Add a watched keyword",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.UpsertKeyword(args[0], addCategory, addWeight)
		if err != nil {
			return err
		}
		fmt.Printf("Added keyword [%d]: %s\n", id, args[0])
		return nil
	},
}

var keywordsRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a watched keyword",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid keyword ID: %s", args[0])
		}

		keyword, err := db.GetKeyword(id)
		if err != nil {
			return err
		}
		if keyword == nil {
			return fmt.Errorf("keyword %d not found", id)
		}

		if _, err := db.DeleteKeyword(id); err != nil {
			return err
		}
		fmt.Printf("Removed keyword [%d]: %s\n", id, keyword.Term)
		return nil
	},
}

func init() {
	keywordsAddCmd.Flags().StringVar(&addCategory, "category", "general", "Keyword category")
	keywordsAddCmd.Flags().Float64Var(&addWeight, "weight", 1.0, "Scoring weight")

	keywordsCmd.AddCommand(keywordsListCmd)
	keywordsCmd.AddCommand(keywordsAddCmd)
	keywordsCmd.AddCommand(keywordsRemoveCmd)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "osintwatch.db")
	return database.Open(dbPath)
}
