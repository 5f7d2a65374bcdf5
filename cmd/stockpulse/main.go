// StockPulse tracks retail stock sentiment and suggests option trades.
//
// Main CLI entrypoint using cobra command framework. Every job is a one-shot
// command meant to be run from cron.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"

	"github.com/seenimoa/stockpulse/api"
	"github.com/seenimoa/stockpulse/internal/accuracy"
	"github.com/seenimoa/stockpulse/internal/config"
	"github.com/seenimoa/stockpulse/internal/datasource"
	"github.com/seenimoa/stockpulse/internal/ingest"
	"github.com/seenimoa/stockpulse/internal/llm"
	"github.com/seenimoa/stockpulse/internal/logging"
	"github.com/seenimoa/stockpulse/internal/scanner"
	"github.com/seenimoa/stockpulse/internal/store"
	"github.com/seenimoa/stockpulse/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global state set up by the root command.
var (
	cfg *config.Config
	log *zap.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if log != nil {
		_ = log.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stockpulse",
	Short: "StockPulse: retail sentiment and options-flow tracker",
	Long: `StockPulse scans a watchlist, asks an AI model to score option ideas,
and stores them in batches. It also ingests social posts from screenshots
and keeps score of how often each author calls the move right.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
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
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		log, err = logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "print the run summary as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(volatilityCmd)
	rootCmd.AddCommand(incomeCmd)
	rootCmd.AddCommand(scoreAuthorsCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Shared wiring ---

func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func newScanner(st *store.Store) (*scanner.Scanner, error) {
	src, err := datasource.NewSourceFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	router, err := llm.NewRouterFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	fetcher := datasource.NewFetcher(src, cfg.Market, log)
	return scanner.New(cfg.Scanner, fetcher, router, st, log,
		scanner.WithChatOptions(llm.DefaultOptions(cfg))), nil
}

// printResult writes v as pretty JSON when --json is set, otherwise the
// plain-text fallback.
func printResult(cmd *cobra.Command, v any, text func()) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	if !asJSON {
		text()
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	out := pretty.Pretty(raw)
	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		out = pretty.Color(out, nil)
	}
	_, err = os.Stdout.Write(out)
	return err
}

func printScan(cmd *cobra.Command, label string, res *scanner.Result) error {
	return printResult(cmd, res, func() {
		fmt.Printf("%s batch %s\n", label, res.BatchAt.In(utils.Eastern).Format(time.DateTime))
		fmt.Printf("  snapshots: %d  skipped: %d\n", res.Snapshots, len(res.Skipped))
		for _, c := range res.Candidates {
			fmt.Printf("  %-6s %-8s score %.2f\n", c.Ticker, c.Direction, c.Score)
		}
		fmt.Printf("  written: %d  failed: %d  tokens: %d\n",
			res.Write.Written, res.Write.Failed, res.Usage.TotalTokens)
	})
}

// runScan opens the store, builds the scanner and runs one pipeline.
func runScan(cmd *cobra.Command, label string, run func(*scanner.Scanner, context.Context) (*scanner.Result, error)) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	sc, err := newScanner(st)
	if err != nil {
		return err
	}
	res, err := run(sc, cmd.Context())
	if err != nil {
		return fmt.Errorf("%s scan: %w", label, err)
	}
	return printScan(cmd, label, res)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("StockPulse %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Scan Commands ---

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Score directional option ideas for the watchlist",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, "trades", (*scanner.Scanner).RunTrades)
	},
}

var volatilityCmd = &cobra.Command{
	Use:   "volatility",
	Short: "Rank the watchlist by implied volatility",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, "volatility", (*scanner.Scanner).RunVolatility)
	},
}

var incomeCmd = &cobra.Command{
	Use:   "income",
	Short: "Suggest cash-secured puts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, "income", (*scanner.Scanner).RunIncome)
	},
}

// --- Author Accuracy ---

var scoreAuthorsCmd = &cobra.Command{
	Use:   "score-authors",
	Short: "Score aged posts and update author accuracy",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		src, err := datasource.NewSourceFromConfig(cfg, log)
		if err != nil {
			return err
		}
		sum, err := accuracy.New(cfg.Accuracy, src, st, log).Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("score authors: %w", err)
		}
		return printResult(cmd, sum, func() { fmt.Println(sum.String()) })
	},
}

// --- Screenshot Ingestion ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [image...]",
	Short: "Extract sentiment posts from screenshots",
	Long: `Extract sentiment posts from one or more screenshots with the vision
model. Each argument is an image file path or a data: URL.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		router, err := llm.NewRouterFromConfig(cfg, log)
		if err != nil {
			return err
		}
		opts := llm.DefaultOptions(cfg)
		if cfg.LLM.VisionModel != "" {
			opts.Model = cfg.LLM.VisionModel
		}
		ingestOpts := []ingest.Option{ingest.WithChatOptions(opts)}
		if src, err := datasource.NewSourceFromConfig(cfg, log); err == nil {
			ingestOpts = append(ingestOpts, ingest.WithPriceSource(src))
		} else {
			log.Warn("entry prices disabled", zap.Error(err))
		}
		in := ingest.New(router, st, log, ingestOpts...)

		var results []*ingest.Result
		var failed int
		for _, ref := range args {
			img, err := ingest.LoadImage(ref)
			if err == nil {
				var res *ingest.Result
				res, err = in.Ingest(cmd.Context(), img)
				if err == nil {
					results = append(results, res)
					continue
				}
			}
			failed++
			log.Error("screenshot failed", zap.String("image", ref), zap.Error(err))
			if errors.Is(err, context.Canceled) {
				return err
			}
		}

		err = printResult(cmd, results, func() {
			for i, r := range results {
				fmt.Printf("screenshot %d: %d posts, %d written, %d failed\n", i+1, len(r.Posts), r.Written, r.Failed)
			}
		})
		if err != nil {
			return err
		}
		if failed == len(args) {
			return errors.New("ingest: no screenshot could be processed")
		}
		return nil
	},
}

// --- Short-horizon Verification ---

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check recent posts against the live price",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		src, err := datasource.NewSourceFromConfig(cfg, log)
		if err != nil {
			return err
		}
		lookback, _ := cmd.Flags().GetDuration("lookback")
		sum, err := ingest.NewVerifier(src, st, lookback, log).Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		return printResult(cmd, sum, func() {
			fmt.Printf("checked %d, correct %d, skipped %d, failed %d\n",
				sum.Checked, sum.Correct, sum.Skipped, sum.Failed)
		})
	},
}

func init() {
	verifyCmd.Flags().Duration("lookback", 7*24*time.Hour, "only verify posts newer than this")
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only report API",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		api.Version = version
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		return api.NewServer(cfg, st, log).ListenAndServe(cmd.Context(), addr)
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and check connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  StockPulse — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Market Status: %s\n", utils.MarketStatus(time.Now()))
		fmt.Printf("  Time (ET):     %s\n", time.Now().In(utils.Eastern).Format(time.DateTime))
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    LLM Provider:  %s (model: %s)\n", cfg.LLM.Primary, cfg.LLM.Model)
		fmt.Printf("    Market Data:   %s\n", cfg.Market.Provider)
		fmt.Printf("    Database:      %s\n", cfg.Database.Driver)
		fmt.Printf("    Watchlist:     %d tickers\n", len(cfg.Scanner.Watchlist))
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println()

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}
		fmt.Println()

		fmt.Println("  Connectivity:")
		fmt.Printf("    %-25s %s\n", "Database:", checkStore(ctx))
		fmt.Printf("    %-25s %s\n", "LLM:", checkLLM(ctx))
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

func checkStore(ctx context.Context) string {
	st, err := openStore()
	if err != nil {
		return "❌ " + err.Error()
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return "❌ " + err.Error()
	}
	return "✅ ok"
}

func checkLLM(ctx context.Context) string {
	router, err := llm.NewRouterFromConfig(cfg, log)
	if err != nil {
		return "❌ " + err.Error()
	}
	if err := router.Ping(ctx); err != nil {
		return "❌ " + err.Error()
	}
	return "✅ " + router.Name()
}
