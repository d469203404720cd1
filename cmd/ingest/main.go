package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"dota-ingest/internal/config"
	"dota-ingest/internal/ingest"
	"dota-ingest/internal/notify"
	"dota-ingest/internal/opendota"
	"dota-ingest/internal/replay"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file - try multiple locations
	envPaths := []string{".env", "../.env", "../../.env"}
	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			fmt.Printf("Loaded .env from: %s\n", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		log.Println("No .env file found, using environment variables")
	}

	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "YAML config file")
	minRank := flag.Int("min-rank", 0, "Lowest rank tier to ingest (overrides config)")
	maxRank := flag.Int("max-rank", 0, "Highest rank tier to ingest (overrides config)")
	mode := flag.String("mode", "", "backfill or catchup (overrides config)")
	pages := flag.Int("pages", 0, "Maximum pages to fetch, 0 for unlimited (overrides config)")
	budget := flag.Duration("budget", 0, "Stop after this long (overrides config)")
	details := flag.Bool("details", false, "Fetch match details (overrides config)")
	replays := flag.Bool("replays", false, "Download replays, implies -details (overrides config)")
	concurrency := flag.Int("concurrency", 0, "Detail/replay workers (overrides config)")
	jsonl := flag.Bool("jsonl", false, "Also write every record to stdout as JSON lines")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 2
	}

	// Only flags given on the command line override the config
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min-rank":
			cfg.Bracket.MinRank = *minRank
		case "max-rank":
			cfg.Bracket.MaxRank = *maxRank
		case "mode":
			cfg.Policy.Mode = *mode
		case "pages":
			cfg.Policy.MaxPages = *pages
		case "budget":
			cfg.Policy.TimeBudget = *budget
		case "details":
			cfg.Policy.FetchDetails = *details
		case "replays":
			cfg.Policy.DownloadReplays = *replays
			if *replays {
				cfg.Policy.FetchDetails = true
			}
		case "concurrency":
			cfg.Policy.Concurrency = *concurrency
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 2
	}

	// The summary goes to stderr when stdout carries records
	var recordOut io.Writer
	summaryOut := io.Writer(os.Stdout)
	if *jsonl {
		recordOut = os.Stdout
		summaryOut = os.Stderr
	}

	ctx := ingest.SetupSignalHandler(context.Background(), func() {
		fmt.Fprintln(os.Stderr, "\n[Shutdown] Gracefully shutting down...")
	})

	res := newResources()
	defer res.Close()

	store, err := res.openCursorStore(ctx, cfg.Cursor)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	sink, err := res.openSinks(ctx, cfg.Output, recordOut)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	client := opendota.NewClient(cfg.ClientOptions()...)
	policy := cfg.IngestPolicy()

	var fetcher ingest.ReplayFetcher
	if policy.DownloadReplays {
		fetcher = replay.NewFetcher(opendota.NewClient(cfg.ReplayClientOptions()...), cfg.Replay.Dir)
		fmt.Fprintf(summaryOut, "Saving replays to: %s\n", cfg.Replay.Dir)
	}

	driver := ingest.NewDriver(client, client, fetcher, store, sink, policy)
	report, runErr := driver.Run(ctx)
	if report == nil {
		log.Printf("Run failed to start: %v", runErr)
		return 1
	}
	report.PrintSummary(summaryOut)
	if res.publisher != nil {
		fmt.Fprintf(summaryOut, "Published %d record(s) to %s\n", res.publisher.Sent(), cfg.Output.WebSocketURL)
	}

	// Flush the current file before archiving warm files
	if res.rotator != nil {
		if err := res.rotator.Close(); err != nil {
			log.Printf("Error closing rotator: %v", err)
		}
		if cfg.Output.Archive {
			archived, err := res.rotator.Archive()
			if err != nil {
				log.Printf("Error archiving output: %v", err)
			}
			fmt.Fprintf(summaryOut, "Archived %d file(s) to %s\n", len(archived), res.rotator.ColdDir())
		}
	}

	if cfg.Notify.WebhookURL != "" {
		// The run context may already be cancelled
		notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := notify.NewWebhookClient(cfg.Notify.WebhookURL).SendRunSummary(notifyCtx, report, runErr); err != nil {
			log.Printf("Failed to send webhook notification: %v", err)
		}
		cancel()
	}

	if runErr != nil {
		log.Printf("Run failed: %v", runErr)
		return 1
	}
	return 0
}
