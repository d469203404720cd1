package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"dota-ingest/internal/config"
	"dota-ingest/internal/ingest"
	"dota-ingest/internal/opendota"
	"dota-ingest/internal/replay"
)

func main() {
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "YAML config file")
	matchID := flag.Uint64("match", 0, "Match ID to look up")
	download := flag.Bool("replay", false, "Download the match replay")
	dir := flag.String("dir", "", "Replay directory (overrides config)")
	raw := flag.Bool("raw", false, "Print the full match record as JSON")
	flag.Parse()

	if *matchID == 0 && flag.NArg() > 0 {
		if id, err := strconv.ParseUint(flag.Arg(0), 10, 64); err == nil {
			*matchID = id
		}
	}
	if *matchID == 0 {
		fmt.Println("Usage:")
		fmt.Println("  inspect --match=8646005862 [--replay] [--dir=./replays] [--raw]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dir != "" {
		cfg.Replay.Dir = *dir
	}

	ctx := ingest.SetupSignalHandler(context.Background(), nil)
	client := opendota.NewClient(cfg.ClientOptions()...)

	fmt.Printf("Looking up match %d...\n", *matchID)
	detail, err := client.GetMatchDetails(ctx, *matchID)
	if err != nil {
		if errors.Is(err, opendota.ErrNotFound) {
			log.Fatalf("Match %d not found (not parsed yet, or the id is wrong)", *matchID)
		}
		log.Fatalf("Failed to fetch match %d: %v", *matchID, err)
	}

	if *raw {
		out, err := json.MarshalIndent(detail, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode match: %v", err)
		}
		fmt.Println(string(out))
	} else {
		printDetail(detail)
	}

	if !*download {
		return
	}
	if !detail.HasReplay() {
		log.Fatalf("Match %d has no replay url", *matchID)
	}

	fetcher := replay.NewFetcher(opendota.NewClient(cfg.ReplayClientOptions()...), cfg.Replay.Dir)
	dest := fetcher.Destination(detail.MatchID, detail.ReplayURL)
	fmt.Printf("Downloading %s\n  -> %s\n", detail.ReplayURL, dest)
	if err := fetcher.DownloadReplay(ctx, detail.ReplayURL, dest); err != nil {
		log.Fatalf("Replay download failed: %v", err)
	}
}

// printDetail shows a few well-known fields of a match record
func printDetail(d *opendota.MatchDetail) {
	fmt.Printf("  Match ID: %d\n", d.MatchID)

	var duration int
	if ok, _ := d.Attr("duration", &duration); ok {
		fmt.Printf("  Duration: %dm%02ds\n", duration/60, duration%60)
	}
	var radiantWin bool
	if ok, _ := d.Attr("radiant_win", &radiantWin); ok {
		winner := "Dire"
		if radiantWin {
			winner = "Radiant"
		}
		fmt.Printf("  Winner: %s\n", winner)
	}
	var start int64
	if ok, _ := d.Attr("start_time", &start); ok {
		fmt.Printf("  Started: %s\n", opendota.MatchSummary{StartTime: start}.StartedAt().Format("2006-01-02 15:04:05 MST"))
	}

	if d.HasReplay() {
		fmt.Printf("  Replay: %s\n", d.ReplayURL)
	} else {
		fmt.Println("  Replay: none")
	}
}
