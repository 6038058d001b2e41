// Command leadimport loads recipients into the work list from a CSV or
// JSON Lines file. Existing recipients keep their status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dispatchbot/internal/app"
	"dispatchbot/internal/config"
	"dispatchbot/internal/leads"
	logx "dispatchbot/pkg/logx"
)

func main() {
	var (
		cfgPath string
		input   string
		format  string
		batch   int
		dryRun  bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "bot config; only the store section is used")
	flag.StringVar(&input, "in", "", "input file (.csv or .jsonl)")
	flag.StringVar(&format, "format", "", "csv or jsonl (default: from the file extension)")
	flag.IntVar(&batch, "batch", 200, "items per store write")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and report without writing")
	flag.Parse()

	log := logx.NewConsole("INFO").With(logx.String("comp", "leadimport"))
	if err := run(cfgPath, input, format, batch, dryRun, log); err != nil {
		log.Error("import failed", logx.Err(err))
		os.Exit(1)
	}
}

func run(cfgPath, input, format string, batch int, dryRun bool, log logx.Logger) error {
	if input == "" {
		return fmt.Errorf("-in is required")
	}
	if format == "" {
		format = formatFromName(input)
	}

	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()

	items, skipped, err := parse(f, format)
	if err != nil {
		return err
	}
	log.Info("parsed input", logx.Int("items", len(items)), logx.Int("skipped", skipped))
	if dryRun {
		return nil
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	sc, err := app.StoreConfig(cfg)
	if err != nil {
		return err
	}
	store, err := leads.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	written, err := write(ctx, store, items, batch)
	log.Info("import finished", logx.String("driver", sc.Driver), logx.Int("written", written))
	return err
}

func formatFromName(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".csv") {
		return "csv"
	}
	return "jsonl"
}

func write(ctx context.Context, store leads.Store, items []leads.Item, batch int) (int, error) {
	if batch <= 0 {
		batch = 200
	}
	written := 0
	for start := 0; start < len(items); start += batch {
		end := min(start+batch, len(items))
		if err := store.Add(ctx, items[start:end]...); err != nil {
			return written, fmt.Errorf("write items %d..%d: %w", start, end, err)
		}
		written = end
	}
	return written, nil
}
