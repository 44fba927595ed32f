package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/tonysoukkeo/eshopwatch/internal/config"
	"github.com/tonysoukkeo/eshopwatch/internal/scheduler"
	"github.com/tonysoukkeo/eshopwatch/internal/store"
	"github.com/tonysoukkeo/eshopwatch/pkg/catalog"
	"github.com/tonysoukkeo/eshopwatch/pkg/mail"
	"github.com/tonysoukkeo/eshopwatch/pkg/server"
	"github.com/tonysoukkeo/eshopwatch/pkg/site"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildAdapter(cfg *config.Config) site.Adapter {
	var deals *site.DealsFeed
	if cfg.Site.DealsFeedURL != "" {
		deals = site.NewDealsFeed(cfg.Site.DealsFeedURL)
	}
	return site.NewStorefront(cfg.Site.BaseURL, cfg.Site.ParseRequestTimeout(), deals)
}

func buildMailer(cfg *config.Config) mail.Mailer {
	if !cfg.Mail.Enabled || cfg.Mail.APIKey == "" {
		return nil
	}
	return mail.NewSendGrid(cfg.Mail.APIKey, cfg.Mail.From)
}

func buildEngine(cfg *config.Config, db store.Store) *catalog.Engine {
	return catalog.NewEngine(db, buildAdapter(cfg), buildMailer(cfg))
}

func runSync(category string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine := buildEngine(cfg, db)
	ctx := context.Background()

	if category != "" {
		cat, err := parseCategory(category)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "syncing %s...\n", cat)
		cs, err := engine.Reconcile(ctx, cat)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, catalog.Summary{Categories: []catalog.CategorySummary{cs}}.String())
		return nil
	}

	fmt.Fprintln(os.Stderr, "syncing all categories...")
	summary, err := engine.ReconcileAll(ctx)
	if out := summary.String(); out != "" {
		fmt.Fprintln(os.Stderr, out)
	}
	return err
}

func runList(category string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cat, err := parseCategory(category)
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	entries, err := db.ListIndex(context.Background(), cat)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Printf("no %s entries (try syncing first: eshopwatch sync)\n", cat)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTITLE\tPRICE\tSALE")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			e.Position+1, e.Title, priceStr(e.Price), priceStr(e.SalePrice))
	}
	return w.Flush()
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	srv := server.New(db, buildEngine(cfg, db), port)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	engine := buildEngine(cfg, db)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(engine, cfg.Schedule.ParseSyncInterval())

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "scheduler error: %v\n", err)
		}
	}()

	srv := server.New(db, engine, port)
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	}()

	return srv.ListenAndServe()
}

func parseCategory(name string) (site.Category, error) {
	for _, cat := range site.AllCategories() {
		if string(cat) == name {
			return cat, nil
		}
	}
	return "", fmt.Errorf("unknown category %q (one of: sale, dlc, coming-soon, demo, new-release)", name)
}

func priceStr(p *float64) string {
	if p == nil {
		return "-"
	}
	if *p == 0 {
		return "free"
	}
	return fmt.Sprintf("$%.2f", *p)
}
