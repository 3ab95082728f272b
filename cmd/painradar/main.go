// Command painradar harvests pain signals from social platforms, clusters
// them into demand themes, and serves the results over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"painradar/radar"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	setupLogging()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "rules":
		err = cmdRules(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: painradar <command> [flags]

commands:
  run     execute one pipeline run and exit
  serve   start the HTTP API (and scheduled runs, if configured)
  rules   manage watchlist rules: rules add | rules list`)
}

func setupLogging() {
	var lvl slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

func newService(configPath string) (*radar.Service, error) {
	cfg, err := radar.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return radar.New(cfg, slog.Default())
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	fs.Parse(args)

	svc, err := newService(*configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	run, err := svc.RunPipeline(ctx)
	if run != nil {
		fmt.Printf("run %s: %s\n", run.ID, run.Status)
		fmt.Printf("  fetched=%d deduped=%d extracted=%d clustered=%d alerts=%d failed=%d\n",
			run.Counts.Fetched, run.Counts.Deduped, run.Counts.Extracted,
			run.Counts.Clustered, run.Counts.AlertsRaised, run.Counts.FailedItems)
	}
	return err
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	fs.Parse(args)

	cfg, err := radar.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	svc, err := radar.New(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if spec := cfg.Pipeline.Schedule; spec != "" {
		c := cron.New()
		_, err := c.AddFunc(spec, func() {
			if _, err := svc.RunPipeline(ctx); err != nil {
				slog.Error("scheduled run failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("bad schedule %q: %w", spec, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		slog.Info("scheduler started", "schedule", spec)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", "addr", cfg.Server.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cmdRules(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: painradar rules <add|list> [flags]")
	}
	switch args[0] {
	case "add":
		return cmdRulesAdd(args[1:])
	case "list":
		return cmdRulesList(args[1:])
	default:
		return fmt.Errorf("unknown rules subcommand %q", args[0])
	}
}

func cmdRulesAdd(args []string) error {
	fs := flag.NewFlagSet("rules add", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	name := fs.String("name", "", "rule name")
	keywords := fs.String("keywords", "", "comma-separated keywords")
	scope := fs.String("sources", "", "comma-separated source names (empty = all)")
	recurrence := fs.Int("recurrence", 0, "alert when a theme spans at least this many threads")
	fs.Parse(args)

	svc, err := newService(*configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	rule, err := svc.AddRule(context.Background(), &radar.WatchlistRule{
		Name:                *name,
		Keywords:            splitList(*keywords),
		ScopeSources:        splitList(*scope),
		RecurrenceThreshold: *recurrence,
	})
	if err != nil {
		return err
	}
	fmt.Printf("rule %s created\n", rule.ID)
	return nil
}

func cmdRulesList(args []string) error {
	fs := flag.NewFlagSet("rules list", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	fs.Parse(args)

	svc, err := newService(*configPath)
	if err != nil {
		return err
	}
	defer svc.Close()

	rules, err := svc.Rules(context.Background(), false)
	if err != nil {
		return err
	}
	for _, r := range rules {
		state := "active"
		if !r.Active {
			state = "disabled"
		}
		fmt.Printf("%s  %-20s  %-8s  keywords=%s  recurrence=%d\n",
			r.ID, r.Name, state, strings.Join(r.Keywords, ","), r.RecurrenceThreshold)
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
