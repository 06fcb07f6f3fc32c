package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"attack-graph/internal/config"
	"attack-graph/internal/domain/models"
	"attack-graph/internal/domain/services"
	"attack-graph/internal/infrastructure/audit"
	"attack-graph/internal/infrastructure/cache"
	"attack-graph/internal/infrastructure/database"
	"attack-graph/internal/infrastructure/graph"
	"attack-graph/internal/sources/mitre"
	"attack-graph/internal/stix"
	"attack-graph/pkg/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a config file (yaml, json or toml)")
	flags.String("bundle", "", "path to the ATT&CK STIX bundle")
	flags.Int("batch-size", 0, "rows written per transaction")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	noDownload := flags.Bool("no-download", false, "fail instead of downloading a missing bundle")
	noProgress := flags.Bool("no-progress", false, "disable progress bars")
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *noDownload {
		cfg.STIX.Download = false
	}
	if *noProgress {
		cfg.Ingest.Progress = false
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		TimeFormat: cfg.Logger.TimeFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := models.NewRunReport(cfg.STIX.BundleFile)
	log = log.WithRunID(report.ID.String())

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Str("bundle", cfg.STIX.BundleFile).
		Msg("starting ATT&CK graph ingestion")

	recorder, closeAudit := openAudit(ctx, cfg.Audit, log)
	defer closeAudit()

	stats, err := ingest(ctx, cfg, log, report)
	report.Finish(stats, err)

	// The run context may already be canceled; the report is still written.
	auditCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := recorder.Record(auditCtx, report); err != nil {
		log.Warn().Err(err).Msg("run report not recorded by every sink")
	}

	printSummary(os.Stdout, report)

	if err != nil {
		log.WithError(err).Error().Msg("ingestion failed")
		return 1
	}
	log.Info().Dur("duration", report.FinishedAt.Sub(report.StartedAt)).Msg("ingestion completed")
	return 0
}

// ingest resolves and loads the bundle, then builds the graph. Stats are
// returned even when the build fails part way.
func ingest(ctx context.Context, cfg *config.Config, log *logger.Logger, report *models.RunReport) (*models.IngestStats, error) {
	var sourceOpts []mitre.SourceOption
	if cfg.Ingest.Progress {
		sourceOpts = append(sourceOpts, mitre.WithDownloadProgress(os.Stderr))
	}
	path, err := mitre.NewBundleSource(cfg.STIX, log, sourceOpts...).Resolve(ctx, cfg.STIX.BundleFile)
	if err != nil {
		return nil, err
	}

	catalog, err := stix.LoadFile(path)
	if err != nil {
		return nil, err
	}
	report.BundleID = catalog.BundleID()
	logCatalog(log, path, catalog)

	client, err := graph.NewNeo4jClient(ctx, cfg.Neo4j, log)
	if err != nil {
		return nil, models.NewStoreError("connect", err)
	}
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to close Neo4j driver")
		}
	}()

	repo := graph.NewGraphRepository(client, log)

	opts := []services.BuilderOption{services.WithBatchSize(cfg.Ingest.BatchSize)}
	if cfg.Ingest.Progress {
		opts = append(opts, services.WithProgress(newProgressBar(os.Stderr)))
	}
	stats, err := services.NewGraphBuilder(repo, log, opts...).Build(ctx, catalog)
	if err != nil {
		return stats, err
	}

	totals, err := repo.GraphTotals(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to count graph after build")
	} else {
		report.GraphTotal = totals
	}

	return stats, nil
}

// openAudit connects the enabled audit sinks. A sink that cannot be reached
// is logged and left out; it never stops the run.
func openAudit(ctx context.Context, cfg config.AuditConfig, log *logger.Logger) (*audit.MultiRecorder, func()) {
	var (
		recorders []audit.Recorder
		closers   []func()
	)

	if cfg.Postgres.Enabled {
		db, err := database.NewPostgres(ctx, cfg.Postgres, log)
		if err != nil {
			log.Warn().Err(err).Msg("PostgreSQL audit sink unavailable")
		} else {
			closers = append(closers, db.Close)
			if rec, err := audit.NewPostgresRecorder(ctx, db); err != nil {
				log.Warn().Err(err).Msg("PostgreSQL audit sink unavailable")
			} else {
				recorders = append(recorders, rec)
			}
		}
	}

	if cfg.Redis.Enabled {
		rc, err := cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("Redis audit sink unavailable")
		} else {
			closers = append(closers, func() { _ = rc.Close() })
			recorders = append(recorders, audit.NewRedisRecorder(rc, cfg.Redis.TTL))
		}
	}

	return audit.NewMultiRecorder(log, recorders...), func() {
		for _, c := range closers {
			c()
		}
	}
}

func logCatalog(log *logger.Logger, path string, catalog *stix.Catalog) {
	event := log.Info().Str("path", path).Str("bundle_id", catalog.BundleID()).Int("objects", catalog.Len())
	for t, n := range catalog.Counts() {
		event = event.Int(string(t), n)
	}
	event.Msg("bundle loaded")
}

func printSummary(w io.Writer, report *models.RunReport) {
	fmt.Fprintf(w, "run %s: %s\n", report.ID, report.Status)
	if report.Stats == nil {
		return
	}
	s := report.Stats

	fmt.Fprintf(w, "  objects:        %d\n", s.Objects)
	fmt.Fprintf(w, "  nodes:          %d (filtered %d, skipped %d)\n",
		s.Nodes.TotalCreated(), s.Nodes.Filtered, s.Nodes.Skipped)
	for _, label := range models.NodeLabels {
		fmt.Fprintf(w, "    %-16s %d\n", label, s.Nodes.Created[label])
	}

	r := s.Relationships
	fmt.Fprintf(w, "  relationships:  %d (filtered %d, dangling %d, unclassified %d, duplicates %d)\n",
		r.TotalCreated(), r.Filtered, r.SkippedDangling, r.SkippedUnclassified, r.Duplicates)
	for _, kind := range models.EdgeKinds {
		fmt.Fprintf(w, "    %-16s %d\n", kind, r.Created[kind])
	}
	fmt.Fprintf(w, "  tactic links:   %d (unknown phases %d)\n", r.DerivedCreated, r.DerivedSkipped)

	if len(report.GraphTotal) > 0 {
		keys := make([]string, 0, len(report.GraphTotal))
		for k := range report.GraphTotal {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "  graph totals:\n")
		for _, k := range keys {
			fmt.Fprintf(w, "    %-16s %d\n", k, report.GraphTotal[k])
		}
	}
	fmt.Fprintf(w, "  duration:       %s\n", s.Duration.Round(time.Millisecond))
}
