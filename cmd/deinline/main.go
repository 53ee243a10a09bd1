package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/soochol/deinline/internal/api"
	"github.com/soochol/deinline/internal/config"
	"github.com/soochol/deinline/internal/db"
	"github.com/soochol/deinline/internal/deinline"
	"github.com/soochol/deinline/internal/extract"
	"github.com/soochol/deinline/internal/report"
	"github.com/soochol/deinline/internal/repository"
	"github.com/soochol/deinline/internal/services"
	"github.com/soochol/deinline/internal/storage"
)

const version = "0.1.0"

// stdout receives progress and summary lines.
var stdout io.Writer = os.Stdout

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run executes one subcommand and returns the process exit code. Per-match
// decode failures still exit 0; config, I/O and server errors exit 1.
func run(ctx context.Context, argv []string) int {
	if len(argv) < 1 {
		usage()
		return 1
	}

	var err error
	switch cmd, args := argv[0], argv[1:]; cmd {
	case "run":
		err = runCmd(ctx, args)
	case "batch":
		err = batchCmd(ctx, args)
	case "serve":
		err = serveCmd(ctx, args)
	case "token":
		err = tokenCmd(args)
	case "version":
		fmt.Fprintf(stdout, "deinline v%s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		return 1
	}
	if err != nil {
		slog.Error("deinline failed", "err", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Println("deinline v" + version)
	fmt.Println("Usage:")
	fmt.Println("  deinline run   [-config deinline.yaml] [-input f] [-output f] [-assets dir] [-prefix p] [-replace last|first|positional] [-keep expr] [-report f.xlsx] [-v]")
	fmt.Println("  deinline batch [-config deinline.yaml] [-schedule cron] [-report f.xlsx] [-v]")
	fmt.Println("  deinline serve [-config deinline.yaml] [-v]")
	fmt.Println("  deinline token [-config deinline.yaml] [-sub name] [-ttl 24h]")
	fmt.Println("  deinline version")
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	configPath string
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "config file (default: "+config.DefaultFile+" when present)")
	fs.BoolVar(&c.verbose, "v", false, "debug logging")
}

// load reads the config file and environment, then validates.
func (c *commonFlags) load() (*config.Config, error) {
	if c.verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.Load(c.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newService(cfg *config.Config, runs repository.RunRepository) (*services.ExtractionService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	keep, err := extract.NewKeepFilter(cfg.KeepInline)
	if err != nil {
		return nil, err
	}
	return services.NewExtractionService(services.Options{Policy: cfg.Policy(), Keep: keep}, runs), nil
}

func printLine(msg string) { fmt.Fprintln(stdout, msg) }

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	input := fs.String("input", "", "input document")
	output := fs.String("output", "", "rewritten document path")
	assets := fs.String("assets", "", "directory for extracted images")
	prefix := fs.String("prefix", "", "relative reference prefix (default: ./<assets base name>)")
	replace := fs.String("replace", "", "duplicate handling: last, first or positional")
	keep := fs.String("keep", "", "expression selecting images to leave inline")
	reportPath := fs.String("report", "", "write an XLSX report of the run to this path")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	job := cfg.Job
	override(&job.Input, *input)
	override(&job.Output, *output)
	override(&job.AssetsDir, *assets)
	override(&job.AssetsPrefix, *prefix)
	override(&cfg.Replace, *replace)
	override(&cfg.KeepInline, *keep)

	svc, err := newService(cfg, nil)
	if err != nil {
		return err
	}

	rec, err := svc.RunJob(extract.WithLogFunc(ctx, printLine), job)
	if *reportPath != "" && rec != nil {
		if rerr := report.WriteFile(*reportPath, []*deinline.RunRecord{rec}); rerr != nil {
			slog.Error("write report", "path", *reportPath, "err", rerr)
		}
	}
	if err != nil {
		return err
	}
	printSummary(stdout, rec)
	return nil
}

func batchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	schedule := fs.String("schedule", "", "cron expression; repeat the batch until interrupted")
	reportPath := fs.String("report", "", "write an XLSX report of the runs to this path")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	override(&cfg.Batch.Schedule, *schedule)
	if len(cfg.Jobs) == 0 {
		return errors.New("config has no jobs")
	}
	svc, err := newService(cfg, nil)
	if err != nil {
		return err
	}
	ctx = extract.WithLogFunc(ctx, printLine)

	finished := func(records []*deinline.RunRecord, err error) {
		for _, rec := range records {
			if rec != nil && rec.Status != deinline.RunStatusFailed {
				fmt.Fprintf(stdout, "\n[%s]\n", rec.Job.Label())
				printSummary(stdout, rec)
			}
		}
		if *reportPath != "" {
			if rerr := report.WriteFile(*reportPath, records); rerr != nil {
				slog.Error("write report", "path", *reportPath, "err", rerr)
			}
		}
	}

	if cfg.Batch.Schedule != "" {
		return svc.RunScheduled(ctx, cfg.Batch.Schedule, cfg.Batch.Timezone, cfg.Jobs, cfg.Batch.Concurrency, finished)
	}
	records, err := svc.RunBatch(ctx, cfg.Jobs, cfg.Batch.Concurrency)
	finished(records, err)
	return err
}

func serveCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	var runs repository.RunRepository = repository.NewMemoryRunRepository()
	if url := cfg.Database.URL; url != "" {
		database, err := db.Connect(ctx, url, db.DefaultRetryPolicy())
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		runs = repository.NewPersistentRunRepository(repository.NewMemoryRunRepository(), database)
		slog.Info("run history persisted to database")
	}
	svc, err := newService(cfg, runs)
	if err != nil {
		return err
	}
	svc.CleanupOrphanedRuns(ctx)

	stores, err := assetStores(ctx, cfg)
	if err != nil {
		return err
	}

	limiter := services.NewConcurrencyLimiter(cfg.Server.MaxConcurrent)
	srv := api.NewServer(svc, runs, limiter, stores)
	if cfg.Server.JWTSecret != "" {
		srv.RequireAuth(cfg.Server.JWTSecret)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	go func() {
		<-ctx.Done()
		httpSrv.Shutdown(context.Background())
	}()

	slog.Info("starting deinline server", "addr", addr, "storage", cfg.Server.Storage)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// tokenCmd prints a bearer token for the API signed with server.jwt_secret.
func tokenCmd(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	sub := fs.String("sub", "deinline", "token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	token, err := api.IssueToken(cfg.Server.JWTSecret, *sub, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}

// assetStores selects where server runs keep their images.
func assetStores(ctx context.Context, cfg *config.Config) (api.StoreFunc, error) {
	if cfg.Server.Storage != "s3" {
		return api.LocalStores(cfg.Server.AssetsDir), nil
	}
	client, err := storage.NewS3Client(ctx, storage.S3Config{
		Bucket:    cfg.S3.Bucket,
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("storing run assets in S3", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	return api.S3Stores(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
}

func printSummary(w io.Writer, rec *deinline.RunRecord) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "✓ extracted %d image(s)\n", len(rec.Images))
	if n := len(rec.Failures); n > 0 {
		fmt.Fprintf(w, "✗ %d failure(s)\n", n)
	}
	if n := len(rec.Kept); n > 0 {
		fmt.Fprintf(w, "• %d image(s) kept inline\n", n)
	}
	if a := rec.Audit; a != nil && len(a.MissingFiles) > 0 {
		fmt.Fprintf(w, "✗ %d referenced file(s) missing: %v\n", len(a.MissingFiles), a.MissingFiles)
	}
	fmt.Fprintf(w, "✓ rewritten document: %s\n", rec.Job.Output)
	fmt.Fprintf(w, "✓ assets directory: %s\n", rec.Job.AssetsDir)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
