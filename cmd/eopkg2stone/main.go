package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/getsolus/eopkg2stone/pkg/catalog"
	"github.com/getsolus/eopkg2stone/pkg/depgraph"
	"github.com/getsolus/eopkg2stone/pkg/fetcher"
	"github.com/getsolus/eopkg2stone/pkg/fileutil"
	"github.com/getsolus/eopkg2stone/pkg/index"
	"github.com/getsolus/eopkg2stone/pkg/metadata"
	"github.com/getsolus/eopkg2stone/pkg/recipe"
	"github.com/getsolus/eopkg2stone/pkg/store"
)

const artifactsDir = "artifacts"

type options struct {
	indexPath   string
	origin      string
	cacheDir    string
	outputDir   string
	concurrency int64
	components  []string
	extras      []string
	keepGoing   bool
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "eopkg2stone")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "eopkg2stone",
		Short:        "Convert an eopkg repository index into stone build recipes",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.indexPath, "index", envOr("EOPKG2STONE_INDEX", ""), "path to eopkg-index.xml(.xz)")
	flags.StringVar(&opts.origin, "origin", envOr("EOPKG2STONE_ORIGIN", "https://packages.getsol.us/unstable/"), "repository origin URL")
	flags.StringVar(&opts.cacheDir, "cache-dir", envOr("EOPKG2STONE_CACHE_DIR", defaultCacheDir()), "cache directory")
	flags.StringVar(&opts.outputDir, "output", envOr("EOPKG2STONE_OUTPUT", "binary-conversion"), "recipe output directory")
	flags.Int64Var(&opts.concurrency, "concurrency", fetcher.DefaultLimit, "maximum in-flight downloads")
	flags.StringSliceVar(&opts.components, "components", []string{"system.base", "system.devel"}, "components seeding the dependency closure")
	flags.StringSliceVar(&opts.extras, "extra", []string{
		"libgcrypt", "libgnutls", "lsb-release", "inxi", "file", "tree", "which", "man-db",
	}, "extra packages seeding the dependency closure")
	flags.BoolVar(&opts.keepGoing, "keep-going", false, "emit recipes for the successful subset when some fetches fail")
	_ = cmd.MarkFlagRequired("index")

	return cmd
}

func run(ctx context.Context, opts options) error {
	idx, err := index.Open(opts.indexPath)
	if err != nil {
		return xerrors.Errorf("index load error: %w", err)
	}
	slog.Info("Index loaded",
		slog.String("distribution", idx.Distribution.SourceName),
		slog.Int("packages", len(idx.Packages)))

	cat := catalog.New(idx)
	bootstrap := cat.Bootstrap(opts.components, opts.extras)

	graph, err := depgraph.Build(cat, bootstrap)
	if err != nil {
		return xerrors.Errorf("closure error: %w", err)
	}
	sequence := graph.Sequence()
	slog.Info("Dependency closure solved",
		slog.Int("bootstrap", len(bootstrap)),
		slog.Int("closure", len(sequence)))

	st, err := store.New(opts.cacheDir)
	if err != nil {
		return xerrors.Errorf("store open error: %w", err)
	}
	defer st.Close()
	if err = st.Init(); err != nil {
		return xerrors.Errorf("store init error: %w", err)
	}

	artifactDir := filepath.Join(opts.cacheDir, artifactsDir)
	if cached, err := fileutil.Count(artifactDir); err == nil && cached > 0 {
		slog.Info("Cached artifacts found", slog.Int("count", cached))
	}

	bar := pb.StartNew(len(sequence))
	f, err := fetcher.New(fetcher.Option{
		Origin:   opts.origin,
		CacheDir: artifactDir,
		Limit:    opts.concurrency,
		Cache:    st,
		Progress: func() { bar.Increment() },
	})
	if err != nil {
		return xerrors.Errorf("fetcher init error: %w", err)
	}

	artifacts, failures, err := f.FetchAll(ctx, sequence, cat)
	bar.Finish()
	if err != nil {
		return xerrors.Errorf("fetch error: %w", err)
	}
	slog.Info("Fetch completed",
		slog.Int("fetched", len(artifacts)),
		slog.Int("failed", len(failures)),
		slog.Int64("bytes", f.Bytes()))

	if len(failures) > 0 {
		reportPath := filepath.Join(opts.cacheDir, "report.json")
		if err = fileutil.WriteJSON(reportPath, failureReport(failures)); err != nil {
			slog.Warn("Unable to write failure report", slog.String("error", err.Error()))
		} else {
			slog.Warn("Some fetches failed", slog.Int("count", len(failures)), slog.String("report", reportPath))
		}
		if !opts.keepGoing {
			return xerrors.Errorf("%d fetches failed (rerun with --keep-going to convert the successful subset)", len(failures))
		}
	}

	if err = os.RemoveAll(opts.outputDir); err != nil {
		return xerrors.Errorf("unable to clear output dir: %w", err)
	}
	if err = os.MkdirAll(opts.outputDir, os.ModePerm); err != nil {
		return xerrors.Errorf("unable to create output dir: %w", err)
	}

	groups := recipe.GroupBySource(artifacts)
	written, errs := recipe.NewWriter(opts.outputDir, opts.origin).WriteAll(groups)
	slog.Info("Recipes written", slog.Int("count", written), slog.Int("failed", len(errs)))

	meta := metadata.New(opts.cacheDir)
	if err = meta.Update(metadata.Metadata{
		Distribution: idx.Distribution.SourceName,
		PackageCount: len(artifacts),
		FailureCount: len(failures),
		UpdatedAt:    time.Now().UTC(),
	}); err != nil {
		slog.Warn("Unable to update metadata", slog.String("error", err.Error()))
	}

	return nil
}

type reportEntry struct {
	Name  string
	URI   string
	Error string
}

func failureReport(failures []fetcher.FetchError) []reportEntry {
	entries := make([]reportEntry, 0, len(failures))
	for _, f := range failures {
		entries = append(entries, reportEntry{Name: f.Name, URI: f.URI, Error: f.Err.Error()})
	}
	return entries
}

func main() {
	// Missing .env is fine, flags and real env still apply.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
