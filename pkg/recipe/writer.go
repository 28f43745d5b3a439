package recipe

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/xerrors"

	"github.com/getsolus/eopkg2stone/pkg/fetcher"
)

const recipeFileName = "stone.yml"

// Writer emits one recipe directory per source group under its output dir.
type Writer struct {
	dir    string
	origin string
	logger *slog.Logger
}

func NewWriter(dir, origin string) Writer {
	return Writer{
		dir:    dir,
		origin: origin,
		logger: slog.With(slog.String("component", "recipe")),
	}
}

// WriteAll emits every group in source-name order. A failing group is
// reported and skipped; the others still get written. Returns the number of
// recipes written and the per-group failures.
func (w Writer) WriteAll(groups map[string][]fetcher.Artifact) (int, []error) {
	sources := make([]string, 0, len(groups))
	for source := range groups {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	var errs []error
	var written int
	for _, source := range sources {
		if err := w.write(source, groups[source]); err != nil {
			w.logger.Error("Recipe emission failed", slog.String("source", source), slog.String("error", err.Error()))
			errs = append(errs, xerrors.Errorf("source %s: %w", source, err))
			continue
		}
		written++
	}
	return written, errs
}

func (w Writer) write(source string, group []fetcher.Artifact) error {
	text, err := Convert(group, w.origin)
	if err != nil {
		return err
	}

	dir := filepath.Join(w.dir, source)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return xerrors.Errorf("unable to create a directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, recipeFileName), []byte(text), 0644); err != nil {
		return xerrors.Errorf("unable to write recipe: %w", err)
	}
	return nil
}
