package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/andygrunwald/fuel-price-scraper/internal/models"
	"github.com/andygrunwald/fuel-price-scraper/internal/source"
)

// DoneSuffix is appended to inbox files after they were ingested.
const DoneSuffix = ".done"

// IngestInbox runs one batch per *.jsonl file in dir, in name order.
// Each file is renamed with DoneSuffix once its batch finished without a
// batch-fatal error. The first such error stops the remaining files.
func (p *Pipeline) IngestInbox(ctx context.Context, dir string) ([]*models.BatchRun, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("listing inbox %s: %w", dir, err)
	}
	sort.Strings(files)

	if len(files) == 0 {
		p.logger.Info().Str("inbox", dir).Msg("inbox is empty")
		return nil, nil
	}

	var runs []*models.BatchRun
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return runs, err
		}

		run, err := p.ingestFile(ctx, path)
		if run != nil {
			runs = append(runs, run)
		}
		if err != nil {
			return runs, err
		}

		if err := os.Rename(path, path+DoneSuffix); err != nil {
			return runs, fmt.Errorf("marking %s as done: %w", path, err)
		}
	}

	return runs, nil
}

func (p *Pipeline) ingestFile(ctx context.Context, path string) (*models.BatchRun, error) {
	src, err := source.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer src.Close() //nolint:errcheck

	return p.Run(ctx, src)
}
