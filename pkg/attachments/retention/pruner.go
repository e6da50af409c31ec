// Package retention prunes attachment records and generated files that have
// not been used for a configured number of days.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is how long an unused record or file is kept.
	// 0 disables pruning.
	RetentionDays int

	// Schedule is a standard cron expression, e.g. "0 3 * * *".
	Schedule string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 30,
		Schedule:      "0 3 * * *",
	}
}

// Target is something that can drop entries unused since a cutoff.
// attachments.Store and files.Store both satisfy it.
type Target interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Result reports one pruning cycle.
type Result struct {
	Records int
	Files   int
}

// Pruner enforces the retention window.
type Pruner struct {
	records Target
	files   Target
	config  *Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewPruner creates a pruner. Either target may be nil.
func NewPruner(records, files Target, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pruner{
		records: records,
		files:   files,
		config:  config,
		logger:  slog.Default().With("component", "attachments.retention"),
		now:     time.Now,
	}
}

// Prune deletes records and files older than the retention window. Both
// targets are attempted even if the first fails.
func (p *Pruner) Prune(ctx context.Context) (Result, error) {
	var res Result
	if p.config.RetentionDays <= 0 {
		return res, nil
	}

	cutoff := p.now().AddDate(0, 0, -p.config.RetentionDays)
	p.logger.Debug("pruning", "cutoff_time", cutoff, "retention_days", p.config.RetentionDays)

	var errs []error
	if p.records != nil {
		n, err := p.records.Prune(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune attachment records: %w", err))
		}
		res.Records = n
	}
	if p.files != nil {
		n, err := p.files.Prune(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("prune generated files: %w", err))
		}
		res.Files = n
	}

	if res.Records+res.Files > 0 {
		p.logger.Info("pruning completed",
			"records_deleted", res.Records,
			"files_deleted", res.Files,
			"retention_days", p.config.RetentionDays,
		)
	}
	return res, errors.Join(errs...)
}
