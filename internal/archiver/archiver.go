// Package archiver moves ended events out of the public agenda.
package archiver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/logging"
	"github.com/afromemo/afromemo/internal/metrics"
	"github.com/afromemo/afromemo/internal/store"
)

// Archiver archives active entries whose last day has passed. It runs once at
// start, again at the next midnight, then every interval.
type Archiver struct {
	store    *store.Store
	interval time.Duration
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

func New(st *store.Store, interval time.Duration, loc *time.Location, logger *slog.Logger) *Archiver {
	if loc == nil {
		loc = time.Local
	}
	return &Archiver{
		store:    st,
		interval: interval,
		loc:      loc,
		logger:   logging.OrDiscard(logger).With("component", "archiver"),
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	a.runOnce(ctx)

	delay := a.untilMidnight()
	a.logger.Info("next archive run at midnight", "in", delay.Round(time.Second))
	first := time.NewTimer(delay)
	defer first.Stop()
	select {
	case <-ctx.Done():
		return
	case <-first.C:
		a.runOnce(ctx)
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *Archiver) runOnce(ctx context.Context) {
	if _, err := a.ArchivePastEvents(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("archive past events", "error", err)
	}
}

// ArchivePastEvents archives the entries that ended before today and marks
// their submissions archived. It returns the number of archived entries.
func (a *Archiver) ArchivePastEvents(ctx context.Context) (int, error) {
	today := a.now().In(a.loc).Format(agenda.DateLayout)
	ids, err := a.store.Entries.ArchiveEnded(ctx, today)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		err := a.store.Submissions.SetStatus(ctx, id, store.SubmissionArchived)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("archive submission", "id", id, "error", err)
		}
	}
	metrics.AddArchivedEntries(len(ids))
	if len(ids) > 0 {
		a.logger.Info("archived past events", "count", len(ids), "before", today)
	}
	return len(ids), nil
}

func (a *Archiver) untilMidnight() time.Duration {
	now := a.now().In(a.loc)
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, a.loc)
	return next.Sub(now)
}
