package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"taskcal/internal/config"
	"taskcal/internal/ics"
	applog "taskcal/internal/log"
	"taskcal/internal/session"
)

func newCron() *cron.Cron {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
}

// startJobs schedules the holiday feed refresh and the session sweep.
func startJobs(ctx context.Context, cfg *config.Config, feeds *ics.FeedSet, store *session.Store) (*cron.Cron, error) {
	c := newCron()
	if len(cfg.Holidays.Feeds) > 0 {
		if _, err := c.AddFunc(cfg.Holidays.RefreshCron, func() {
			if err := feeds.Refresh(ctx); err != nil {
				applog.Error("holiday refresh failed", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("holidays.refresh %q: %w", cfg.Holidays.RefreshCron, err)
		}
	}
	if _, err := c.AddFunc(cfg.StatsCron, func() { sweepSessions(store) }); err != nil {
		return nil, fmt.Errorf("stats_cron %q: %w", cfg.StatsCron, err)
	}
	c.Start()
	applog.Info("scheduler started", "jobs", len(c.Entries()))
	return c, nil
}

func sweepSessions(store *session.Store) {
	evicted := store.EvictStale()
	applog.Info("session stats", "live", store.Len(), "evicted", evicted, "by_state", store.Summary())
}

func stopJobs(c *cron.Cron) {
	<-c.Stop().Done()
	applog.Info("scheduler stopped")
}
