package ics

import (
	"context"
	"errors"
	"sync"
	"time"

	applog "taskcal/internal/log"
	"taskcal/internal/model"
)

// DefaultHorizonDays covers the recurrence engine's longest work-day shift
// plus a month of lookahead.
const DefaultHorizonDays = 400

// FeedSet holds the holiday dates of every configured feed. It is safe for
// concurrent use; Refresh swaps the whole set at once.
type FeedSet struct {
	fetcher *Fetcher
	feeds   []Feed
	horizon int
	now     func() time.Time

	mu        sync.RWMutex
	days      model.HolidaySet
	refreshed time.Time
}

func NewFeedSet(fetcher *Fetcher, feeds []Feed, horizonDays int) *FeedSet {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &FeedSet{
		fetcher: fetcher,
		feeds:   feeds,
		horizon: horizonDays,
		now:     time.Now,
	}
}

// Holidays returns the current feed holidays. Before the first successful
// refresh the set is empty.
func (s *FeedSet) Holidays() model.HolidaySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.days
}

// Refreshed is the time of the last successful refresh.
func (s *FeedSet) Refreshed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshed
}

// Refresh fetches, parses and expands every feed. Feeds that fail keep
// contributing nothing this round; the call errors only when every feed
// failed, leaving the previous set in place.
func (s *FeedSet) Refresh(ctx context.Context) error {
	if len(s.feeds) == 0 {
		return nil
	}
	results, errs := s.fetcher.FetchAll(ctx, s.feeds)

	var events []HolidayEvent
	parsed := 0
	for _, res := range results {
		evs, err := ParseFeed(res.Feed, res.Body)
		if err != nil {
			applog.Error("holiday feed parse failed", err, "feed", res.Feed.ID)
			errs = append(errs, err)
			continue
		}
		events = append(events, evs...)
		parsed++
	}
	if parsed == 0 {
		return errors.Join(append(errs, errors.New("no holiday feed could be loaded"))...)
	}

	today := model.DateOf(s.now())
	res, err := Expand(events, ExpandConfig{From: today, To: today.AddDays(s.horizon)})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.days = model.NewHolidaySet(res.Days)
	s.refreshed = s.now()
	s.mu.Unlock()

	applog.Info("holiday feeds refreshed", "feeds", parsed, "failed", len(errs), "days", len(res.Days))
	return nil
}
