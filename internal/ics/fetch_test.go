package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/model"
)

// feedServer serves holidayFeed with an ETag, answering 304 to a matching
// If-None-Match and 500 while down is set.
func feedServer(t *testing.T, down *atomic.Bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write(holidayFeed)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchUsesConditionalRequests(t *testing.T) {
	var down atomic.Bool
	var hits atomic.Int32
	srv := feedServer(t, &down, &hits)
	f := NewFetcher(t.TempDir(), srv.Client())
	feed := Feed{ID: "us", URL: srv.URL + "/us.ics"}

	first, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, holidayFeed, first.Body)

	second, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, holidayFeed, second.Body)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchFallsBackToCache(t *testing.T) {
	var down atomic.Bool
	var hits atomic.Int32
	srv := feedServer(t, &down, &hits)
	dir := t.TempDir()
	feed := Feed{ID: "us", URL: srv.URL + "/us.ics"}

	_, err := NewFetcher(dir, srv.Client()).Fetch(context.Background(), feed)
	require.NoError(t, err)

	down.Store(true)
	res, err := NewFetcher(dir, srv.Client()).Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	_, err = NewFetcher(t.TempDir(), srv.Client()).Fetch(context.Background(), feed)
	assert.Error(t, err, "no cache to fall back to")
}

func TestFetchAllReportsFailures(t *testing.T) {
	var down atomic.Bool
	var hits atomic.Int32
	srv := feedServer(t, &down, &hits)
	f := NewFetcher(t.TempDir(), srv.Client())

	results, errs := f.FetchAll(context.Background(), []Feed{
		{ID: "ok", URL: srv.URL + "/a.ics"},
		{ID: "empty"},
	})
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Feed.ID)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "feed empty")
}

func TestFeedSetRefresh(t *testing.T) {
	var down atomic.Bool
	var hits atomic.Int32
	srv := feedServer(t, &down, &hits)

	set := NewFeedSet(NewFetcher(t.TempDir(), srv.Client()), []Feed{{ID: "us", URL: srv.URL}}, 0)
	set.now = func() time.Time { return time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC) }
	assert.Zero(t, set.Holidays().Len())

	require.NoError(t, set.Refresh(context.Background()))
	h := set.Holidays()
	assert.True(t, h.Contains(model.MustDate("2026-12-25")))
	assert.Equal(t, "New Year", h.Name(model.MustDate("2026-01-01")))
	assert.False(t, set.Refreshed().IsZero())
}

func TestFeedSetKeepsPreviousSetWhenAllFeedsFail(t *testing.T) {
	var down atomic.Bool
	var hits atomic.Int32
	srv := feedServer(t, &down, &hits)
	set := NewFeedSet(NewFetcher(t.TempDir(), srv.Client()), []Feed{{ID: "us", URL: srv.URL}}, 30)
	set.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, set.Refresh(context.Background()))
	before := set.Holidays().Len()
	require.NotZero(t, before)

	other := NewFeedSet(NewFetcher(t.TempDir(), srv.Client()), []Feed{{ID: "us", URL: srv.URL}}, 30)
	down.Store(true)
	assert.Error(t, other.Refresh(context.Background()))
	assert.Zero(t, other.Holidays().Len())
	assert.Equal(t, before, set.Holidays().Len())
}

func TestFeedSetWithoutFeeds(t *testing.T) {
	set := NewFeedSet(NewFetcher(t.TempDir(), nil), nil, 0)
	assert.NoError(t, set.Refresh(context.Background()))
	assert.Zero(t, set.Holidays().Len())
}
