package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/model"
)

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//eventcal//test//EN
BEGIN:VEVENT
UID:single-1
DTSTAMP:20260301T000000Z
DTSTART:20260310T090000Z
DTEND:20260310T100000Z
SUMMARY:Quarterly review
LOCATION:Room 4
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20260301T000000Z
DTSTART:20260302T140000Z
DTEND:20260302T150000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20260316T140000Z
SUMMARY:Weekly sync
END:VEVENT
BEGIN:VEVENT
UID:weekly-1
DTSTAMP:20260301T000000Z
RECURRENCE-ID:20260309T140000Z
DTSTART:20260309T160000Z
DTEND:20260309T170000Z
SUMMARY:Weekly sync (moved)
END:VEVENT
BEGIN:VEVENT
UID:allday-1
DTSTAMP:20260301T000000Z
DTSTART;VALUE=DATE:20260320
DTEND;VALUE=DATE:20260321
SUMMARY:Holiday
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20260301T000000Z
DTSTART:20260311T090000Z
SUMMARY:No UID
END:VEVENT
END:VCALENDAR
`

var (
	march = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	april = time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	src   = Source{ID: "home", URL: "file:///tmp/home.ics"}
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func byID(events []model.Event) map[string]model.Event {
	out := make(map[string]model.Event, len(events))
	for _, ev := range events {
		out[ev.ID] = ev
	}
	return out
}

func TestParseICS(t *testing.T) {
	events, err := ParseICS(src, crlf(sampleICS))
	require.NoError(t, err)
	// The VEVENT without a UID is skipped.
	require.Len(t, events, 4)

	single := events[0]
	assert.Equal(t, "single-1", single.UID)
	assert.Equal(t, "Quarterly review", single.Summary)
	assert.Equal(t, "Room 4", single.Location)
	assert.False(t, single.AllDay)
	assert.True(t, single.Start.Equal(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)))

	weekly := events[1]
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", weekly.RawRRule)
	require.Len(t, weekly.ExDates, 1)
	assert.True(t, weekly.ExDates[0].Equal(time.Date(2026, time.March, 16, 14, 0, 0, 0, time.UTC)))

	override := events[2]
	assert.True(t, override.IsOverride)
	require.NotNil(t, override.Recurrence)

	assert.True(t, events[3].AllDay)
}

func TestParseICSEmpty(t *testing.T) {
	_, err := ParseICS(src, nil)
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	parsed, err := ParseICS(src, crlf(sampleICS))
	require.NoError(t, err)

	res, err := Expand(parsed, ExpandConfig{DisplayLocation: time.UTC, RangeStart: march, RangeEnd: april})
	require.NoError(t, err)
	assert.Empty(t, res.TruncatedEvents)

	events := byID(res.Events)
	require.Len(t, events, 5)

	single := events["single-1"]
	assert.False(t, single.Recurring)
	assert.Equal(t, "home", single.SourceID)

	first := events[InstanceID("weekly-1", time.Date(2026, time.March, 2, 14, 0, 0, 0, time.UTC))]
	assert.True(t, first.Recurring)
	assert.Equal(t, "Weekly sync", first.Title)

	moved := events[InstanceID("weekly-1", time.Date(2026, time.March, 9, 14, 0, 0, 0, time.UTC))]
	assert.Equal(t, "Weekly sync (moved)", moved.Title)
	assert.Equal(t, 16, moved.Start.Hour())

	_, excluded := events[InstanceID("weekly-1", time.Date(2026, time.March, 16, 14, 0, 0, 0, time.UTC))]
	assert.False(t, excluded)

	_, ok := events["allday-1"]
	assert.True(t, ok)
}

func TestExpandRangeAndCap(t *testing.T) {
	parsed, err := ParseICS(src, crlf(sampleICS))
	require.NoError(t, err)

	_, err = Expand(parsed, ExpandConfig{RangeStart: april, RangeEnd: march})
	assert.Error(t, err)

	res, err := Expand(parsed, ExpandConfig{
		DisplayLocation:        time.UTC,
		RangeStart:             march,
		RangeEnd:               april,
		MaxOccurrencesPerEvent: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"weekly-1"}, res.TruncatedEvents)

	// Only the second week falls in this window.
	res, err = Expand(parsed, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2026, time.March, 8, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "Weekly sync (moved)", res.Events[0].Title)
}

func writeFeed(t *testing.T) Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "home.ics")
	require.NoError(t, os.WriteFile(path, crlf(sampleICS), 0o600))
	return Source{ID: "home", URL: path}
}

func TestFeedStoreOverlay(t *testing.T) {
	store := NewFeedStore(NewFetcher(t.TempDir()), []Source{writeFeed(t)}, time.UTC)
	ctx := context.Background()

	events, err := store.FetchEvents(ctx, march, april)
	require.NoError(t, err)
	require.Len(t, events, 5)

	edited := byID(events)["single-1"]
	edited.Title = "Quarterly review (edited)"
	require.NoError(t, store.Save(ctx, edited))

	added := model.Event{ID: "local-1", Title: "Dentist", Start: time.Date(2026, time.March, 12, 8, 0, 0, 0, time.UTC)}
	require.NoError(t, store.Save(ctx, added))

	require.NoError(t, store.Remove(ctx, []model.Event{byID(events)["allday-1"]}))

	events, err = store.FetchEvents(ctx, march, april)
	require.NoError(t, err)
	got := byID(events)
	assert.Len(t, got, 5)
	assert.Equal(t, "Quarterly review (edited)", got["single-1"].Title)
	assert.Contains(t, got, "local-1")
	assert.NotContains(t, got, "allday-1")

	// Local events outside the window are not returned.
	events, err = store.FetchEvents(ctx, april, april.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Empty(t, events)

	assert.Error(t, store.Save(ctx, model.Event{Title: "no id"}))
}

func TestFeedStoreLocalEventsOrderedByID(t *testing.T) {
	store := NewFeedStore(NewFetcher(t.TempDir()), []Source{writeFeed(t)}, time.UTC)
	ctx := context.Background()

	start := time.Date(2026, time.March, 25, 8, 0, 0, 0, time.UTC)
	for _, id := range []string{"local-c", "local-a", "local-d", "local-b"} {
		require.NoError(t, store.Save(ctx, model.Event{ID: id, Title: id, Start: start, End: start.Add(time.Hour)}))
	}

	for i := 0; i < 5; i++ {
		events, err := store.FetchEvents(ctx, march, april)
		require.NoError(t, err)
		require.Len(t, events, 9)

		ids := make([]string, 0, 4)
		for _, ev := range events[5:] {
			ids = append(ids, ev.ID)
		}
		assert.Equal(t, []string{"local-a", "local-b", "local-c", "local-d"}, ids)
	}
}

func TestFeedStoreAllSourcesFailing(t *testing.T) {
	missing := Source{ID: "gone", URL: filepath.Join(t.TempDir(), "missing.ics")}
	store := NewFeedStore(NewFetcher(t.TempDir()), []Source{missing}, time.UTC)

	_, err := store.FetchEvents(context.Background(), march, april)
	assert.Error(t, err)
}

func TestFetcherUsesETagCache(t *testing.T) {
	var hits, notModified int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			atomic.AddInt32(&notModified, 1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(crlf(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	feed := Source{ID: "remote", URL: srv.URL + "/private/feed.ics?token=secret"}

	first, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.False(t, first.FromCache())
	assert.Equal(t, StatusFresh, first.Status)

	second, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, second.FromCache())
	assert.Equal(t, StatusNotModified, second.Status)
	assert.Equal(t, first.Body, second.Body)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&notModified))
}

func TestFetcherFallsBackToCacheOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write(crlf(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	feed := Source{ID: "remote", URL: srv.URL + "/feed.ics"}

	_, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.Equal(t, StatusStale, res.Status)

	_, err = NewFetcher(t.TempDir()).FetchOne(context.Background(), feed)
	assert.Error(t, err)
}

func TestFetcherIgnoresCorruptCache(t *testing.T) {
	var conditional atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			conditional.Store(true)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(crlf(sampleICS))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(dir)
	feed := Source{ID: "remote", URL: srv.URL + "/feed.ics"}

	_, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)

	body := filepath.Join(f.cache.entryDir(feed.URL), cacheBodyFile)
	require.NoError(t, os.WriteFile(body, []byte("truncated"), 0o600))

	_, ok, err := f.cache.load(feed.URL)
	assert.ErrorIs(t, err, errCacheCorrupt)
	assert.False(t, ok)

	// Without a trusted body the fetcher must not ask for a 304.
	res, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.False(t, conditional.Load())
	assert.Equal(t, StatusFresh, res.Status)

	_, ok, err = f.cache.load(feed.URL)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFetcherOptions(t *testing.T) {
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		_, _ = w.Write(crlf(sampleICS))
	}))
	defer srv.Close()

	feed := Source{ID: "remote", URL: srv.URL + "/feed.ics"}

	f := NewFetcher(t.TempDir(), WithUserAgent("wallcal/2"), WithHTTPClient(srv.Client()))
	_, err := f.FetchOne(context.Background(), feed)
	require.NoError(t, err)
	assert.Equal(t, "wallcal/2", agent.Load())

	_, err = NewFetcher(t.TempDir(), WithMaxFeedBytes(64)).FetchOne(context.Background(), feed)
	assert.ErrorContains(t, err, "larger than 64 bytes")
}

func TestFetchAllStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, errs := NewFetcher(t.TempDir()).FetchAll(ctx, []Source{writeFeed(t), writeFeed(t)})
	assert.Empty(t, results)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestFetchLocalStatus(t *testing.T) {
	res, err := NewFetcher(t.TempDir()).FetchOne(context.Background(), writeFeed(t))
	require.NoError(t, err)
	assert.Equal(t, StatusLocal, res.Status)
	assert.False(t, res.FromCache())
	assert.Equal(t, "local", res.Status.String())
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/path/private.ics?token=abcd"))
	assert.Equal(t, "ics://...(redacted)", redactURL("/var/lib/feed.ics"))
}

func TestLocalPath(t *testing.T) {
	p, ok := localPath("file:///var/lib/eventcal/home.ics")
	assert.True(t, ok)
	assert.Equal(t, "/var/lib/eventcal/home.ics", p)

	_, ok = localPath("https://example.com/a.ics")
	assert.False(t, ok)

	p, ok = localPath("./home.ics")
	assert.True(t, ok)
	assert.Equal(t, "./home.ics", p)
}
