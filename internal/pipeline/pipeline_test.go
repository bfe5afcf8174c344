package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/friendsofgo/errors"

	"palmcal/internal/appt"
	"palmcal/internal/ics"
	"palmcal/internal/model"
	"palmcal/internal/store"
)

const feed = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//palmcal//test//EN
BEGIN:VEVENT
UID:weekly
SUMMARY:Standup
DTSTART:20240305T090000Z
DTEND:20240305T091500Z
RRULE:FREQ=WEEKLY;BYDAY=TU
END:VEVENT
BEGIN:VEVENT
UID:weekly
RECURRENCE-ID:20240312T090000Z
SUMMARY:Standup (late)
DTSTART:20240312T110000Z
DTEND:20240312T111500Z
END:VEVENT
BEGIN:VEVENT
UID:hourly
SUMMARY:Ping
DTSTART:20240305T090000Z
DTEND:20240305T090500Z
RRULE:FREQ=HOURLY
END:VEVENT
BEGIN:VEVENT
UID:broken
SUMMARY:No start
DTEND:20240305T090500Z
END:VEVENT
BEGIN:VEVENT
UID:old
SUMMARY:Ancient
DTSTART:20100101T090000Z
DTEND:20100101T100000Z
END:VEVENT
END:VCALENDAR
`

type recordingTarget struct {
	calls   int
	merge   bool
	records []model.AppointmentRecord
	err     error
}

func (r *recordingTarget) Transfer(_ context.Context, records []model.AppointmentRecord, merge bool) (store.TransferStats, error) {
	r.calls++
	r.merge = merge
	r.records = records
	if r.err != nil {
		return store.TransferStats{}, r.err
	}
	return store.TransferStats{Inserted: len(records)}, nil
}

func writeFeed(t *testing.T, body string) ics.Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.ics")
	data := strings.ReplaceAll(strings.TrimLeft(body, "\n"), "\n", "\r\n")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	return ics.Source{ID: "test", URL: path}
}

func testOptions(src ics.Source) Options {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return Options{
		Source:    src,
		Location:  time.UTC,
		Alarms:    true,
		Merge:     true,
		Retention: appt.Retention{CutoffYear: 2020, RetentionDays: 365, Now: func() time.Time { return now }},
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	src := writeFeed(t, feed)
	target := &recordingTarget{}
	s := New(ics.NewFetcher(ics.FetcherOptions{CacheDir: t.TempDir()}), target, testOptions(src))

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.RunID == "" || res.FinishedAt.Before(res.StartedAt) {
		t.Fatalf("run metadata missing: %+v", res)
	}
	want := appt.Stats{Events: 5, New: 3, Overrides: 1, Malformed: 1, Degraded: 1, Expired: 1}
	if res.Events != want {
		t.Fatalf("unexpected stats: %+v, want %+v", res.Events, want)
	}
	if res.Kept != 2 || res.Transfer.Inserted != 2 {
		t.Fatalf("unexpected kept/transfer: %+v", res)
	}
	if target.calls != 1 || !target.merge {
		t.Fatalf("unexpected target use: %+v", target)
	}

	series := target.records[0]
	if series.RepeatType != model.RepeatWeekly || len(series.Exceptions) != 1 ||
		!series.Exceptions[0].Equal(time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("series not built as expected: %+v", series)
	}
	if target.records[1].Description != "Standup (late)" {
		t.Fatalf("override not transferred: %+v", target.records[1])
	}
	for _, rec := range target.records {
		if rec.Description == "Ping" {
			t.Fatalf("series with unsupported rule was transferred: %+v", rec)
		}
	}
}

func TestRun_DryRun(t *testing.T) {
	t.Parallel()

	opts := testOptions(writeFeed(t, feed))
	opts.DryRun = true
	target := &recordingTarget{}

	res, err := New(ics.NewFetcher(ics.FetcherOptions{CacheDir: t.TempDir()}), target, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !res.DryRun || res.Kept != 2 || target.calls != 0 {
		t.Fatalf("dry run transferred: %+v %+v", res, target)
	}
}

func TestRun_Failures(t *testing.T) {
	t.Parallel()

	fetcher := ics.NewFetcher(ics.FetcherOptions{CacheDir: t.TempDir()})

	t.Run("missing feed", func(t *testing.T) {
		t.Parallel()
		opts := testOptions(ics.Source{ID: "gone", URL: filepath.Join(t.TempDir(), "gone.ics")})
		res, err := New(fetcher, &recordingTarget{}, opts).Run(context.Background())
		if err == nil || res.Error == "" {
			t.Fatalf("expected fetch error, got %v / %+v", err, res)
		}
	})

	t.Run("empty feed", func(t *testing.T) {
		t.Parallel()
		opts := testOptions(writeFeed(t, " "))
		_, err := New(fetcher, &recordingTarget{}, opts).Run(context.Background())
		if !errors.Is(err, ics.ErrFeedDecode) {
			t.Fatalf("expected ErrFeedDecode, got %v", err)
		}
	})

	t.Run("transfer", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("device unplugged")
		opts := testOptions(writeFeed(t, feed))
		_, err := New(fetcher, &recordingTarget{err: boom}, opts).Run(context.Background())
		if !errors.Is(err, boom) {
			t.Fatalf("expected transfer error, got %v", err)
		}
	})
}

func TestRun_IntoStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("store.Open returned error: %v", err)
	}
	defer db.Close()

	s := New(ics.NewFetcher(ics.FetcherOptions{CacheDir: t.TempDir()}), db, testOptions(writeFeed(t, feed)))
	for i := 0; i < 2; i++ {
		if _, err := s.Run(ctx); err != nil {
			t.Fatalf("Run %d returned error: %v", i, err)
		}
	}
	n, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if n != 2 {
		t.Fatalf("merge sync not idempotent: %d rows", n)
	}
}
