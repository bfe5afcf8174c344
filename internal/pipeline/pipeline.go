// Package pipeline runs one calendar sync: fetch the feed, decode it,
// build and merge appointments, and transfer the kept ones.
package pipeline

import (
	"context"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/google/uuid"

	"palmcal/internal/appt"
	"palmcal/internal/config"
	"palmcal/internal/ics"
	appLog "palmcal/internal/log"
	"palmcal/internal/model"
	"palmcal/internal/store"
)

// Fetcher returns the raw feed.
type Fetcher interface {
	Fetch(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Target receives the appointments of a run.
type Target interface {
	Transfer(ctx context.Context, records []model.AppointmentRecord, merge bool) (store.TransferStats, error)
}

// Options control a sync run.
type Options struct {
	Source    ics.Source
	Location  *time.Location
	Alarms    bool
	SkipNotes bool
	Merge     bool
	DryRun    bool
	Retention appt.Retention
}

// OptionsFromConfig derives run options from a validated config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Source:    ics.Source{ID: cfg.Feed.ID, URL: cfg.Feed.URL},
		Location:  loc,
		Alarms:    cfg.Alarms,
		SkipNotes: cfg.SkipNotes,
		Merge:     cfg.Merge,
		Retention: appt.Retention{CutoffYear: cfg.CutoffYear, RetentionDays: cfg.RetentionDays},
	}, nil
}

// Result summarizes a finished run.
type Result struct {
	RunID      string              `json:"run_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	FromCache  bool                `json:"from_cache"`
	DryRun     bool                `json:"dry_run"`
	Merge      bool                `json:"merge"`
	Events     appt.Stats          `json:"events"`
	Kept       int                 `json:"kept"`
	Transfer   store.TransferStats `json:"transfer"`
	Error      string              `json:"error,omitempty"`
}

// Syncer runs syncs with fixed collaborators.
type Syncer struct {
	fetcher Fetcher
	target  Target
	opts    Options
}

// New returns a Syncer. target may be nil for dry runs.
func New(fetcher Fetcher, target Target, opts Options) *Syncer {
	return &Syncer{fetcher: fetcher, target: target, opts: opts}
}

// Run performs one sync. Per-event problems are counted in the result;
// only fetch, decode and transfer failures are returned as errors.
func (s *Syncer) Run(ctx context.Context) (Result, error) {
	res := Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		DryRun:    s.opts.DryRun,
		Merge:     s.opts.Merge,
	}
	err := s.run(ctx, &res)
	res.FinishedAt = time.Now().UTC()
	if err != nil {
		res.Error = err.Error()
		appLog.Error("sync failed", err, "run_id", res.RunID)
		return res, err
	}
	appLog.Info("sync completed",
		"run_id", res.RunID,
		"events", res.Events.Events,
		"appointments", res.Events.New+res.Events.Overrides,
		"kept", res.Kept,
		"merged", res.Events.Merged,
		"degraded", res.Events.Degraded,
		"malformed", res.Events.Malformed,
		"dry_run", res.DryRun,
		"took", res.FinishedAt.Sub(res.StartedAt).String(),
	)
	return res, nil
}

func (s *Syncer) run(ctx context.Context, res *Result) error {
	appLog.Info("sync start", "run_id", res.RunID, "feed", s.opts.Source.ID, "merge", s.opts.Merge, "dry_run", s.opts.DryRun)

	fetched, err := s.fetcher.Fetch(ctx, s.opts.Source)
	if err != nil {
		return errors.Wrap(err, "fetch feed")
	}
	res.FromCache = fetched.FromCache

	events, err := ics.Decoder{Floating: s.opts.Location}.Decode(s.opts.Source, fetched.Body)
	if err != nil {
		return err
	}

	merger := appt.NewMerger(appt.Options{
		Alarms:     s.opts.Alarms,
		SkipNotes:  s.opts.SkipNotes,
		Normalizer: appt.NewNormalizer(s.opts.Location),
	}, s.opts.Retention)
	res.Events = merger.AddAll(events)

	records := merger.Kept()
	res.Kept = len(records)

	if s.opts.DryRun {
		for _, rec := range records {
			appLog.Info("dry run appointment",
				"run_id", res.RunID,
				"description", rec.Description,
				"start", appt.DescribeDate(rec.Start),
				"repeat", appt.DescribeRepeat(rec),
			)
		}
		return nil
	}
	if s.target == nil {
		return errors.New("no transfer target configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res.Transfer, err = s.target.Transfer(ctx, records, s.opts.Merge)
	if err != nil {
		return errors.Wrap(err, "transfer appointments")
	}
	return nil
}
