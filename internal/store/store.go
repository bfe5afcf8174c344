// Package store keeps a SQLite mirror of the device datebook. It is the
// transfer target of a sync run and the data source of the status API.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"palmcal/internal/datebook"
	appLog "palmcal/internal/log"
	"palmcal/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS appointments (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	description       TEXT    NOT NULL DEFAULT '',
	note              TEXT    NOT NULL DEFAULT '',
	start_at          TEXT    NOT NULL,
	end_at            TEXT    NOT NULL,
	all_day           INTEGER NOT NULL DEFAULT 0,
	alarm             INTEGER NOT NULL DEFAULT 0,
	alarm_advance     INTEGER NOT NULL DEFAULT 0,
	repeat_type       INTEGER NOT NULL DEFAULT 0,
	repeat_forever    INTEGER NOT NULL DEFAULT 0,
	repeat_end        TEXT    NOT NULL DEFAULT '',
	repeat_interval   INTEGER NOT NULL DEFAULT 0,
	repeat_days       INTEGER NOT NULL DEFAULT 0,
	repeat_week_start INTEGER NOT NULL DEFAULT 0,
	repeat_day        INTEGER NOT NULL DEFAULT 0,
	exceptions        TEXT    NOT NULL DEFAULT '',
	record            BLOB    NOT NULL,
	updated_at        TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS appointments_match ON appointments (description, start_at, end_at);
`

const stampLayout = "2006-01-02T15:04:05Z"

// row is the table representation of an appointment.
type row struct {
	ID              int64  `db:"id"`
	Description     string `db:"description"`
	Note            string `db:"note"`
	StartAt         string `db:"start_at"`
	EndAt           string `db:"end_at"`
	AllDay          bool   `db:"all_day"`
	Alarm           bool   `db:"alarm"`
	AlarmAdvance    int    `db:"alarm_advance"`
	RepeatType      int    `db:"repeat_type"`
	RepeatForever   bool   `db:"repeat_forever"`
	RepeatEnd       string `db:"repeat_end"`
	RepeatInterval  int    `db:"repeat_interval"`
	RepeatDays      int    `db:"repeat_days"`
	RepeatWeekStart int    `db:"repeat_week_start"`
	RepeatDay       int    `db:"repeat_day"`
	Exceptions      string `db:"exceptions"`
	Record          []byte `db:"record"`
	UpdatedAt       string `db:"updated_at"`
}

// TransferStats summarizes one Transfer call.
type TransferStats struct {
	Deleted  int `json:"deleted"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Store is a SQLite-backed datebook mirror.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (creating if needed) the datebook at path. ":memory:" gives a
// private in-memory datebook.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: datebook path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.Wrap(err, "store: create datebook dir")
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "store: open datebook")
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: set busy timeout")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: create schema")
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Transfer writes records into the datebook in one transaction. Without
// merge the datebook is emptied first. With merge a record replaces the
// first row that has the same description, start and end; otherwise it is
// inserted. Records the datebook format cannot hold are skipped.
func (s *Store) Transfer(ctx context.Context, records []model.AppointmentRecord, merge bool) (TransferStats, error) {
	var stats TransferStats

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return stats, errors.Wrap(err, "store: begin transfer")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if !merge {
		res, err := tx.ExecContext(ctx, "DELETE FROM appointments")
		if err != nil {
			return stats, errors.Wrap(err, "store: clear datebook")
		}
		n, _ := res.RowsAffected()
		stats.Deleted = int(n)
	}

	stamp := s.now().UTC().Format(stampLayout)
	for _, rec := range records {
		r, err := toRow(rec)
		if err != nil {
			stats.Skipped++
			appLog.Warn("appointment cannot be stored in datebook format",
				"summary", rec.Description,
				"start", rec.Start.Format(time.DateOnly),
				"reason", err.Error(),
			)
			continue
		}
		r.UpdatedAt = stamp

		if merge {
			var id int64
			err := tx.GetContext(ctx, &id,
				"SELECT id FROM appointments WHERE description = ? AND start_at = ? AND end_at = ? ORDER BY id LIMIT 1",
				r.Description, r.StartAt, r.EndAt)
			switch {
			case err == nil:
				r.ID = id
				if _, err := tx.NamedExecContext(ctx, updateRow, r); err != nil {
					return stats, errors.Wrap(err, "store: update appointment")
				}
				stats.Updated++
				continue
			case !errors.Is(err, sql.ErrNoRows):
				return stats, errors.Wrap(err, "store: match appointment")
			}
		}

		if _, err := tx.NamedExecContext(ctx, insertRow, r); err != nil {
			return stats, errors.Wrap(err, "store: insert appointment")
		}
		stats.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return stats, errors.Wrap(err, "store: commit transfer")
	}
	appLog.Info("datebook transfer completed",
		"merge", merge,
		"deleted", stats.Deleted,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

const insertRow = `
INSERT INTO appointments (
	description, note, start_at, end_at, all_day, alarm, alarm_advance,
	repeat_type, repeat_forever, repeat_end, repeat_interval, repeat_days,
	repeat_week_start, repeat_day, exceptions, record, updated_at
) VALUES (
	:description, :note, :start_at, :end_at, :all_day, :alarm, :alarm_advance,
	:repeat_type, :repeat_forever, :repeat_end, :repeat_interval, :repeat_days,
	:repeat_week_start, :repeat_day, :exceptions, :record, :updated_at
)`

const updateRow = `
UPDATE appointments SET
	note = :note, all_day = :all_day, alarm = :alarm, alarm_advance = :alarm_advance,
	repeat_type = :repeat_type, repeat_forever = :repeat_forever, repeat_end = :repeat_end,
	repeat_interval = :repeat_interval, repeat_days = :repeat_days,
	repeat_week_start = :repeat_week_start, repeat_day = :repeat_day,
	exceptions = :exceptions, record = :record, updated_at = :updated_at
WHERE id = :id`

// List returns every stored appointment ordered by start.
func (s *Store) List(ctx context.Context) ([]model.AppointmentRecord, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM appointments ORDER BY start_at, id"); err != nil {
		return nil, errors.Wrap(err, "store: list appointments")
	}
	out := make([]model.AppointmentRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := fromRow(r)
		if err != nil {
			return nil, errors.Wrapf(err, "store: decode appointment %d", r.ID)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of stored appointments.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM appointments"); err != nil {
		return 0, errors.Wrap(err, "store: count appointments")
	}
	return n, nil
}

func toRow(rec model.AppointmentRecord) (row, error) {
	packed, err := datebook.Pack(rec)
	if err != nil {
		return row{}, err
	}

	r := row{
		Description:     rec.Description,
		Note:            rec.Note,
		StartAt:         rec.Start.UTC().Format(stampLayout),
		EndAt:           rec.End.UTC().Format(stampLayout),
		AllDay:          rec.AllDay,
		Alarm:           rec.Alarm,
		AlarmAdvance:    rec.AlarmAdvance,
		RepeatType:      int(rec.RepeatType),
		RepeatForever:   rec.RepeatForever,
		RepeatInterval:  rec.RepeatInterval,
		RepeatWeekStart: rec.RepeatWeekStart,
		RepeatDay:       rec.RepeatDay,
		Record:          packed,
	}
	if !rec.RepeatEnd.IsZero() {
		r.RepeatEnd = rec.RepeatEnd.UTC().Format(stampLayout)
	}
	for i, set := range rec.RepeatDays {
		if set {
			r.RepeatDays |= 1 << i
		}
	}
	dates := make([]string, len(rec.Exceptions))
	for i, ex := range rec.Exceptions {
		dates[i] = ex.Format(time.DateOnly)
	}
	r.Exceptions = strings.Join(dates, ",")
	return r, nil
}

func fromRow(r row) (model.AppointmentRecord, error) {
	rec := model.AppointmentRecord{
		Description:     r.Description,
		Note:            r.Note,
		AllDay:          r.AllDay,
		Alarm:           r.Alarm,
		AlarmAdvance:    r.AlarmAdvance,
		RepeatType:      model.RepeatType(r.RepeatType),
		RepeatForever:   r.RepeatForever,
		RepeatInterval:  r.RepeatInterval,
		RepeatWeekStart: r.RepeatWeekStart,
		RepeatDay:       r.RepeatDay,
	}

	var err error
	if rec.Start, err = time.Parse(stampLayout, r.StartAt); err != nil {
		return rec, err
	}
	if rec.End, err = time.Parse(stampLayout, r.EndAt); err != nil {
		return rec, err
	}
	if r.RepeatEnd != "" {
		if rec.RepeatEnd, err = time.Parse(stampLayout, r.RepeatEnd); err != nil {
			return rec, err
		}
	}
	for i := range rec.RepeatDays {
		rec.RepeatDays[i] = r.RepeatDays&(1<<i) != 0
	}
	if r.Exceptions != "" {
		for _, d := range strings.Split(r.Exceptions, ",") {
			t, err := time.Parse(time.DateOnly, d)
			if err != nil {
				return rec, err
			}
			rec.Exceptions = append(rec.Exceptions, t)
		}
	}
	return rec, nil
}
